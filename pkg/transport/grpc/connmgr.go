package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"
)

// Dialer opens a client connection to a control plane address.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager keeps one connection per control plane address so repeated
// remote calls reuse it. Connections unused for ttl are closed.
type ConnManager struct {
    ttl  time.Duration
    dial Dialer

    mu    sync.Mutex
    conns map[string]*pooled

    stop chan struct{}
    once sync.Once
}

type pooled struct {
    cc    *grpc.ClientConn
    inUse int
    idle  time.Time
}

// NewConnManager starts the eviction loop; Close stops it.
func NewConnManager(ttl time.Duration, dial Dialer) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dial: dial, conns: map[string]*pooled{}, stop: make(chan struct{})}
    go m.loop()
    return m
}

// Get returns the connection for target and a func releasing it.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    p, ok := m.conns[target]
    if !ok {
        cc, err := m.dial(ctx, target)
        if err != nil { return nil, func() {}, err }
        p = &pooled{cc: cc}
        m.conns[target] = p
    }
    p.inUse++
    p.idle = time.Now()
    return p.cc, func() { m.release(target) }, nil
}

func (m *ConnManager) release(target string) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if p, ok := m.conns[target]; ok {
        if p.inUse > 0 { p.inUse-- }
        p.idle = time.Now()
    }
}

// Len reports how many addresses hold a connection.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

// Close closes every connection. It is safe to call more than once.
func (m *ConnManager) Close() {
    m.once.Do(func() { close(m.stop) })
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, p := range m.conns {
        _ = p.cc.Close()
        delete(m.conns, target)
    }
}

func (m *ConnManager) loop() {
    t := time.NewTicker(m.ttl / 2)
    defer t.Stop()
    for {
        select {
        case <-m.stop:
            return
        case now := <-t.C:
            m.evict(now.Add(-m.ttl))
        }
    }
}

// evict closes released connections idle since before cutoff.
func (m *ConnManager) evict(cutoff time.Time) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, p := range m.conns {
        if p.inUse == 0 && p.idle.Before(cutoff) {
            _ = p.cc.Close()
            delete(m.conns, target)
        }
    }
}
