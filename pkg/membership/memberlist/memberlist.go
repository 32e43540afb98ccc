// Package memberlist is the gossip failure detector behind the embedded
// store's member health. Each replica runs one Detector; a peer that the
// detector has not declared dead counts as healthy.
package memberlist

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"
    "github.com/hashicorp/memberlist"

    base "github.com/amirimatin/replprobe/pkg/membership"
)

// MetaSet is the metadata key carrying the replica set name.
const MetaSet = "set"

// ErrForeignSet rejects a peer gossiping for another replica set.
var ErrForeignSet = errors.New("memberlist: peer belongs to another replica set")

// Options configures a Detector. Zero tuning values keep memberlist's LAN
// defaults.
type Options struct {
    NodeID string
    // SetName is advertised to peers; peers advertising a different set are
    // refused at join time. Empty accepts everyone.
    SetName string
    // Bind is host:port; the default "127.0.0.1:0" picks a free port.
    Bind   string
    Logger hclog.Logger

    ProbeInterval  time.Duration
    ProbeTimeout   time.Duration
    GossipInterval time.Duration
    SuspicionMult  int
}

func (o *Options) setDefaults() {
    if o.Bind == "" { o.Bind = "127.0.0.1:0" }
    if o.Logger == nil { o.Logger = hclog.NewNullLogger() }
}

// Detector implements base.Membership. Besides the memberlist view it keeps
// the time each peer was last declared dead, so callers can tell a member
// that never joined from one that failed.
type Detector struct {
    mu     sync.RWMutex
    opts   Options
    ml     *memberlist.Memberlist
    evts   chan base.Event
    failed map[string]time.Time
    closed bool
}

// New validates opts; Start launches gossip.
func New(opts Options) (*Detector, error) {
    if opts.NodeID == "" { return nil, errors.New("memberlist: empty NodeID") }
    opts.setDefaults()
    return &Detector{opts: opts, evts: make(chan base.Event, 64), failed: map[string]time.Time{}}, nil
}

func (d *Detector) config() (*memberlist.Config, error) {
    host, portStr, err := net.SplitHostPort(d.opts.Bind)
    if err != nil { return nil, fmt.Errorf("memberlist: invalid bind address %q: %w", d.opts.Bind, err) }
    port, err := strconv.Atoi(portStr)
    if err != nil || port < 0 || port > 65535 { return nil, fmt.Errorf("memberlist: invalid port %q", portStr) }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = d.opts.NodeID
    cfg.BindAddr, cfg.BindPort = host, port
    cfg.AdvertiseAddr, cfg.AdvertisePort = host, port
    if d.opts.ProbeInterval > 0 { cfg.ProbeInterval = d.opts.ProbeInterval }
    if d.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = d.opts.ProbeTimeout }
    if d.opts.GossipInterval > 0 { cfg.GossipInterval = d.opts.GossipInterval }
    if d.opts.SuspicionMult > 0 { cfg.SuspicionMult = d.opts.SuspicionMult }
    cfg.Logger = d.opts.Logger.Named("gossip").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})

    meta, err := json.Marshal(map[string]string{MetaSet: d.opts.SetName})
    if err != nil { return nil, err }
    cfg.Delegate = metaDelegate(meta)
    cfg.Events = &events{d: d}
    cfg.Alive = setFilter(d.opts.SetName)
    return cfg, nil
}

// Start creates the memberlist instance. It is a no-op once started.
func (d *Detector) Start(context.Context) error {
    d.mu.Lock()
    defer d.mu.Unlock()
    if d.closed { return errors.New("memberlist: stopped") }
    if d.ml != nil { return nil }
    cfg, err := d.config()
    if err != nil { return err }
    ml, err := memberlist.Create(cfg)
    if err != nil { return fmt.Errorf("memberlist: create %s: %w", d.opts.NodeID, err) }
    d.ml = ml
    return nil
}

func (d *Detector) list() *memberlist.Memberlist {
    d.mu.RLock()
    defer d.mu.RUnlock()
    return d.ml
}

// Join contacts seeds; an empty list is a no-op.
func (d *Detector) Join(seeds []string) error {
    ml := d.list()
    if ml == nil { return errors.New("memberlist: not started") }
    if len(seeds) == 0 { return nil }
    _, err := ml.Join(seeds)
    return err
}

func (d *Detector) Local() base.MemberInfo {
    ml := d.list()
    if ml == nil { return base.MemberInfo{} }
    return toInfo(ml.LocalNode())
}

// Members lists the peers not declared dead, including suspects.
func (d *Detector) Members() []base.MemberInfo {
    ml := d.list()
    if ml == nil { return nil }
    nodes := ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes { out = append(out, toInfo(n)) }
    return out
}

// Alive reports whether id is currently in the live view.
func (d *Detector) Alive(id string) bool {
    ml := d.list()
    if ml == nil { return false }
    for _, n := range ml.Members() {
        if n.Name == id { return n.State != memberlist.StateDead && n.State != memberlist.StateLeft }
    }
    return false
}

// FailedAt returns when id was last declared dead.
func (d *Detector) FailedAt(id string) (time.Time, bool) {
    d.mu.RLock()
    defer d.mu.RUnlock()
    at, ok := d.failed[id]
    return at, ok
}

func (d *Detector) Events() <-chan base.Event { return d.evts }

func (d *Detector) Leave() error {
    ml := d.list()
    if ml == nil { return nil }
    return ml.Leave(time.Second)
}

// Stop shuts gossip down outside the lock, since delegates still running
// call back into emit.
func (d *Detector) Stop() error {
    d.mu.Lock()
    if d.closed {
        d.mu.Unlock()
        return nil
    }
    d.closed = true
    ml := d.ml
    d.ml = nil
    d.mu.Unlock()
    var err error
    if ml != nil { err = ml.Shutdown() }
    d.mu.Lock()
    close(d.evts)
    d.mu.Unlock()
    return err
}

func (d *Detector) emit(e base.Event) {
    d.mu.Lock()
    defer d.mu.Unlock()
    if d.closed { return }
    switch e.Type {
    case base.EventFailed:
        d.failed[e.Member.ID] = e.At
    case base.EventJoin:
        delete(d.failed, e.Member.ID)
    }
    select {
    case d.evts <- e:
    default:
        d.opts.Logger.Warn("dropping gossip event, channel full", "type", e.Type, "member", e.Member.ID)
    }
}

func toInfo(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &meta) }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

type events struct{ d *Detector }

func (e *events) NotifyJoin(n *memberlist.Node) {
    e.d.emit(base.Event{Type: base.EventJoin, Member: toInfo(n), At: time.Now()})
}

func (e *events) NotifyLeave(n *memberlist.Node) {
    typ := base.EventLeave
    if n.State == memberlist.StateDead { typ = base.EventFailed }
    e.d.emit(base.Event{Type: typ, Member: toInfo(n), At: time.Now()})
}

func (e *events) NotifyUpdate(*memberlist.Node) {}

// setFilter refuses peers whose advertised set differs from ours.
type setFilter string

func (f setFilter) NotifyAlive(peer *memberlist.Node) error {
    if f == "" { return nil }
    if set := toInfo(peer).Meta[MetaSet]; set != "" && set != string(f) {
        return fmt.Errorf("%w: %s advertises %q", ErrForeignSet, peer.Name, set)
    }
    return nil
}

// metaDelegate advertises the encoded metadata and ignores user messages.
type metaDelegate []byte

func (m metaDelegate) NodeMeta(limit int) []byte {
    if len(m) > limit { return nil }
    return m
}

func (metaDelegate) NotifyMsg([]byte)                  {}
func (metaDelegate) GetBroadcasts(int, int) [][]byte   { return nil }
func (metaDelegate) LocalState(bool) []byte            { return nil }
func (metaDelegate) MergeRemoteState([]byte, bool)     {}

var _ base.Membership = (*Detector)(nil)
