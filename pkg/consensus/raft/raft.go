package raftcons

import (
    "context"
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"
    "github.com/hashicorp/raft"
    raftboltdb "github.com/hashicorp/raft-boltdb"
    "go.mongodb.org/mongo-driver/bson"

    c "github.com/amirimatin/replprobe/pkg/consensus"
    "github.com/amirimatin/replprobe/pkg/state/documents"
    "github.com/amirimatin/replprobe/pkg/store"
)

var ErrNotStarted = errors.New("raftcons: not started")

// Node implements consensus.Consensus using HashiCorp Raft over an
// in-memory transport. Peers are wired explicitly with Connect, which lets
// callers partition a node by disconnecting it. A stopped Node cannot be
// started again; LeaderCh is closed on Stop.
type Node struct {
    opts  Options
    log   hclog.Logger
    lch   chan c.LeaderInfo
    addr  raft.ServerAddress
    trans *raft.InmemTransport
    fsm   *documentFSM

    mu      sync.RWMutex
    r       *raft.Raft
    obs     *raft.Observer
    obsCh   chan raft.Observation
    closers []io.Closer
}

func New(opts Options) (*Node, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.setDefaults()
    if opts.Logger == nil {
        opts.Logger = hclog.New(&hclog.LoggerOptions{Name: "raft", Level: hclog.Warn, Output: os.Stderr})
    }
    addr, trans := raft.NewInmemTransport(raft.ServerAddress(opts.NodeID))
    return &Node{
        opts:  opts,
        log:   opts.Logger.Named(opts.NodeID),
        lch:   make(chan c.LeaderInfo, 16),
        addr:  addr,
        trans: trans,
        fsm:   newDocumentFSM(documents.New()),
    }, nil
}

func (n *Node) ID() string                { return n.opts.NodeID }
func (n *Node) Addr() raft.ServerAddress { return n.addr }

// Connect lets n send RPCs to peer. Connections are one-directional.
func (n *Node) Connect(peer *Node) { n.trans.Connect(peer.addr, peer.trans) }

// Disconnect stops n from reaching peer.
func (n *Node) Disconnect(peer *Node) { n.trans.Disconnect(peer.addr) }

// DisconnectAll cuts every outbound connection of n.
func (n *Node) DisconnectAll() { n.trans.DisconnectAll() }

func (n *Node) current() *raft.Raft {
    n.mu.RLock(); defer n.mu.RUnlock()
    return n.r
}

func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r != nil {
        return nil
    }
    if err := ctx.Err(); err != nil { return err }

    cfg := raft.DefaultConfig()
    cfg.LocalID = raft.ServerID(n.opts.NodeID)
    cfg.Logger = n.log
    cfg.HeartbeatTimeout = n.opts.HeartbeatTimeout
    cfg.ElectionTimeout = n.opts.ElectionTimeout
    cfg.CommitTimeout = n.opts.CommitTimeout
    // Keep lease <= heartbeat to satisfy invariants
    if cfg.LeaderLeaseTimeout > cfg.HeartbeatTimeout { cfg.LeaderLeaseTimeout = cfg.HeartbeatTimeout }

    var (
        logs   raft.LogStore
        stable raft.StableStore
        snaps  raft.SnapshotStore
        err    error
    )

    // Storage selection: on-disk when DataDir provided, else in-memory.
    if n.opts.DataDir != "" {
        dir := filepath.Join(n.opts.DataDir, n.opts.NodeID)
        if err := os.MkdirAll(dir, 0o755); err != nil { return err }
        // Bolt store for both log and stable
        bstore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft.db"))
        if err != nil { return fmt.Errorf("raftcons: bolt store: %w", err) }
        n.closers = append(n.closers, bstore)
        logs = bstore
        stable = bstore
        snaps, err = raft.NewFileSnapshotStore(dir, n.opts.SnapshotsRetained, n.log.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true}))
        if err != nil { return err }
    } else {
        logs = raft.NewInmemStore()
        stable = raft.NewInmemStore()
        snaps = raft.NewInmemSnapshotStore()
    }

    r, err := raft.NewRaft(cfg, n.fsm, logs, stable, snaps, n.trans)
    if err != nil {
        return err
    }
    n.r = r

    // Observe leadership changes and forward to LeaderCh.
    n.obsCh = make(chan raft.Observation, 32)
    n.obs = raft.NewObserver(n.obsCh, false, func(o *raft.Observation) bool {
        _, ok := o.Data.(raft.LeaderObservation)
        return ok
    })
    r.RegisterObserver(n.obs)
    go func(ch <-chan raft.Observation) {
        defer close(n.lch)
        for o := range ch {
            lo := o.Data.(raft.LeaderObservation)
            n.emitLeader(c.LeaderInfo{ID: string(lo.LeaderID), Addr: string(lo.LeaderAddr), Term: n.Term()})
        }
    }(n.obsCh)
    return nil
}

// Bootstrap seeds the initial configuration with every given peer as a
// voter. Calling it on each peer with the same list is safe; a node that
// already has state returns raft.ErrCantBootstrap, which is ignored.
func (n *Node) Bootstrap(peers []*Node) error {
    r := n.current()
    if r == nil { return ErrNotStarted }
    servers := make([]raft.Server, 0, len(peers))
    for _, p := range peers {
        servers = append(servers, raft.Server{ID: raft.ServerID(p.ID()), Address: p.addr, Suffrage: raft.Voter})
    }
    err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error()
    if errors.Is(err, raft.ErrCantBootstrap) { return nil }
    return err
}

// Submit enqueues cmd on the leader without waiting for it to commit.
func (n *Node) Submit(cmd c.Command, timeout time.Duration) (raft.ApplyFuture, error) {
    r := n.current()
    if r == nil { return nil, ErrNotStarted }
    data, err := bson.Marshal(cmd)
    if err != nil { return nil, err }
    if timeout <= 0 { timeout = n.opts.ApplyTimeout }
    return r.Apply(data, timeout), nil
}

func (n *Node) Apply(cmd c.Command, timeout time.Duration) (uint64, error) {
    if r := n.current(); r != nil && r.State() != raft.Leader {
        return 0, raft.ErrNotLeader
    }
    af, err := n.Submit(cmd, timeout)
    if err != nil { return 0, err }
    if err := af.Error(); err != nil { return 0, err }
    if v := af.Response(); v != nil {
        if e, ok := v.(error); ok && e != nil { return af.Index(), e }
    }
    return af.Index(), nil
}

func (n *Node) IsLeader() bool {
    r := n.current()
    if r == nil { return false }
    return r.State() == raft.Leader
}

// RaftState returns the raft role name: Follower, Candidate, Leader or Shutdown.
func (n *Node) RaftState() string {
    r := n.current()
    if r == nil { return raft.Shutdown.String() }
    return r.State().String()
}

func (n *Node) Leader() (id string, addr string, ok bool) {
    r := n.current()
    if r == nil { return "", "", false }
    a, sid := r.LeaderWithID()
    if sid == "" { return "", "", false }
    return string(sid), string(a), true
}

func (n *Node) Term() uint64 {
    r := n.current()
    if r == nil { return 0 }
    // Try to parse from stats; falls back to 0.
    if v := r.Stats()["term"]; v != "" {
        if u, err := strconv.ParseUint(v, 10, 64); err == nil { return u }
    }
    return 0
}

// Barrier blocks until every entry preceding it is applied on the leader.
func (n *Node) Barrier(timeout time.Duration) error {
    r := n.current()
    if r == nil { return ErrNotStarted }
    return r.Barrier(timeout).Error()
}

// VerifyLeader confirms with a quorum that n still leads.
func (n *Node) VerifyLeader() error {
    r := n.current()
    if r == nil { return ErrNotStarted }
    return r.VerifyLeader().Error()
}

// TransferLeadership asks raft to hand leadership to the most up to date
// follower.
func (n *Node) TransferLeadership() error {
    r := n.current()
    if r == nil { return ErrNotStarted }
    return r.LeadershipTransfer().Error()
}

// Applied returns the index of the last command applied locally.
func (n *Node) Applied() uint64 { return n.fsm.Applied() }

// WaitApplied blocks until the local state has applied idx.
func (n *Node) WaitApplied(ctx context.Context, idx uint64) error { return n.fsm.WaitApplied(ctx, idx) }

// Find reads the local replica's state.
func (n *Node) Find(coll string, filter store.Document, sortField string, limit int) []store.Document {
    return n.fsm.st.Find(coll, filter, sortField, limit)
}

func (n *Node) Stop() error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.r == nil { return nil }
    n.r.DeregisterObserver(n.obs)
    close(n.obsCh)
    err := n.r.Shutdown().Error()
    n.r = nil
    for _, cl := range n.closers { _ = cl.Close() }
    n.closers = nil
    return err
}

// Ensure interface compliance
var _ c.Consensus = (*Node)(nil)
var _ c.Transferer = (*Node)(nil)
var _ c.LeaderNotifier = (*Node)(nil)

func (n *Node) LeaderCh() <-chan c.LeaderInfo { return n.lch }

func (n *Node) emitLeader(li c.LeaderInfo) {
    select {
    case n.lch <- li:
    default:
        // drop to avoid blocking; last-writer-wins semantics are ok for leadership
    }
}
