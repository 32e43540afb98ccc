package embedded

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"
    "sync/atomic"
    "time"

    "github.com/hashicorp/go-hclog"

    raftcons "github.com/amirimatin/replprobe/pkg/consensus/raft"
    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    base "github.com/amirimatin/replprobe/pkg/membership"
    "github.com/amirimatin/replprobe/pkg/membership/memberlist"
    "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/store"
)

// ErrUnknownMember is returned by fault injection for an id not in the set.
var ErrUnknownMember = errors.New("embedded: unknown member")

// Cluster is a replica set of raft members living in this process. It
// implements store.Store and is safe for concurrent use.
type Cluster struct {
    opts  Options
    log   *log.Logger
    hlog  hclog.Logger
    nodes []*raftcons.Node

    mu          sync.RWMutex
    partitioned map[string]bool
    gossip      map[string]base.Membership
    lastLeader  string

    rr     atomic.Uint64
    closed atomic.Bool
}

// Start creates the replicas, wires them together and waits for a leader.
// A replica set that cannot elect one within StartTimeout fails with
// store.ErrConnection.
func Start(ctx context.Context, opts Options) (*Cluster, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.setDefaults()
    c := &Cluster{
        opts:        opts,
        log:         opts.Logger,
        partitioned: map[string]bool{},
        gossip:      map[string]base.Membership{},
    }
    c.hlog = hclog.New(&hclog.LoggerOptions{Name: "embedded", Level: hclog.LevelFromString(opts.RaftLogLevel), Output: opts.Logger.Writer()})

    for i := 1; i <= opts.Members; i++ {
        n, err := raftcons.New(raftcons.Options{
            NodeID:           fmt.Sprintf("member-%d", i),
            Logger:           c.hlog,
            HeartbeatTimeout: opts.HeartbeatTimeout,
            ElectionTimeout:  opts.ElectionTimeout,
            CommitTimeout:    opts.CommitTimeout,
            DataDir:          opts.DataDir,
        })
        if err != nil { return nil, store.Wrap("connect", store.ErrConnection, err) }
        c.nodes = append(c.nodes, n)
    }
    for _, a := range c.nodes {
        for _, b := range c.nodes {
            if a != b { a.Connect(b) }
        }
    }
    fail := func(err error) (*Cluster, error) {
        _ = c.Close(context.Background())
        return nil, store.Wrap("connect", store.ErrConnection, err)
    }
    for _, n := range c.nodes {
        if err := n.Start(ctx); err != nil { return fail(fmt.Errorf("start %s: %w", n.ID(), err)) }
        go c.watchLeader(n)
    }
    for _, n := range c.nodes {
        if err := n.Bootstrap(c.nodes); err != nil { return fail(fmt.Errorf("bootstrap %s: %w", n.ID(), err)) }
    }
    if opts.Gossip {
        for _, n := range c.nodes {
            if err := c.startGossip(ctx, n.ID()); err != nil { return fail(err) }
        }
    }

    wctx, cancel := context.WithTimeout(ctx, opts.StartTimeout)
    defer cancel()
    leader, err := c.awaitLeader(wctx, "connect")
    if err != nil { return fail(fmt.Errorf("no leader elected within %s", opts.StartTimeout)) }
    logutil.Infof(c.log, "embedded replica set %q started with %d members, leader %s", opts.SetName, len(c.nodes), leader.ID())
    return c, nil
}

func (c *Cluster) watchLeader(n *raftcons.Node) {
    for li := range n.LeaderCh() {
        if li.ID == "" { continue }
        c.noteLeader(li.ID)
    }
}

func (c *Cluster) noteLeader(id string) {
    c.mu.Lock()
    prev := c.lastLeader
    if id == prev {
        c.mu.Unlock()
        return
    }
    c.lastLeader = id
    c.mu.Unlock()
    if prev != "" {
        metrics.LeaderChanges.Inc()
        logutil.Infof(c.log, "embedded: leader changed %s -> %s", prev, id)
    }
    if c.opts.OnLeaderChange != nil { c.opts.OnLeaderChange(prev, id) }
}

func (c *Cluster) startGossip(ctx context.Context, id string) error {
    m, err := memberlist.New(memberlist.Options{
        NodeID:         id,
        SetName:        c.opts.SetName,
        Logger:         c.hlog,
        ProbeInterval:  100 * time.Millisecond,
        ProbeTimeout:   50 * time.Millisecond,
        GossipInterval: 50 * time.Millisecond,
        SuspicionMult:  2,
    })
    if err != nil { return err }
    if err := m.Start(ctx); err != nil { return fmt.Errorf("gossip %s: %w", id, err) }
    c.mu.Lock()
    var seeds []string
    for peer, g := range c.gossip {
        if !c.partitioned[peer] { seeds = append(seeds, g.Local().Addr) }
    }
    c.gossip[id] = m
    c.mu.Unlock()
    go func() {
        for e := range m.Events() {
            if e.Type == base.EventFailed || e.Type == base.EventLeave {
                logutil.Warnf(c.log, "embedded: %s reports %s %s", id, e.Member.ID, e.Type)
            }
        }
    }()
    if len(seeds) > 0 {
        if err := m.Join(seeds); err != nil { return fmt.Errorf("gossip join %s: %w", id, err) }
    }
    return nil
}

func (c *Cluster) stopGossip(id string) {
    c.mu.Lock()
    m := c.gossip[id]
    delete(c.gossip, id)
    c.mu.Unlock()
    if m != nil { _ = m.Stop() }
}

// gossipAlive asks a reachable peer's failure detector about id.
func (c *Cluster) gossipAlive(id string) bool {
    c.mu.RLock()
    defer c.mu.RUnlock()
    for peer, g := range c.gossip {
        if peer == id || c.partitioned[peer] { continue }
        return base.Alive(g, id)
    }
    _, ok := c.gossip[id]
    return ok
}

func (c *Cluster) node(id string) *raftcons.Node {
    for _, n := range c.nodes { if n.ID() == id { return n } }
    return nil
}

func (c *Cluster) isPartitioned(id string) bool {
    c.mu.RLock(); defer c.mu.RUnlock()
    return c.partitioned[id]
}

// Members returns the replica ids in creation order.
func (c *Cluster) Members() []string {
    out := make([]string, len(c.nodes))
    for i, n := range c.nodes { out[i] = n.ID() }
    return out
}

// Partition cuts id off from every other replica and from clients, as if
// its network link failed. Raft on the remaining majority elects a new
// leader if id was leading.
func (c *Cluster) Partition(id string) error {
    target := c.node(id)
    if target == nil { return fmt.Errorf("%w: %s", ErrUnknownMember, id) }
    c.mu.Lock()
    c.partitioned[id] = true
    c.mu.Unlock()
    target.DisconnectAll()
    for _, n := range c.nodes {
        if n != target { n.Disconnect(target) }
    }
    if c.opts.Gossip { c.stopGossip(id) }
    logutil.Warnf(c.log, "embedded: partitioned %s", id)
    return nil
}

// Heal reconnects a partitioned replica.
func (c *Cluster) Heal(ctx context.Context, id string) error {
    target := c.node(id)
    if target == nil { return fmt.Errorf("%w: %s", ErrUnknownMember, id) }
    c.mu.Lock()
    delete(c.partitioned, id)
    c.mu.Unlock()
    for _, n := range c.nodes {
        if n == target || c.isPartitioned(n.ID()) { continue }
        n.Connect(target)
        target.Connect(n)
    }
    if c.opts.Gossip {
        if err := c.startGossip(ctx, id); err != nil { return err }
    }
    logutil.Infof(c.log, "embedded: healed %s", id)
    return nil
}

// leaderNode returns the reachable replica that currently leads, if any.
func (c *Cluster) leaderNode() *raftcons.Node {
    for _, n := range c.nodes {
        if n.IsLeader() && !c.isPartitioned(n.ID()) { return n }
    }
    return nil
}

// awaitLeader polls for a reachable leader until ctx ends.
func (c *Cluster) awaitLeader(ctx context.Context, op string) (*raftcons.Node, error) {
    t := time.NewTicker(5 * time.Millisecond)
    defer t.Stop()
    for {
        if l := c.leaderNode(); l != nil { return l, nil }
        select {
        case <-ctx.Done():
            return nil, store.Wrap(op, store.ErrUnavailable, errors.New("no reachable leader"))
        case <-t.C:
        }
    }
}

func (c *Cluster) Topology(ctx context.Context) (store.Topology, error) {
    if c.closed.Load() { return store.Topology{}, store.Wrap("topology", store.ErrConnection, errors.New("closed")) }
    leader := c.leaderNode()
    topo := store.Topology{Health: map[string]bool{}, SetName: c.opts.SetName, ObservedAt: time.Now()}
    healthy := 0
    for _, n := range c.nodes {
        raftState := n.RaftState()
        part := c.isPartitioned(n.ID())
        ok := !part && raftState != "Shutdown"
        if ok && c.opts.Gossip { ok = c.gossipAlive(n.ID()) }
        state := "SECONDARY"
        switch {
        case part:
            state = "UNREACHABLE"
        case raftState == "Shutdown":
            state = "DOWN"
        case leader == n:
            state = "PRIMARY"
        case raftState == "Candidate":
            state = "CANDIDATE"
        }
        topo.Health[n.ID()] = ok
        if ok { healthy++ }
        topo.Members = append(topo.Members, store.Member{ID: n.ID(), State: state, Healthy: ok, Priority: 1, Votes: 1})
        if leader != n { topo.Followers = append(topo.Followers, n.ID()) }
    }
    metrics.ObserveTopology(len(c.nodes), healthy)
    if healthy == 0 { return topo, store.Wrap("topology", store.ErrUnavailable, errors.New("no reachable member")) }
    if leader != nil {
        topo.Leader = leader.ID()
        topo.Term = leader.Term()
    }
    return topo, nil
}

// StepDown hands leadership to another voter. Raft has no notion of a
// step-down lease; the previous leader is eligible again once a new term
// starts.
func (c *Cluster) StepDown(ctx context.Context, lease time.Duration) error {
    leader := c.leaderNode()
    if leader == nil { return store.Wrap("stepdown", store.ErrCommand, errors.New("no primary to step down")) }
    if err := leader.TransferLeadership(); err != nil { return store.Wrap("stepdown", store.ErrCommand, err) }
    logutil.Infof(c.log, "embedded: %s stepped down (lease %s)", leader.ID(), lease)
    return nil
}

func (c *Cluster) Close(ctx context.Context) error {
    if !c.closed.CompareAndSwap(false, true) { return nil }
    c.mu.RLock()
    ids := make([]string, 0, len(c.gossip))
    for id := range c.gossip { ids = append(ids, id) }
    c.mu.RUnlock()
    for _, id := range ids { c.stopGossip(id) }
    var errs []error
    for _, n := range c.nodes {
        if err := n.Stop(); err != nil { errs = append(errs, fmt.Errorf("stop %s: %w", n.ID(), err)) }
    }
    return errors.Join(errs...)
}

var _ store.Store = (*Cluster)(nil)
