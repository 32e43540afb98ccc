// Package storetest provides a scripted in-memory store.Store for tests.
package storetest

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

// Fake keeps one authoritative copy of every collection on the leader and a
// lagging copy served by followers. The Set methods script its behaviour and
// are safe to call while operations are in flight.
type Fake struct {
    mu sync.Mutex

    nodes       []string
    leader      string
    unreachable map[string]bool
    leaderData  map[string][]store.Document
    followData  map[string][]store.Document

    staleReads    int
    nextLeader    string
    electAt       time.Time
    neverElect    bool
    electionDelay time.Duration
    stepDownErr   error
    writeErr      error
    closed        bool

    reads, writes, stepDowns int
    now                      func() time.Time
}

// New returns a healthy fake whose first node leads.
func New(nodes ...string) *Fake {
    if len(nodes) == 0 { nodes = []string{"node-1", "node-2", "node-3"} }
    return &Fake{
        nodes:       append([]string(nil), nodes...),
        leader:      nodes[0],
        unreachable: map[string]bool{},
        leaderData:  map[string][]store.Document{},
        followData:  map[string][]store.Document{},
        now:         time.Now,
    }
}

// SetStaleReads makes the next n follower reads return the followers'
// lagging copy. Once the budget is spent, followers catch up.
func (f *Fake) SetStaleReads(n int) { f.mu.Lock(); f.staleReads = n; f.mu.Unlock() }

// SetUnreachable marks a node as partitioned away.
func (f *Fake) SetUnreachable(node string, down bool) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.unreachable[node] = down
    if down && node == f.leader { f.leader = "" }
}

// SetElection scripts the outcome of the next step-down: the given node
// becomes leader after delay. An empty node picks the next reachable one.
func (f *Fake) SetElection(node string, delay time.Duration) {
    f.mu.Lock()
    f.nextLeader, f.electionDelay, f.neverElect = node, delay, false
    f.mu.Unlock()
}

// SetNoElection prevents any leader from emerging after a step-down.
func (f *Fake) SetNoElection() { f.mu.Lock(); f.neverElect = true; f.mu.Unlock() }

// SetStepDownError makes StepDown fail with err.
func (f *Fake) SetStepDownError(err error) { f.mu.Lock(); f.stepDownErr = err; f.mu.Unlock() }

// SetWriteError makes every write fail with err until cleared with nil.
func (f *Fake) SetWriteError(err error) { f.mu.Lock(); f.writeErr = err; f.mu.Unlock() }

// SetClock replaces the fake's time source.
func (f *Fake) SetClock(now func() time.Time) { f.mu.Lock(); f.now = now; f.mu.Unlock() }

// Reads returns how many Read and Find calls reached the fake.
func (f *Fake) Reads() int { f.mu.Lock(); defer f.mu.Unlock(); return f.reads }

// Writes returns how many Write and Update calls reached the fake.
func (f *Fake) Writes() int { f.mu.Lock(); defer f.mu.Unlock(); return f.writes }

// StepDowns returns how many step-downs succeeded.
func (f *Fake) StepDowns() int { f.mu.Lock(); defer f.mu.Unlock(); return f.stepDowns }

// Leader returns the current leader after applying any pending election.
func (f *Fake) Leader() string {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.electLocked()
    return f.leader
}

func (f *Fake) electLocked() {
    if f.leader != "" || f.neverElect || f.electAt.IsZero() { return }
    if f.now().Before(f.electAt) { return }
    f.electAt = time.Time{}
    if f.nextLeader != "" && !f.unreachable[f.nextLeader] {
        f.leader = f.nextLeader
        return
    }
    for _, n := range f.nodes {
        if !f.unreachable[n] && n != f.nextLeader {
            f.leader = n
            return
        }
    }
}

func (f *Fake) reachable() int {
    n := 0
    for _, id := range f.nodes { if !f.unreachable[id] { n++ } }
    return n
}

func (f *Fake) followerAvailable() bool {
    for _, id := range f.nodes {
        if id != f.leader && !f.unreachable[id] { return true }
    }
    return false
}

func (f *Fake) Topology(ctx context.Context) (store.Topology, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.closed { return store.Topology{}, store.Wrap("topology", store.ErrConnection, errors.New("closed")) }
    f.electLocked()
    topo := store.Topology{Leader: f.leader, Health: map[string]bool{}, SetName: "fake", ObservedAt: f.now()}
    for _, id := range f.nodes {
        healthy := !f.unreachable[id]
        topo.Health[id] = healthy
        state := "SECONDARY"
        switch {
        case !healthy:
            state = "UNREACHABLE"
        case id == f.leader:
            state = "PRIMARY"
        }
        if id != f.leader { topo.Followers = append(topo.Followers, id) }
        topo.Members = append(topo.Members, store.Member{ID: id, State: state, Healthy: healthy, Priority: 1, Votes: 1})
    }
    return topo, nil
}

func (f *Fake) checkWrite(op string, p profile.Profile) error {
    if f.closed { return store.Wrap(op, store.ErrConnection, errors.New("closed")) }
    if f.writeErr != nil { return f.writeErr }
    f.electLocked()
    if f.leader == "" { return store.Wrap(op, store.ErrUnavailable, errors.New("no leader")) }
    need := 1
    switch p.WriteAck {
    case profile.WriteQuorum:
        need = len(f.nodes)/2 + 1
    case profile.WriteAll:
        need = len(f.nodes)
    }
    if p.WriteAck != profile.WriteNone && f.reachable() < need {
        return store.Wrap(op, store.ErrWriteTimeout, fmt.Errorf("%d of %d members acknowledged within %s", f.reachable(), need, p.WriteTimeout))
    }
    return nil
}

func (f *Fake) Write(ctx context.Context, coll string, doc store.Document, p profile.Profile) (store.WriteResult, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.writes++
    // a write that misses its acknowledgement level is still applied on the leader
    err := f.checkWrite("write", p)
    if err != nil && !errors.Is(err, store.ErrWriteTimeout) { return store.WriteResult{}, err }
    d := doc.Clone()
    if _, ok := d["_id"]; !ok { d["_id"] = uuid.NewString() }
    f.leaderData[coll] = append(f.leaderData[coll], d)
    return store.WriteResult{ID: fmt.Sprint(d["_id"]), Acknowledged: err == nil && p.WriteAck != profile.WriteNone}, err
}

func (f *Fake) Update(ctx context.Context, coll string, filter, set store.Document, p profile.Profile) (store.WriteResult, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.writes++
    err := f.checkWrite("update", p)
    if err != nil && !errors.Is(err, store.ErrWriteTimeout) { return store.WriteResult{}, err }
    res := store.WriteResult{Acknowledged: p.WriteAck != profile.WriteNone}
    for _, d := range f.leaderData[coll] {
        if !store.Matches(d, filter) { continue }
        res.Matched = 1
        for k, v := range set { d[k] = v }
        res.Modified = 1
        break
    }
    return res, err
}

// view picks the copy a read is served from.
func (f *Fake) view(op, coll string, p profile.Profile) ([]store.Document, error) {
    if f.closed { return nil, store.Wrap(op, store.ErrConnection, errors.New("closed")) }
    f.reads++
    f.electLocked()
    leaderOK := f.leader != ""
    followerOK := f.followerAvailable()
    useFollower := false
    switch p.ReadRoute {
    case profile.RouteLeader:
        if !leaderOK { return nil, store.Wrap(op, store.ErrUnavailable, errors.New("no leader")) }
    case profile.RouteFollower:
        if !followerOK { return nil, store.Wrap(op, store.ErrUnavailable, errors.New("no reachable follower")) }
        useFollower = true
    case profile.RouteFollowerPreferred, profile.RouteAny:
        if !leaderOK && !followerOK { return nil, store.Wrap(op, store.ErrUnavailable, errors.New("no reachable member")) }
        useFollower = followerOK
    }
    if p.ReadAck == profile.ReadQuorum && f.reachable() < len(f.nodes)/2+1 {
        return nil, store.Wrap(op, store.ErrUnavailable, errors.New("no majority"))
    }
    if !useFollower { return f.leaderData[coll], nil }
    if f.staleReads > 0 {
        f.staleReads--
        return f.followData[coll], nil
    }
    f.syncLocked(coll)
    return f.followData[coll], nil
}

func (f *Fake) syncLocked(coll string) {
    src := f.leaderData[coll]
    cp := make([]store.Document, len(src))
    for i, d := range src { cp[i] = d.Clone() }
    f.followData[coll] = cp
}

func (f *Fake) Read(ctx context.Context, coll string, filter store.Document, p profile.Profile) (store.Document, bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    docs, err := f.view("read", coll, p)
    if err != nil { return nil, false, err }
    for _, d := range docs {
        if store.Matches(d, filter) { return d.Clone(), true, nil }
    }
    return nil, false, nil
}

func (f *Fake) Find(ctx context.Context, coll string, filter store.Document, sortField string, p profile.Profile) ([]store.Document, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    docs, err := f.view("find", coll, p)
    if err != nil { return nil, err }
    var out []store.Document
    for _, d := range docs {
        if store.Matches(d, filter) { out = append(out, d.Clone()) }
    }
    store.SortBy(out, sortField)
    return out, nil
}

func (f *Fake) Clear(ctx context.Context, coll string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.closed { return store.Wrap("clear", store.ErrConnection, errors.New("closed")) }
    delete(f.leaderData, coll)
    delete(f.followData, coll)
    return nil
}

func (f *Fake) StepDown(ctx context.Context, lease time.Duration) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.stepDownErr != nil { return store.Wrap("stepdown", store.ErrCommand, f.stepDownErr) }
    if f.leader == "" { return store.Wrap("stepdown", store.ErrCommand, errors.New("no primary to step down")) }
    old := f.leader
    f.leader = ""
    f.stepDowns++
    if f.nextLeader == "" || f.nextLeader == old {
        for _, n := range f.nodes {
            if n != old && !f.unreachable[n] { f.nextLeader = n; break }
        }
    }
    f.electAt = f.now().Add(f.electionDelay)
    return nil
}

func (f *Fake) Close(ctx context.Context) error {
    f.mu.Lock()
    f.closed = true
    f.mu.Unlock()
    return nil
}

var _ store.Store = (*Fake)(nil)
