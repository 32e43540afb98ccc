package embedded

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/raft"
    "go.opentelemetry.io/otel/attribute"

    cons "github.com/amirimatin/replprobe/pkg/consensus"
    raftcons "github.com/amirimatin/replprobe/pkg/consensus/raft"
    "github.com/amirimatin/replprobe/pkg/observability/tracing"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

func (c *Cluster) Write(ctx context.Context, coll string, doc store.Document, p profile.Profile) (res store.WriteResult, err error) {
    ctx, end := tracing.StartSpan(ctx, "embedded.write", attribute.String("collection", coll), attribute.String("ack", p.WriteAck.String()))
    defer func() { end(err) }()
    d := doc.Clone()
    if d == nil { d = store.Document{} }
    if _, ok := d["_id"]; !ok { d["_id"] = uuid.NewString() }
    cmd, err := raftcons.InsertCommand(coll, d)
    if err != nil { return store.WriteResult{}, fmt.Errorf("embedded: encode: %w", err) }
    if _, err := c.replicate(ctx, "write", cmd, p); err != nil { return store.WriteResult{ID: fmt.Sprint(d["_id"])}, err }
    return store.WriteResult{ID: fmt.Sprint(d["_id"]), Acknowledged: p.WriteAck != profile.WriteNone}, nil
}

func (c *Cluster) Update(ctx context.Context, coll string, filter, set store.Document, p profile.Profile) (res store.WriteResult, err error) {
    ctx, end := tracing.StartSpan(ctx, "embedded.update", attribute.String("collection", coll), attribute.String("ack", p.WriteAck.String()))
    defer func() { end(err) }()
    cmd, err := raftcons.UpdateCommand(coll, filter, set)
    if err != nil { return store.WriteResult{}, fmt.Errorf("embedded: encode: %w", err) }
    resp, err := c.replicate(ctx, "update", cmd, p)
    if err != nil { return store.WriteResult{}, err }
    res.Acknowledged = p.WriteAck != profile.WriteNone
    if ur, ok := resp.(raftcons.UpdateResult); ok {
        res.Matched, res.Modified = ur.Matched, ur.Modified
    }
    return res, nil
}

func (c *Cluster) Clear(ctx context.Context, coll string) error {
    cmd, err := raftcons.ClearCommand(coll)
    if err != nil { return fmt.Errorf("embedded: encode: %w", err) }
    _, err = c.replicate(ctx, "clear", cmd, profile.Strong())
    return err
}

// replicate submits cmd to the leader and waits for the acknowledgement
// level in p, bounded by p.WriteTimeout.
func (c *Cluster) replicate(ctx context.Context, op string, cmd cons.Command, p profile.Profile) (any, error) {
    if c.closed.Load() { return nil, store.Wrap(op, store.ErrConnection, errors.New("closed")) }
    ctx, cancel := context.WithTimeout(ctx, p.WriteTimeout)
    defer cancel()
    leader, err := c.awaitLeader(ctx, op)
    if err != nil { return nil, err }
    af, err := leader.Submit(cmd, p.WriteTimeout)
    if err != nil { return nil, classify(op, err) }
    if p.WriteAck == profile.WriteNone {
        go func() { _ = af.Error() }()
        return nil, nil
    }

    done := make(chan error, 1)
    go func() { done <- af.Error() }()
    select {
    case err := <-done:
        if err != nil { return nil, classify(op, err) }
    case <-ctx.Done():
        return nil, timeoutErr(ctx, op, fmt.Errorf("not committed within %s", p.WriteTimeout))
    }
    resp := af.Response()
    if e, ok := resp.(error); ok && e != nil { return nil, fmt.Errorf("embedded: %s: %w", op, e) }

    if p.WriteAck == profile.WriteAll {
        idx := af.Index()
        for _, n := range c.nodes {
            if err := n.WaitApplied(ctx, idx); err != nil {
                return resp, timeoutErr(ctx, op, fmt.Errorf("member %s did not apply index %d within %s", n.ID(), idx, p.WriteTimeout))
            }
        }
    }
    return resp, nil
}

func timeoutErr(ctx context.Context, op string, detail error) error {
    if errors.Is(ctx.Err(), context.Canceled) { return fmt.Errorf("embedded: %s: %w", op, ctx.Err()) }
    return store.Wrap(op, store.ErrWriteTimeout, detail)
}

// classify maps raft errors onto the store taxonomy.
func classify(op string, err error) error {
    switch {
    case errors.Is(err, raft.ErrNotLeader), errors.Is(err, raft.ErrLeadershipLost), errors.Is(err, raft.ErrLeadershipTransferInProgress), errors.Is(err, raft.ErrAbortedByRestore):
        return store.Wrap(op, store.ErrUnavailable, err)
    case errors.Is(err, raft.ErrEnqueueTimeout):
        return store.Wrap(op, store.ErrWriteTimeout, err)
    case errors.Is(err, raft.ErrRaftShutdown), errors.Is(err, raftcons.ErrNotStarted):
        return store.Wrap(op, store.ErrConnection, err)
    }
    return store.Wrap(op, store.ErrUnavailable, err)
}

func (c *Cluster) Read(ctx context.Context, coll string, filter store.Document, p profile.Profile) (doc store.Document, found bool, err error) {
    ctx, end := tracing.StartSpan(ctx, "embedded.read", attribute.String("collection", coll), attribute.String("route", p.ReadRoute.String()))
    defer func() { end(err) }()
    docs, err := c.query(ctx, "read", coll, filter, "", 1, p)
    if err != nil || len(docs) == 0 { return nil, false, err }
    return docs[0], true, nil
}

func (c *Cluster) Find(ctx context.Context, coll string, filter store.Document, sortField string, p profile.Profile) (docs []store.Document, err error) {
    ctx, end := tracing.StartSpan(ctx, "embedded.find", attribute.String("collection", coll), attribute.String("route", p.ReadRoute.String()))
    defer func() { end(err) }()
    return c.query(ctx, "find", coll, filter, sortField, 0, p)
}

func (c *Cluster) query(ctx context.Context, op, coll string, filter store.Document, sortField string, limit int, p profile.Profile) ([]store.Document, error) {
    if c.closed.Load() { return nil, store.Wrap(op, store.ErrConnection, errors.New("closed")) }
    ctx, cancel := context.WithTimeout(ctx, p.ReadTimeout)
    defer cancel()
    member, err := c.route(ctx, op, p.ReadRoute)
    if err != nil { return nil, err }
    if p.ReadAck == profile.ReadQuorum {
        leader, err := c.awaitLeader(ctx, op)
        if err != nil { return nil, err }
        if err := leader.Barrier(remaining(ctx)); err != nil { return nil, store.Wrap(op, store.ErrUnavailable, err) }
        if err := member.WaitApplied(ctx, leader.Applied()); err != nil {
            return nil, store.Wrap(op, store.ErrUnavailable, fmt.Errorf("member %s has not caught up with the majority", member.ID()))
        }
    }
    return member.Find(coll, filter, sortField, limit), nil
}

func remaining(ctx context.Context) time.Duration {
    if dl, ok := ctx.Deadline(); ok {
        if d := time.Until(dl); d > 0 { return d }
        return time.Millisecond
    }
    return 0
}

// route picks the replica that serves a read.
func (c *Cluster) route(ctx context.Context, op string, r profile.ReadRoute) (*raftcons.Node, error) {
    switch r {
    case profile.RouteLeader:
        return c.awaitLeader(ctx, op)
    case profile.RouteFollower:
        if n := c.pick(c.followers()); n != nil { return n, nil }
        return nil, store.Wrap(op, store.ErrUnavailable, errors.New("no reachable follower"))
    case profile.RouteFollowerPreferred:
        if n := c.pick(c.followers()); n != nil { return n, nil }
        return c.awaitLeader(ctx, op)
    default:
        if n := c.pick(c.reachable()); n != nil { return n, nil }
        return nil, store.Wrap(op, store.ErrUnavailable, errors.New("no reachable member"))
    }
}

func (c *Cluster) reachable() []*raftcons.Node {
    var out []*raftcons.Node
    for _, n := range c.nodes {
        if !c.isPartitioned(n.ID()) && n.RaftState() != raft.Shutdown.String() { out = append(out, n) }
    }
    return out
}

func (c *Cluster) followers() []*raftcons.Node {
    var out []*raftcons.Node
    for _, n := range c.reachable() {
        if n.RaftState() == raft.Follower.String() { out = append(out, n) }
    }
    return out
}

func (c *Cluster) pick(ns []*raftcons.Node) *raftcons.Node {
    if len(ns) == 0 { return nil }
    return ns[int(c.rr.Add(1)%uint64(len(ns)))]
}
