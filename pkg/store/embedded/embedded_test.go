package embedded

import (
    "context"
    "errors"
    "io"
    "log"
    "testing"
    "time"

    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

func startCluster(t *testing.T, opts Options) *Cluster {
    t.Helper()
    if opts.Logger == nil { opts.Logger = log.New(io.Discard, "", 0) }
    c, err := Start(context.Background(), opts)
    if err != nil { t.Fatalf("start: %v", err) }
    t.Cleanup(func() { _ = c.Close(context.Background()) })
    return c
}

func fast(p profile.Profile) profile.Profile {
    p.WriteTimeout = time.Second
    p.ReadTimeout = time.Second
    return p
}

func TestEmbedded_StrongRoundTrip(t *testing.T) {
    ctx := context.Background()
    c := startCluster(t, Options{})
    p := fast(profile.Strong())
    res, err := c.Write(ctx, "consistency_test", store.Document{"test_id": "strong", "value": 100}, p)
    if err != nil || !res.Acknowledged || res.ID == "" { t.Fatalf("write: %+v %v", res, err) }
    doc, ok, err := c.Read(ctx, "consistency_test", store.Document{"test_id": "strong"}, p)
    if err != nil || !ok || !store.Matches(doc, store.Document{"value": 100}) { t.Fatalf("read: %v %v %v", doc, ok, err) }

    up, err := c.Update(ctx, "consistency_test", store.Document{"test_id": "strong"}, store.Document{"value": 200}, p)
    if err != nil || up.Matched != 1 || up.Modified != 1 { t.Fatalf("update: %+v %v", up, err) }
    // quorum read routed to a follower must still observe the update
    doc, ok, err = c.Read(ctx, "consistency_test", store.Document{"test_id": "strong"}, p.WithReadRoute(profile.RouteFollower))
    if err != nil || !ok || !store.Matches(doc, store.Document{"value": 200}) { t.Fatalf("follower quorum read: %v %v %v", doc, ok, err) }
}

func TestEmbedded_WriteAllWithUnreachableMemberTimesOut(t *testing.T) {
    ctx := context.Background()
    c := startCluster(t, Options{})
    topo, err := c.Topology(ctx)
    if err != nil { t.Fatal(err) }
    if err := c.Partition(topo.Followers[0]); err != nil { t.Fatal(err) }

    p := profile.WriteBenchmark(profile.WriteAll)
    p.WriteTimeout = 300 * time.Millisecond
    start := time.Now()
    _, err = c.Write(ctx, "wc", store.Document{"payload": "x"}, p)
    if !errors.Is(err, store.ErrWriteTimeout) { t.Fatalf("expected write timeout, got %v", err) }
    if took := time.Since(start); took > 2*time.Second { t.Fatalf("write took %s", took) }

    if _, err := c.Write(ctx, "wc", store.Document{"payload": "y"}, p.WithWriteAck(profile.WriteQuorum)); err != nil {
        t.Fatalf("quorum write with one member down: %v", err)
    }
    victim := topo.Followers[0]
    topo, _ = c.Topology(ctx)
    if topo.Health[victim] { t.Fatalf("partitioned member reported healthy") }
    if m, _ := topo.Member(victim); m.State != "UNREACHABLE" { t.Fatalf("state=%s", m.State) }

    if err := c.Heal(ctx, victim); err != nil { t.Fatal(err) }
    p.WriteTimeout = 3 * time.Second
    if _, err := c.Write(ctx, "wc", store.Document{"payload": "z"}, p); err != nil { t.Fatalf("write all after heal: %v", err) }
}

func TestEmbedded_FindSortedAndClear(t *testing.T) {
    ctx := context.Background()
    c := startCluster(t, Options{})
    p := fast(profile.Strong())
    base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
    for i, off := range []int{3, 1, 2} {
        if _, err := c.Write(ctx, "causal", store.Document{"i": i, "ts": base.Add(time.Duration(off) * time.Millisecond)}, p); err != nil { t.Fatal(err) }
    }
    docs, err := c.Find(ctx, "causal", nil, "ts", p)
    if err != nil || len(docs) != 3 { t.Fatalf("find: %v %v", docs, err) }
    if !store.Matches(docs[0], store.Document{"i": 1}) || !store.Matches(docs[2], store.Document{"i": 0}) { t.Fatalf("order: %v", docs) }
    if err := c.Clear(ctx, "causal"); err != nil { t.Fatal(err) }
    docs, _ = c.Find(ctx, "causal", nil, "", p)
    if len(docs) != 0 { t.Fatalf("clear left %d docs", len(docs)) }
}

func TestEmbedded_StepDownElectsNewLeader(t *testing.T) {
    ctx := context.Background()
    changes := make(chan string, 8)
    c := startCluster(t, Options{OnLeaderChange: func(prev, cur string) { if prev != "" { changes <- cur } }})
    before, err := c.Topology(ctx)
    if err != nil || !before.HasLeader() { t.Fatalf("topology: %+v %v", before, err) }
    if err := c.StepDown(ctx, time.Minute); err != nil { t.Fatalf("stepdown: %v", err) }

    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        after, _ := c.Topology(ctx)
        if after.HasLeader() && after.Leader != before.Leader {
            select {
            case <-changes:
            case <-time.After(2 * time.Second):
                t.Fatalf("leader change callback not invoked")
            }
            return
        }
        time.Sleep(20 * time.Millisecond)
    }
    t.Fatalf("leader did not change from %s", before.Leader)
}

func TestEmbedded_ReadRoutingUnavailable(t *testing.T) {
    ctx := context.Background()
    c := startCluster(t, Options{Members: 1})
    p := fast(profile.Eventual()).WithReadRoute(profile.RouteFollower)
    if _, _, err := c.Read(ctx, "x", nil, p); !errors.Is(err, store.ErrUnavailable) { t.Fatalf("expected unavailable, got %v", err) }
    // follower-preferred falls back to the leader
    if _, _, err := c.Read(ctx, "x", nil, p.WithReadRoute(profile.RouteFollowerPreferred)); err != nil { t.Fatalf("fallback read: %v", err) }
}

func TestEmbedded_GossipHealth(t *testing.T) {
    ctx := context.Background()
    c := startCluster(t, Options{Gossip: true})
    victim := c.Members()[2]
    if err := c.Partition(victim); err != nil { t.Fatal(err) }
    deadline := time.Now().Add(5 * time.Second)
    for time.Now().Before(deadline) {
        topo, err := c.Topology(ctx)
        if err != nil { t.Fatal(err) }
        if !topo.Health[victim] && topo.Health[c.Members()[0]] { return }
        time.Sleep(50 * time.Millisecond)
    }
    t.Fatalf("partitioned member still reported healthy")
}

func TestEmbedded_ClosedStoreFailsWithConnection(t *testing.T) {
    c := startCluster(t, Options{Members: 1})
    _ = c.Close(context.Background())
    if _, err := c.Topology(context.Background()); !errors.Is(err, store.ErrConnection) { t.Fatalf("got %v", err) }
}

func TestOptionsValidate(t *testing.T) {
    if err := (Options{Members: 40}).Validate(); err == nil { t.Fatalf("expected error") }
    if err := (Options{ElectionTimeout: time.Millisecond}).Validate(); err == nil { t.Fatalf("expected error") }
}
