package grpc

import (
    "context"
    "errors"
    "io"
    "log"
    "testing"
    "time"

    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/transport"
)

type fakeHandlers struct{ topoErr error }

func (f fakeHandlers) Topology(context.Context) (store.Topology, error) {
    if f.topoErr != nil { return store.Topology{}, f.topoErr }
    return store.Topology{Leader: "member-1", Followers: []string{"member-2", "member-3"}, Term: 4}, nil
}

func (fakeHandlers) Scenarios(context.Context) ([]transport.ScenarioInfo, error) { return transport.Catalog(), nil }

func (fakeHandlers) Run(_ context.Context, req transport.RunRequest) (transport.RunResponse, error) {
    if len(req.Names) == 0 || req.Names[0] != "strong" { return transport.RunResponse{}, transport.ErrUnknownScenario }
    res := experiment.Result{Scenario: "strong", Outcome: experiment.StateVerified, Holds: true, Reads: 2}
    return transport.RunResponse{Suite: experiment.SuiteResult{Results: []experiment.Result{res}}, Holds: true}, nil
}

func start(t *testing.T, h transport.Handlers) string {
    t.Helper()
    s := NewServer("127.0.0.1:0", log.New(io.Discard, "", 0))
    ctx, cancel := context.WithCancel(context.Background())
    if err := s.Start(ctx, h); err != nil { t.Fatal(err) }
    t.Cleanup(func() { cancel(); _ = s.Stop(context.Background()) })
    return s.Addr()
}

func TestControlRoundTrip(t *testing.T) {
    addr := start(t, fakeHandlers{})
    c := NewClient(2 * time.Second)
    defer c.Close()
    ctx := context.Background()

    topo, err := c.Topology(ctx, addr)
    if err != nil { t.Fatal(err) }
    if topo.Leader != "member-1" || topo.Term != 4 || len(topo.Followers) != 2 { t.Fatalf("unexpected topology: %+v", topo) }

    list, err := c.Scenarios(ctx, addr)
    if err != nil { t.Fatal(err) }
    if len(list) != len(experiment.Catalog()) { t.Fatalf("catalog: %+v", list) }

    resp, err := c.Run(ctx, addr, transport.RunRequest{Names: []string{"strong"}})
    if err != nil { t.Fatal(err) }
    if !resp.Holds || resp.Suite.Results[0].Outcome != experiment.StateVerified || resp.Suite.Results[0].Reads != 2 {
        t.Fatalf("unexpected run response: %+v", resp)
    }
    if c.cm.Len() != 1 { t.Fatalf("expected one cached connection, got %d", c.cm.Len()) }
}

func TestErrorCodes(t *testing.T) {
    addr := start(t, fakeHandlers{topoErr: store.ErrConnection})
    c := NewClient(2 * time.Second)
    defer c.Close()
    if _, err := c.Run(context.Background(), addr, transport.RunRequest{Names: []string{"nope"}}); !errors.Is(err, transport.ErrUnknownScenario) {
        t.Fatalf("want ErrUnknownScenario, got %v", err)
    }
    if _, err := c.Topology(context.Background(), addr); !errors.Is(err, store.ErrUnavailable) {
        t.Fatalf("want ErrUnavailable, got %v", err)
    }
}

func TestHealth(t *testing.T) {
    addr := start(t, fakeHandlers{})
    c := NewClient(2 * time.Second)
    defer c.Close()
    ok, err := c.Healthy(context.Background(), addr)
    if err != nil || !ok { t.Fatalf("health: %v %v", ok, err) }
}

func TestConnManagerEvictsIdle(t *testing.T) {
    c := NewClient(time.Second)
    m := NewConnManager(time.Hour, c.dial)
    defer m.Close()
    _, rel, err := m.Get(context.Background(), "127.0.0.1:1")
    if err != nil { t.Fatal(err) }
    m.evict(time.Now().Add(time.Hour))
    if m.Len() != 1 { t.Fatalf("in-use connection evicted") }
    rel()
    m.evict(time.Now().Add(time.Hour))
    if m.Len() != 0 { t.Fatalf("idle connection kept") }
}
