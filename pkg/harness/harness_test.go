package harness

import (
    "context"
    "errors"
    "io"
    "log"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/replprobe/pkg/config"
    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/store/storetest"
    "github.com/amirimatin/replprobe/pkg/transport"
)

var quiet = log.New(io.Discard, "", 0)

func fastConfig() config.Config {
    c := config.Default()
    c.Experiment.Poll = &experiment.PollPolicy{MaxAttempts: 3, Interval: time.Millisecond}
    c.Experiment.Pacing = -1
    c.Experiment.Ops = 4
    c.Experiment.Failover = experiment.FailoverSettings{PollInterval: 5 * time.Millisecond, MaxWait: 200 * time.Millisecond, Settle: -1}
    return c
}

func newFake(t *testing.T, f *storetest.Fake, cfg config.Config) *Harness {
    t.Helper()
    h, err := New(context.Background(), Options{Config: cfg, Store: f, Logger: quiet})
    require.NoError(t, err)
    t.Cleanup(func() { _ = h.Close(context.Background()) })
    return h
}

func TestRunPublishesEvents(t *testing.T) {
    h := newFake(t, storetest.New(), fastConfig())
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    events := h.Subscribe(ctx)

    resp, err := h.Run(context.Background(), transport.RunRequest{Names: []string{"strong", "eventual"}})
    require.NoError(t, err)
    require.Empty(t, resp.Error)
    require.Len(t, resp.Suite.Results, 2)
    require.True(t, resp.Holds)

    var started, finished int
    for started+finished < 4 {
        select {
        case ev := <-events:
            switch ev.Type {
            case EventScenarioStarted:
                started++
            case EventScenarioFinished:
                finished++
                require.NotNil(t, ev.Result)
                require.Equal(t, ev.Scenario, ev.Result.Scenario)
            }
        case <-time.After(time.Second):
            t.Fatalf("missing events: started=%d finished=%d", started, finished)
        }
    }
}

func TestRunUnknownScenario(t *testing.T) {
    h := newFake(t, storetest.New(), fastConfig())
    _, err := h.Run(context.Background(), transport.RunRequest{Names: []string{"strong", "bogus"}})
    require.ErrorIs(t, err, transport.ErrUnknownScenario)
    _, err = h.Run(context.Background(), transport.RunRequest{})
    require.ErrorIs(t, err, transport.ErrUnknownScenario)
    _, err = h.RunScenario(context.Background(), "bogus")
    require.ErrorIs(t, err, transport.ErrUnknownScenario)
}

func TestRunAllOnFake(t *testing.T) {
    cfg := fastConfig()
    cfg.Experiment.Parallel = 3
    f := storetest.New()
    f.SetElection("node-2", 10*time.Millisecond)
    h := newFake(t, f, cfg)

    resp, err := h.Run(context.Background(), transport.RunRequest{All: true})
    require.NoError(t, err)
    require.Len(t, resp.Suite.Results, len(experiment.Catalog()))
    for _, r := range resp.Suite.Results { require.Empty(t, r.Error, r.Scenario) }
}

func TestConnectionLossReportedInResponse(t *testing.T) {
    f := storetest.New()
    f.SetWriteError(store.ErrConnection)
    h := newFake(t, f, fastConfig())
    resp, err := h.Run(context.Background(), transport.RunRequest{Names: []string{"strong"}})
    require.NoError(t, err)
    require.NotEmpty(t, resp.Error)
    require.False(t, resp.Holds)
    require.Equal(t, experiment.StateAborted, resp.Suite.Results[0].Outcome)
}

func TestTopologyAndClose(t *testing.T) {
    h := newFake(t, storetest.New(), fastConfig())
    topo, err := h.Topology(context.Background())
    require.NoError(t, err)
    require.Equal(t, "node-1", topo.Leader)
    list, err := h.Scenarios(context.Background())
    require.NoError(t, err)
    require.Equal(t, "setup", list[0].Name)
    require.Equal(t, []string{"setup"}, h.Part("A"))

    require.NoError(t, h.Close(context.Background()))
    _, err = h.Topology(context.Background())
    require.True(t, errors.Is(err, ErrClosed))
}

func TestEmbeddedBackendLeaderEvents(t *testing.T) {
    cfg := fastConfig()
    cfg.Backend = config.BackendEmbedded
    cfg.Experiment.Failover = experiment.FailoverSettings{PollInterval: 20 * time.Millisecond, MaxWait: 10 * time.Second, Settle: -1}
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    h, err := New(ctx, Options{Config: cfg, Logger: quiet})
    require.NoError(t, err)
    defer func() { _ = h.Close(context.Background()) }()
    events := h.Subscribe(ctx)

    res, err := h.RunScenario(ctx, "failover")
    require.NoError(t, err)
    require.True(t, res.Holds, "violations: %v", res.Violations)

    deadline := time.After(5 * time.Second)
    for {
        select {
        case ev := <-events:
            if ev.Type == EventLeaderChanged && ev.Previous != "" { return }
        case <-deadline:
            t.Fatalf("no leader change event after failover")
        }
    }
}
