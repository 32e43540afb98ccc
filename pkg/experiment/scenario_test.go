package experiment

import (
    "context"
    "path/filepath"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/amirimatin/replprobe/pkg/failover"
    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/store/embedded"
    "github.com/amirimatin/replprobe/pkg/store/storetest"
)

func fakeEnv(f *storetest.Fake) Env {
    return Env{
        Store:    f,
        Poll:     &PollPolicy{MaxAttempts: 3, Interval: time.Millisecond},
        Pacing:   -1,
        Ops:      5,
        Failover: FailoverSettings{PollInterval: 5 * time.Millisecond, MaxWait: 200 * time.Millisecond, Settle: -1},
        Logger:   quiet,
    }
}

func run(t *testing.T, name string, env Env) Result {
    t.Helper()
    sc, ok := Lookup(name)
    require.True(t, ok, name)
    res, err := sc.Run(context.Background(), env)
    require.NoError(t, err)
    require.Equal(t, name, res.Scenario)
    return res
}

func TestCatalogOrder(t *testing.T) {
    require.Equal(t, []string{"setup", "write-concern", "failover", "propagation", "strong", "eventual", "comparison", "causal"}, Names())
    require.Equal(t, []string{"write-concern", "failover", "propagation"}, Part("B"))
    _, err := Resolve("strong", "nope")
    require.Error(t, err)
}

func TestScenarioStrong(t *testing.T) {
    res := run(t, "strong", fakeEnv(storetest.New()))
    require.True(t, res.Holds, res.Violations)
    require.Equal(t, StateVerified, res.Outcome)
    require.Zero(t, res.Retries)
    require.Equal(t, 2, res.Reads)
}

func TestScenarioEventualConverges(t *testing.T) {
    f := storetest.New()
    f.SetStaleReads(2)
    res := run(t, "eventual", fakeEnv(f))
    require.True(t, res.Holds, res.Observations)
    require.Equal(t, StateVerified, res.Outcome)
    require.Equal(t, 1, res.Retries)
}

func TestScenarioEventualTimesOut(t *testing.T) {
    f := storetest.New()
    f.SetStaleReads(10)
    res := run(t, "eventual", fakeEnv(f))
    require.Equal(t, StateTimedOut, res.Outcome)
    require.False(t, res.Holds)
    require.Empty(t, res.Violations)
    require.Equal(t, 3, res.Retries)
}

func TestScenarioWriteConcernWithUnreachableMember(t *testing.T) {
    f := storetest.New()
    f.SetUnreachable("node-3", true)
    res := run(t, "write-concern", fakeEnv(f))
    require.Equal(t, StateTimedOut, res.Outcome)
    require.Len(t, res.Violations, benchmarkWrites)
    require.Zero(t, res.Summaries["one"].Failures)
    require.Zero(t, res.Summaries["quorum"].Failures)
    require.Equal(t, benchmarkWrites-1, res.Summaries["all"].Failures)
    for _, v := range res.Violations { require.Contains(t, v, store.OutcomeWriteTimeout) }
}

func TestScenarioWriteConcernPersistedOplog(t *testing.T) {
    env := fakeEnv(storetest.New())
    env.OplogDir = t.TempDir()
    for i := 0; i < 2; i++ {
        res := run(t, "write-concern", env)
        require.Len(t, res.Operations, 3*benchmarkWrites)
        require.Len(t, res.Samples, 3*benchmarkWrites)
    }
    files, err := filepath.Glob(filepath.Join(env.OplogDir, "write-concern", "*"))
    require.NoError(t, err)
    require.Len(t, files, 6)
}

func TestScenarioComparison(t *testing.T) {
    res := run(t, "comparison", fakeEnv(storetest.New()))
    require.True(t, res.Holds)
    require.Equal(t, 4, res.Summaries["strong"].Count)
    require.Equal(t, 4, res.Summaries["eventual"].Count)
    require.Len(t, res.Samples, 10)
    require.ElementsMatch(t, []string{"comparison_test_strong", "comparison_test_eventual"}, res.Collections)
}

func TestScenarioCausal(t *testing.T) {
    res := run(t, "causal", fakeEnv(storetest.New()))
    require.True(t, res.Holds, res.Violations)
    require.NotNil(t, res.Causal)
    require.True(t, res.Causal.Holds)
}

func TestScenarioSetupAndPropagation(t *testing.T) {
    f := storetest.New()
    res := run(t, "setup", fakeEnv(f))
    require.True(t, res.Holds, res.Violations)
    require.Len(t, res.Documents, 3)

    res = run(t, "propagation", fakeEnv(f))
    require.True(t, res.Holds)
    require.NotNil(t, res.Topology)
    require.Equal(t, "node-1", res.Topology.Leader)
}

func TestScenarioFailover(t *testing.T) {
    f := storetest.New()
    f.SetElection("node-3", 10*time.Millisecond)
    res := run(t, "failover", fakeEnv(f))
    require.True(t, res.Holds, res.Violations)
    require.NotNil(t, res.Failover)
    require.Equal(t, "node-3", res.Failover.NewLeader)
    require.Equal(t, "SECONDARY", res.Failover.PreviousLeaderState)
    require.Len(t, res.Operations, 2)
    require.Len(t, res.Samples, 2)
    require.Equal(t, res.Operations[1].ID.String(), res.Failover.Gap.Operation)
}

func TestScenarioFailoverElectionTimeout(t *testing.T) {
    f := storetest.New()
    f.SetNoElection()
    res := run(t, "failover", fakeEnv(f))
    require.Equal(t, StateTimedOut, res.Outcome)
    require.True(t, res.Failover.ElectionTimedOut)
    require.Equal(t, failover.GapUnavailable, res.Failover.Gap.Outcome)
}

func TestScenarioReturnsResultOnConnectionLoss(t *testing.T) {
    f := storetest.New()
    require.NoError(t, f.Close(context.Background()))
    sc, _ := Lookup("strong")
    res, err := sc.Run(context.Background(), fakeEnv(f))
    require.ErrorIs(t, err, store.ErrConnection)
    require.Equal(t, "strong", res.Scenario)
    require.Equal(t, StateAborted, res.Outcome)
    require.NotEmpty(t, res.Error)
}

func TestSuiteParallelIsolatesCollections(t *testing.T) {
    f := storetest.New()
    env := fakeEnv(f)
    scs, err := Resolve("failover", "strong", "eventual", "causal", "comparison")
    require.NoError(t, err)
    var mu sync.Mutex
    var seen []string
    suite := Suite{Env: env, Parallel: 4, OnResult: func(r Result, _ error) {
        mu.Lock()
        seen = append(seen, r.Scenario)
        mu.Unlock()
    }}
    out, err := suite.Run(context.Background(), scs...)
    require.NoError(t, err)
    require.True(t, out.Holds(), out)
    require.Len(t, out.Results, 5)
    require.Equal(t, "failover", out.Results[0].Scenario)
    // the exclusive scenario runs last
    require.Equal(t, "failover", seen[len(seen)-1])
    require.Equal(t, []string{"p1_consistency_test"}, out.Results[1].Collections)
}

func TestSuiteAgainstEmbeddedCluster(t *testing.T) {
    if testing.Short() { t.Skip("starts a raft cluster") }
    ctx := context.Background()
    c, err := embedded.Start(ctx, embedded.Options{Logger: quiet})
    require.NoError(t, err)
    defer c.Close(ctx)

    env := Env{Store: c, Pacing: 5 * time.Millisecond, Ops: 5, Logger: quiet, WriteTimeout: 2 * time.Second,
        Failover: FailoverSettings{PollInterval: 20 * time.Millisecond, MaxWait: 5 * time.Second, Settle: -1}}
    scs, err := Resolve("setup", "write-concern", "propagation", "strong", "eventual", "comparison", "causal", "failover")
    require.NoError(t, err)
    out, err := Suite{Env: env, Parallel: 2}.Run(ctx, scs...)
    require.NoError(t, err)
    for _, r := range out.Results {
        switch r.Scenario {
        case "propagation", "eventual", "causal":
            // follower visibility depends on replication timing
            require.Contains(t, []State{StateVerified, StateTimedOut}, r.Outcome)
            require.Empty(t, r.Error)
        default:
            require.True(t, r.Holds, "%s: %v %v", r.Scenario, r.Violations, r.Observations)
        }
    }
}

func TestWriteAllWithPartitionedEmbeddedMember(t *testing.T) {
    if testing.Short() { t.Skip("starts a raft cluster") }
    ctx := context.Background()
    c, err := embedded.Start(ctx, embedded.Options{Logger: quiet})
    require.NoError(t, err)
    defer c.Close(ctx)
    topo, err := c.Topology(ctx)
    require.NoError(t, err)
    require.NoError(t, c.Partition(topo.Followers[0]))

    res := run(t, "write-concern", Env{Store: c, WriteTimeout: 200 * time.Millisecond, Logger: quiet})
    require.Equal(t, StateTimedOut, res.Outcome)
    require.Equal(t, benchmarkWrites-1, res.Summaries["all"].Failures)
    require.Zero(t, res.Summaries["quorum"].Failures)
}
