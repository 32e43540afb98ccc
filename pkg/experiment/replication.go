package experiment

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/amirimatin/replprobe/pkg/failover"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

// benchmarkWrites is the number of writes per acknowledgement level.
const benchmarkWrites = 5

// abortedResult is what a scenario returns when a runner could not even be
// built or configured.
func abortedResult(r *Runner, err error) (Result, error) {
    if r == nil { return Result{Outcome: StateAborted, Error: err.Error()}, err }
    res := r.Finish()
    if res.Error == "" && err != nil { res.Error = err.Error() }
    return res, err
}

// start builds and configures a runner.
func start(ctx context.Context, env Env, scenario, coll string, p profile.Profile) (*Runner, error) {
    r, err := env.runner(scenario, coll, p)
    if err != nil { return nil, err }
    return r, r.Configure(ctx)
}

func sampleUsers(now time.Time) []store.Document {
    return []store.Document{
        {"user_id": 1001, "username": "alice_wang", "email": "alice@example.com", "last_login_time": now, "profile": store.Document{"age": 25, "city": "Dublin"}},
        {"user_id": 1002, "username": "bob_chen", "email": "bob@example.com", "last_login_time": now, "profile": store.Document{"age": 30, "city": "Beijing"}},
        {"user_id": 1003, "username": "carol_li", "email": "carol@example.com", "last_login_time": now, "profile": store.Document{"age": 28, "city": "Shanghai"}},
    }
}

func runSetup(ctx context.Context, env Env) (Result, error) {
    r, err := start(ctx, env, "setup", "user_profiles", profile.Strong())
    if err != nil { return abortedResult(r, err) }
    if topo, err := env.Store.Topology(ctx); err == nil {
        for _, m := range topo.Members { r.Observe("member %s: %s", m.ID, m.State) }
    }
    users := sampleUsers(time.Now().UTC().Truncate(time.Millisecond))
    for _, u := range users {
        if _, err := r.Write(ctx, u, nil); err != nil { return abortedResult(r, err) }
    }
    docs, err := r.ReadAll(ctx, nil, "user_id")
    if err != nil { return abortedResult(r, err) }
    for _, d := range docs { r.Observe("user %v (ID: %v) - %v", d["username"], d["user_id"], d["email"]) }
    if len(docs) != len(users) { r.Violate("listed %d users, expected %d", len(docs), len(users)) }
    if _, err := r.Read(ctx, store.Document{"user_id": 1001}, store.Document{"username": "alice_wang"}); err != nil {
        return abortedResult(r, err)
    }
    res := r.Finish()
    res.Documents = docs
    return res, nil
}

func runWriteConcern(ctx context.Context, env Env) (Result, error) {
    payload := strings.Repeat("x", 1024)
    var parts []Result
    for _, ack := range []profile.WriteAck{profile.WriteOne, profile.WriteQuorum, profile.WriteAll} {
        r, err := start(ctx, env, "write-concern", "write_concern_test", profile.WriteBenchmark(ack))
        if err != nil { return abortedResult(r, err) }
        for i := 0; i < benchmarkWrites; i++ {
            doc := store.Document{"test_id": fmt.Sprintf("write_concern_test_%s_%d", ack, i), "data": payload, "timestamp": time.Now().UTC()}
            if _, err := r.Write(ctx, doc, nil); err != nil {
                parts = append(parts, r.Finish())
                return merge("write-concern", parts...), err
            }
        }
        sum := r.Summarize(ack.String(), "write", 1)
        r.Observe("w=%s: mean %s p95 %s (%d failures)", ack, sum.Mean, sum.P95, sum.Failures)
        parts = append(parts, r.Finish())
    }
    return merge("write-concern", parts...), nil
}

func runFailover(ctx context.Context, env Env) (Result, error) {
    p := profile.Strong()
    r, err := start(ctx, env, "failover", "failover_test", p)
    if err != nil { return abortedResult(r, err) }
    m := &failover.Monitor{
        Store:        env.Store,
        PollInterval: env.Failover.PollInterval,
        MaxWait:      env.Failover.MaxWait,
        Settle:       env.Failover.Settle,
        History:      env.Failover.History,
        Probe:        r.Probe(),
        Oplog:        r.Log(),
        Logger:       env.logger(),
    }
    lease := env.Failover.Lease
    if lease <= 0 { lease = failover.DefaultLease }
    rep, err := m.Run(ctx, env.collection("failover_test"), lease, r.Profile())
    switch {
    case errors.Is(err, store.ErrUnavailable):
        r.Violate("failover not started: %v", err)
        err = nil
    case err != nil:
        res := r.Conclude(false)
        res.Failover = &rep
        res.Error = err.Error()
        return res, err
    }
    if rep.PreviousLeader != "" {
        r.Observe("previous leader: %s", rep.PreviousLeader)
        r.Observe("pre-failure write: %s", rep.PreWrite.Outcome)
        if rep.PreWrite.Outcome != failover.GapAcknowledged { r.Violate("pre-failure write not acknowledged: %s", rep.PreWrite.Error) }
        r.Observe("write during election: %s after %s", rep.Gap.Outcome, rep.Gap.Duration.Round(time.Millisecond))
    }
    switch {
    case rep.ElectionTimedOut:
        r.Observe("no new leader within %s", rep.Election.Round(time.Millisecond))
    case rep.NewLeader != "":
        r.Observe("new leader %s elected after %s", rep.NewLeader, rep.Election.Round(time.Millisecond))
        if rep.PreviousLeaderState != "" { r.Observe("previous leader is now %s", rep.PreviousLeaderState) }
    }
    ok := rep.NewLeader != "" && rep.NewLeader != rep.PreviousLeader
    res := r.Conclude(ok)
    res.Failover = &rep
    return res, nil
}

func runPropagation(ctx context.Context, env Env) (Result, error) {
    topo, terr := env.Store.Topology(ctx)
    if errors.Is(terr, store.ErrConnection) { return Result{Outcome: StateAborted, Error: terr.Error()}, terr }
    // writes go to the leader only, reads to followers only
    r, err := start(ctx, env, "propagation", "replication_test", profile.Eventual().WithReadRoute(profile.RouteFollower))
    if err != nil { return abortedResult(r, err) }
    if terr != nil {
        r.Observe("topology unavailable: %v", terr)
    } else {
        r.Observe("leader %s, followers %v", topo.Leader, topo.Followers)
    }
    testID := fmt.Sprintf("propagation_test_%d", time.Now().Unix())
    doc := store.Document{"test_id": testID, "message": "Testing data propagation", "timestamp": time.Now().UTC(), "written_to": topo.Leader}
    if _, err := r.Write(ctx, doc, nil); err != nil { return abortedResult(r, err) }
    filter := store.Document{"test_id": testID}
    first, err := r.Read(ctx, filter, filter)
    if err != nil { return abortedResult(r, err) }
    if err := r.Pause(ctx, 100*time.Millisecond); err != nil { return abortedResult(r, err) }
    second, err := r.Read(ctx, filter, filter)
    if err != nil { return abortedResult(r, err) }
    switch {
    case first.Visible:
        r.Observe("replicated before the immediate follower read (%s)", first.Sample.Duration.Round(time.Microsecond))
    case second.Visible:
        r.Observe("replicated within 100ms")
    }
    res := r.Finish()
    if terr == nil { res.Topology = &topo }
    return res, nil
}
