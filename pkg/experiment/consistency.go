package experiment

import (
    "context"
    "fmt"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/replprobe/pkg/causal"
    "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/oplog"
    "github.com/amirimatin/replprobe/pkg/probe"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

func runStrong(ctx context.Context, env Env) (Result, error) {
    r, err := start(ctx, env, "strong", "consistency_test", profile.Strong())
    if err != nil { return abortedResult(r, err) }
    filter := store.Document{"test_id": "strong_consistency_test"}
    doc := store.Document{"test_id": "strong_consistency_test", "value": 100, "timestamp": time.Now().UTC()}
    if _, err := r.Write(ctx, doc, nil); err != nil { return abortedResult(r, err) }
    obs, err := r.Read(ctx, filter, store.Document{"value": 100})
    if err != nil { return abortedResult(r, err) }
    if !obs.Visible { r.Violate("read after write returned %v, expected value 100", obs.Doc["value"]) }

    if _, err := r.Update(ctx, filter, store.Document{"value": 200, "updated_at": time.Now().UTC()}); err != nil { return abortedResult(r, err) }
    obs, err = r.Read(ctx, filter, store.Document{"value": 200})
    if err != nil { return abortedResult(r, err) }
    if !obs.Visible { r.Violate("read after update returned %v, expected value 200", obs.Doc["value"]) }
    return r.Finish(), nil
}

func runEventual(ctx context.Context, env Env) (Result, error) {
    r, err := start(ctx, env, "eventual", "eventual_consistency_test", profile.Eventual())
    if err != nil { return abortedResult(r, err) }
    filter := store.Document{"test_id": "eventual_consistency_test"}
    doc := store.Document{"test_id": "eventual_consistency_test", "counter": 0, "timestamp": time.Now().UTC()}
    if _, err := r.Write(ctx, doc, nil); err != nil { return abortedResult(r, err) }
    if _, err := r.Read(ctx, filter, store.Document{"counter": 0}); err != nil { return abortedResult(r, err) }
    for i := 1; i <= 10; i++ {
        if _, err := r.Update(ctx, filter, store.Document{"counter": i, "updated_at": time.Now().UTC()}); err != nil { return abortedResult(r, err) }
    }
    want := store.Document{"counter": 10}
    obs, err := r.Read(ctx, filter, want)
    if err != nil { return abortedResult(r, err) }
    if obs.Visible {
        r.Observe("converged before polling")
        return r.Finish(), nil
    }
    if _, err := r.Poll(ctx, filter, want); err != nil { return abortedResult(r, err) }
    return r.Finish(), nil
}

func runComparison(ctx context.Context, env Env) (Result, error) {
    n := env.ops()
    var parts []Result
    for _, c := range []struct {
        key  string
        coll string
        p    profile.Profile
    }{
        {"strong", "comparison_test_strong", profile.Strong()},
        {"eventual", "comparison_test_eventual", profile.Eventual()},
    } {
        r, err := start(ctx, env, "comparison", c.coll, c.p)
        if err != nil { return abortedResult(r, err) }
        for i := 0; i < n; i++ {
            doc := store.Document{"index": i, "timestamp": time.Now().UTC(), "data": fmt.Sprintf("test_data_%d", i)}
            if _, err := r.Write(ctx, doc, nil); err != nil {
                parts = append(parts, r.Finish())
                return merge("comparison", parts...), err
            }
        }
        sum := r.Summarize(c.key, "write", 1)
        r.Observe("%s: %d writes, mean %s p95 %s", c.key, n, sum.Mean, sum.P95)
        parts = append(parts, r.Finish())
    }
    res := merge("comparison", parts...)
    res.Speedup = probe.Speedup(res.Summaries["strong"], res.Summaries["eventual"])
    res.Observations = append(res.Observations, fmt.Sprintf("eventual writes are %.2fx faster than strong writes", res.Speedup))
    return res, nil
}

// causalOp is one step of the causal scenario. parent indexes an earlier
// step, or is -1 for an operation with no dependency.
type causalOp struct {
    id     string
    action string
    order  float64
    parent int
}

// causalOps lists the operations in the order they are issued, which is
// also their logical-time order.
var causalOps = []causalOp{
    {"login_001", "login", 1, -1},
    {"other_001", "view_other_profile", 1.5, -1},
    {"profile_001", "view_profile", 2, 0},
    {"status_001", "update_status", 3, 0},
}

func runCausal(ctx context.Context, env Env) (Result, error) {
    r, err := start(ctx, env, "causal", "causal_consistency_test", profile.Eventual())
    if err != nil { return abortedResult(r, err) }
    ids := make([]uuid.UUID, len(causalOps))
    for i, op := range causalOps {
        if i > 0 {
            if err := r.Pause(ctx, env.pacing()); err != nil { return abortedResult(r, err) }
        }
        var parent *uuid.UUID
        if op.parent >= 0 {
            pid := ids[op.parent]
            parent = &pid
        }
        doc := store.Document{"operation_id": op.id, "user_id": "user123", "action": op.action, "causal_order": op.order}
        w, err := r.Write(ctx, doc, parent)
        if err != nil { return abortedResult(r, err) }
        ids[i] = w.Record.ID
    }

    var observed []oplog.Record
    poll := env.poll()
    for attempt := 0; attempt < max(poll.MaxAttempts, 1); attempt++ {
        wait := env.pacing()
        if attempt > 0 { wait = poll.Interval }
        if err := r.Pause(ctx, wait); err != nil { return abortedResult(r, err) }
        docs, err := r.ReadAll(ctx, nil, oplog.FieldLogicalTime)
        if err != nil { return abortedResult(r, err) }
        observed = observed[:0]
        for _, d := range docs {
            rec, err := oplog.FromDocument(d)
            if err != nil {
                r.Observe("skipping unreadable document: %v", err)
                continue
            }
            observed = append(observed, rec)
        }
        if len(observed) == len(causalOps) { break }
        r.Observe("%d of %d operations visible", len(observed), len(causalOps))
    }
    for i, rec := range observed { r.Observe("%d. %v (causal order %v)", i+1, rec.Payload["action"], rec.Payload["causal_order"]) }

    v := causal.Validator{Describe: func(rec oplog.Record) string {
        if a, ok := rec.Payload["action"].(string); ok { return a }
        return rec.ID.String()
    }}
    verdict := v.Validate(observed)
    for _, viol := range verdict.Violations { r.Violate("%s", viol) }
    metrics.CausalViolations.Add(float64(len(verdict.Violations)))
    res := r.Conclude(verdict.Holds && len(observed) == len(causalOps))
    res.Causal = &verdict
    return res, nil
}
