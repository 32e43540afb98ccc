package experiment

import (
    "context"
    "fmt"
    "sync"

    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/replprobe/pkg/internal/logutil"
)

// Suite runs several scenarios against one store. With Parallel > 1 the
// non-exclusive scenarios run concurrently, each in its own namespace;
// exclusive ones (failover) always run alone after them.
type Suite struct {
    Env      Env
    Parallel int
    // StopOnError stops scheduling further scenarios after a fatal error.
    StopOnError bool
    // OnResult, when set, is called as each scenario completes. Calls are
    // serialized.
    OnResult func(Result, error)
}

// SuiteResult holds the results in the order the scenarios were given.
type SuiteResult struct {
    Results []Result `json:"results"`
    Errors  []string `json:"errors,omitempty"`
}

// Holds reports whether every scenario verified without violations.
func (s SuiteResult) Holds() bool {
    for _, r := range s.Results { if !r.Holds { return false } }
    return len(s.Errors) == 0
}

// Run executes scenarios and returns every result, including those that
// failed. The error is the first fatal error, if any.
func (s Suite) Run(ctx context.Context, scenarios ...Scenario) (SuiteResult, error) {
    results := make([]Result, len(scenarios))
    errs := make([]error, len(scenarios))
    var mu sync.Mutex
    done := func(i int, res Result, err error) {
        mu.Lock()
        defer mu.Unlock()
        results[i], errs[i] = res, err
        if s.OnResult != nil { s.OnResult(res, err) }
    }

    var shared, exclusive []int
    for i, sc := range scenarios {
        if sc.Exclusive {
            exclusive = append(exclusive, i)
        } else {
            shared = append(shared, i)
        }
    }

    g, gctx := errgroup.WithContext(ctx)
    limit := s.Parallel
    if limit < 1 { limit = 1 }
    g.SetLimit(limit)
    for _, i := range shared {
        i := i
        env := s.Env
        if limit > 1 { env.Namespace = fmt.Sprintf("%sp%d_", s.Env.Namespace, i) }
        g.Go(func() error {
            if gctx.Err() != nil { return nil }
            res, err := scenarios[i].Run(gctx, env)
            done(i, res, err)
            if err != nil && s.StopOnError { return err }
            return nil
        })
    }
    firstErr := g.Wait()

    for _, i := range exclusive {
        if firstErr != nil && s.StopOnError { break }
        if ctx.Err() != nil { break }
        res, err := scenarios[i].Run(ctx, s.Env)
        done(i, res, err)
        if err != nil && firstErr == nil { firstErr = err }
    }

    out := SuiteResult{}
    for i, r := range results {
        if r.Scenario == "" {
            // never started
            r = Result{Scenario: scenarios[i].Name, Outcome: StateAborted, Error: "not run"}
        }
        out.Results = append(out.Results, r)
        if errs[i] != nil {
            out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", scenarios[i].Name, errs[i]))
            if firstErr == nil { firstErr = errs[i] }
        }
    }
    if firstErr != nil { logutil.Warnf(s.Env.logger(), "suite: %v", firstErr) }
    return out, firstErr
}
