package experiment

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync/atomic"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/oplog"
    "github.com/amirimatin/replprobe/pkg/probe"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

// PollPolicy bounds the re-reads of the polling state.
type PollPolicy struct {
    MaxAttempts int           `json:"maxAttempts" yaml:"max-attempts"`
    Interval    time.Duration `json:"interval" yaml:"interval"`
}

// DefaultPollPolicy reads up to three times, 100ms apart.
func DefaultPollPolicy() PollPolicy { return PollPolicy{MaxAttempts: 3, Interval: 100 * time.Millisecond} }

// Config binds a runner to a store, a collection and a profile.
type Config struct {
    Scenario   string
    Store      store.Store
    Collection string
    Profile    profile.Profile
    Poll       PollPolicy
    // Log receives the operation records and is closed by Finish. A fresh
    // in-memory log is used when nil.
    Log    *oplog.Log
    Logger *log.Logger
}

// Op is one dispatched write or update. Err holds a non-fatal failure that
// was recorded on the result.
type Op struct {
    Record oplog.Record
    Sample probe.Sample
    Result store.WriteResult
    Err    error
}

// Observation is one read and whether it showed the expected fields.
type Observation struct {
    Record  oplog.Record
    Sample  probe.Sample
    Attempt int
    Found   bool
    Visible bool
    Doc     store.Document
    Err     error
}

// Runner steps one experiment through its states. Steps are issued by a
// single goroutine; Abort may be called from any goroutine.
type Runner struct {
    cfg    Config
    probe  *probe.Probe
    oplog  *oplog.Log
    logger *log.Logger

    state       State
    lastVisible bool
    aborted     atomic.Bool
    res         Result
    sealed      *Result
}

// NewRunner validates cfg and returns a runner in StateNew. The profile is
// copied and cannot change for the lifetime of the runner.
func NewRunner(cfg Config) (*Runner, error) {
    if cfg.Store == nil { return nil, errors.New("experiment: store is required") }
    if cfg.Collection == "" { return nil, errors.New("experiment: collection is required") }
    if err := cfg.Profile.Validate(); err != nil { return nil, err }
    if cfg.Poll.MaxAttempts < 0 || cfg.Poll.Interval < 0 { return nil, errors.New("experiment: poll policy must not be negative") }
    if cfg.Log == nil { cfg.Log = oplog.New() }
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    return &Runner{
        cfg:    cfg,
        probe:  probe.New(cfg.Scenario),
        oplog:  cfg.Log,
        logger: cfg.Logger,
        res: Result{
            Scenario:    cfg.Scenario,
            Collections: []string{cfg.Collection},
            Profile:     cfg.Profile,
            Summaries:   map[string]probe.Summary{},
            StartedAt:   time.Now(),
        },
    }, nil
}

func (r *Runner) State() State             { return r.state }
func (r *Runner) Probe() *probe.Probe      { return r.probe }
func (r *Runner) Log() *oplog.Log          { return r.oplog }
func (r *Runner) Profile() profile.Profile { return r.cfg.Profile }

// Abort asks the runner to stop. The next step fails with ErrAborted and
// the run ends in StateAborted. An operation already in flight completes.
func (r *Runner) Abort() { r.aborted.Store(true) }

func (r *Runner) transition(ctx context.Context, to State) error {
    if r.state.Terminal() {
        return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
    }
    if r.aborted.Load() || (ctx != nil && ctx.Err() != nil) {
        r.observe("aborted while %s", r.state)
        r.state = StateAborted
        return ErrAborted
    }
    if !CanTransition(r.state, to) {
        return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
    }
    logutil.Debugf(r.logger, "experiment %s: %s -> %s", r.cfg.Scenario, r.state, to)
    r.state = to
    return nil
}

func (r *Runner) observe(format string, args ...any) {
    r.res.Observations = append(r.res.Observations, fmt.Sprintf(format, args...))
}

// Observe appends a note to the result.
func (r *Runner) Observe(format string, args ...any) { r.observe(format, args...) }

// Violate records a broken expectation.
func (r *Runner) Violate(format string, args ...any) {
    msg := fmt.Sprintf(format, args...)
    r.res.Violations = append(r.res.Violations, msg)
    logutil.Warnf(r.logger, "experiment %s: %s", r.cfg.Scenario, msg)
}

// fatal reports whether err must end the run.
func fatal(err error) bool { return errors.Is(err, store.ErrConnection) }

// Configure clears the runner's collection.
func (r *Runner) Configure(ctx context.Context) error {
    if err := r.transition(ctx, StateConfigured); err != nil { return err }
    if err := r.cfg.Store.Clear(ctx, r.cfg.Collection); err != nil {
        if fatal(err) { return r.fail(err) }
        r.observe("clear %s failed: %v", r.cfg.Collection, err)
    }
    return nil
}

// Write appends a write record and stores its document form. A failed write
// is recorded as a failed sample plus a violation; only a lost connection is
// returned.
func (r *Runner) Write(ctx context.Context, doc store.Document, parent *uuid.UUID) (Op, error) {
    if err := r.transition(ctx, StateWriting); err != nil { return Op{}, err }
    rec, err := r.oplog.Append(oplog.KindWrite, doc, parent)
    if err != nil { return Op{}, fmt.Errorf("experiment: %w", err) }
    stored := rec.Document()
    res, s, err := probe.Measure(r.probe, rec.ID.String(), "write", func() (store.WriteResult, error) {
        return r.cfg.Store.Write(ctx, r.cfg.Collection, stored, r.cfg.Profile)
    })
    op := Op{Record: rec, Sample: s, Result: res, Err: err}
    if err != nil {
        r.Violate("write %s failed (%s): %v", rec.ID, store.Outcome(err), err)
        if fatal(err) { return op, r.fail(err) }
    }
    return op, nil
}

// Update applies set to the first document matching filter.
func (r *Runner) Update(ctx context.Context, filter, set store.Document) (Op, error) {
    if err := r.transition(ctx, StateWriting); err != nil { return Op{}, err }
    rec, err := r.oplog.Append(oplog.KindUpdate, set, nil)
    if err != nil { return Op{}, fmt.Errorf("experiment: %w", err) }
    res, s, err := probe.Measure(r.probe, rec.ID.String(), "update", func() (store.WriteResult, error) {
        return r.cfg.Store.Update(ctx, r.cfg.Collection, filter, set, r.cfg.Profile)
    })
    op := Op{Record: rec, Sample: s, Result: res, Err: err}
    switch {
    case err != nil:
        r.Violate("update %s failed (%s): %v", rec.ID, store.Outcome(err), err)
        if fatal(err) { return op, r.fail(err) }
    case res.Acknowledged && res.Matched == 0:
        r.observe("update %s matched no document", rec.ID)
    }
    return op, nil
}

type readReply struct {
    doc   store.Document
    found bool
}

// Read issues one read under the profile and records whether the document
// matching filter carries every field of expect.
func (r *Runner) Read(ctx context.Context, filter, expect store.Document) (Observation, error) {
    if err := r.transition(ctx, StateReading); err != nil { return Observation{}, err }
    return r.read(ctx, filter, expect, 0)
}

func (r *Runner) read(ctx context.Context, filter, expect store.Document, attempt int) (Observation, error) {
    rec, err := r.oplog.Append(oplog.KindRead, filter, nil)
    if err != nil { return Observation{}, fmt.Errorf("experiment: %w", err) }
    rep, s, err := probe.Measure(r.probe, rec.ID.String(), "read", func() (readReply, error) {
        d, ok, err := r.cfg.Store.Read(ctx, r.cfg.Collection, filter, r.cfg.Profile)
        return readReply{d, ok}, err
    })
    r.res.Reads++
    obs := Observation{Record: rec, Sample: s, Attempt: attempt, Found: rep.found, Doc: rep.doc, Err: err}
    obs.Visible = err == nil && rep.found && store.Matches(rep.doc, expect)
    r.lastVisible = obs.Visible
    switch {
    case err != nil:
        r.observe("read #%d failed (%s): %v", attempt, store.Outcome(err), err)
        if fatal(err) { return obs, r.fail(err) }
    case !rep.found:
        r.observe("read #%d: no document", attempt)
    case !obs.Visible:
        r.observe("read #%d: stale %v", attempt, project(rep.doc, expect))
    default:
        r.observe("read #%d: visible %v", attempt, project(rep.doc, expect))
    }
    return obs, nil
}

// ReadAll returns every document matching filter ordered by sortField.
func (r *Runner) ReadAll(ctx context.Context, filter store.Document, sortField string) ([]store.Document, error) {
    if err := r.transition(ctx, StateReading); err != nil { return nil, err }
    rec, err := r.oplog.Append(oplog.KindRead, filter, nil)
    if err != nil { return nil, fmt.Errorf("experiment: %w", err) }
    docs, _, err := probe.Measure(r.probe, rec.ID.String(), "find", func() ([]store.Document, error) {
        return r.cfg.Store.Find(ctx, r.cfg.Collection, filter, sortField, r.cfg.Profile)
    })
    r.res.Reads++
    r.lastVisible = err == nil && len(docs) > 0
    if err != nil {
        r.observe("find failed (%s): %v", store.Outcome(err), err)
        if fatal(err) { return nil, r.fail(err) }
        return nil, nil
    }
    r.observe("find returned %d documents", len(docs))
    return docs, nil
}

// Poll re-reads until expect is visible or the policy's attempts are spent,
// ending in StateVerified or StateTimedOut. With zero attempts it times out
// without reading.
func (r *Runner) Poll(ctx context.Context, filter, expect store.Document) (State, error) {
    if err := r.transition(ctx, StatePolling); err != nil { return r.state, err }
    attempts := 0
    defer func() { metrics.PollAttempts.WithLabelValues(r.cfg.Scenario).Observe(float64(attempts)) }()
    for attempts < r.cfg.Poll.MaxAttempts {
        if attempts > 0 {
            if err := r.Pause(ctx, r.cfg.Poll.Interval); err != nil { return r.state, err }
        }
        attempts++
        r.res.Retries++
        obs, err := r.read(ctx, filter, expect, attempts)
        if err != nil { return r.state, err }
        if obs.Visible {
            r.state = StateVerified
            return r.state, nil
        }
    }
    r.observe("expectation %v not visible after %d attempts", expect, attempts)
    r.state = StateTimedOut
    return r.state, nil
}

// Pause waits d unless the run is aborted or ctx ends first.
func (r *Runner) Pause(ctx context.Context, d time.Duration) error {
    if d > 0 {
        t := time.NewTimer(d)
        defer t.Stop()
        select {
        case <-ctx.Done():
        case <-t.C:
        }
    }
    if r.aborted.Load() || ctx.Err() != nil {
        if !r.state.Terminal() {
            r.state = StateAborted
            r.observe("aborted while pausing")
        }
        return ErrAborted
    }
    return nil
}

// Summarize stores the summary of every sample labelled kind under key.
func (r *Runner) Summarize(key, kind string, warmup int) probe.Summary {
    s := probe.Summarize(r.probe.Labelled(kind), warmup)
    r.res.Summaries[key] = s
    return s
}

// Conclude ends a non-terminal run as verified when ok, timed out
// otherwise, and returns the result.
func (r *Runner) Conclude(ok bool) Result {
    if !r.state.Terminal() {
        if ok {
            r.state = StateVerified
        } else {
            r.state = StateTimedOut
        }
    }
    return r.Finish()
}

// Finish seals the result. A run still reading ends verified when its last
// read matched; a run that only wrote ends verified when nothing failed.
// Later calls return the same result.
func (r *Runner) Finish() Result {
    if r.sealed != nil { return *r.sealed }
    switch r.state {
    case StateReading:
        r.state = pick(r.lastVisible)
    case StateWriting, StateConfigured:
        r.state = pick(len(r.res.Violations) == 0)
    case StateNew:
        r.observe("finished before any step")
        r.state = StateTimedOut
    case StatePolling:
        r.state = StateTimedOut
    }
    res := r.res
    res.Outcome = r.state
    res.Holds = r.state == StateVerified && len(res.Violations) == 0
    res.Samples = r.probe.Samples()
    res.Operations = r.oplog.Records()
    res.FinishedAt = time.Now()
    if err := r.oplog.Close(); err != nil { logutil.Warnf(r.logger, "experiment %s: close oplog: %v", r.cfg.Scenario, err) }
    r.sealed = &res
    return res
}

func (r *Runner) fail(err error) error {
    r.res.Error = err.Error()
    r.state = StateAborted
    return err
}

func pick(ok bool) State {
    if ok { return StateVerified }
    return StateTimedOut
}

// project keeps the fields of doc named in expect, for compact notes.
func project(doc, expect store.Document) store.Document {
    if len(expect) == 0 { return doc }
    out := store.Document{}
    for k := range expect { out[k] = doc[k] }
    return out
}
