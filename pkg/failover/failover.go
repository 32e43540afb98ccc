// Package failover drives a leader step-down against a store and records
// what a client observes until a new leader takes over.
package failover

import (
    "context"
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/observability/tracing"
    "github.com/amirimatin/replprobe/pkg/oplog"
    "github.com/amirimatin/replprobe/pkg/probe"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

const (
    DefaultPollInterval = 2 * time.Second
    DefaultMaxWait      = 30 * time.Second
    DefaultSettle       = 3 * time.Second
    DefaultLease        = 60 * time.Second
)

// Gap write outcomes.
const (
    GapAcknowledged = "acknowledged"
    GapUnavailable  = "unavailable"
    GapWriteTimeout = "write-timeout"
    GapError        = "error"
)

// GapWrite is the observed result of a write issued while the store may
// have no leader.
type GapWrite struct {
    Outcome string `json:"outcome"`
    ID      string `json:"id,omitempty"`
    // Operation is the oplog record id, or the document test_id without an
    // oplog.
    Operation string        `json:"operation,omitempty"`
    Duration  time.Duration `json:"duration"`
    Error     string        `json:"error,omitempty"`
}

// Report is everything one failover run observed.
type Report struct {
    PreviousLeader      string           `json:"previousLeader"`
    NewLeader           string           `json:"newLeader,omitempty"`
    Election            time.Duration    `json:"election,omitempty"`
    ElectionTimedOut    bool             `json:"electionTimedOut"`
    PreWrite            GapWrite         `json:"preWrite"`
    Gap                 GapWrite         `json:"gap"`
    PreviousLeaderState string           `json:"previousLeaderState,omitempty"`
    History             []store.Topology `json:"history,omitempty"`
}

// Monitor sequences a failover. Zero durations fall back to the defaults.
type Monitor struct {
    Store        store.Store
    PollInterval time.Duration
    MaxWait      time.Duration
    // Settle is the pause before the previous leader's state is read back.
    // A negative value skips it.
    Settle time.Duration
    // History keeps every topology snapshot polled while awaiting a leader.
    History bool
    // Probe, when set, times the pre-failure and gap writes.
    Probe *probe.Probe
    // Oplog, when set, gets a write record for each attempted write; the
    // stored document carries the record fields.
    Oplog  *oplog.Log
    Logger *log.Logger

    history []store.Topology
}

func (m *Monitor) pollInterval() time.Duration {
    if m.PollInterval > 0 { return m.PollInterval }
    return DefaultPollInterval
}

func (m *Monitor) maxWait() time.Duration {
    if m.MaxWait > 0 { return m.MaxWait }
    return DefaultMaxWait
}

func (m *Monitor) logger() *log.Logger {
    if m.Logger != nil { return m.Logger }
    return log.Default()
}

// TriggerStepDown asks the current leader to step down for lease. Rejections
// come back as store.ErrCommand.
func (m *Monitor) TriggerStepDown(ctx context.Context, lease time.Duration) (err error) {
    ctx, end := tracing.StartSpan(ctx, "failover.stepdown")
    defer func() { end(err) }()
    if lease <= 0 { lease = DefaultLease }
    if err := m.Store.StepDown(ctx, lease); err != nil {
        if errors.Is(err, store.ErrCommand) || errors.Is(err, store.ErrConnection) { return err }
        return store.Wrap("stepdown", store.ErrCommand, err)
    }
    logutil.Infof(m.logger(), "failover: step-down requested (lease %s)", lease)
    return nil
}

// AwaitNewLeader polls the topology until a leader other than previous shows
// up. It gives up with store.ErrElectionTimeout after MaxWait. Topology
// errors while polling are expected during an election and only logged.
func (m *Monitor) AwaitNewLeader(ctx context.Context, previous string) (leader string, elapsed time.Duration, err error) {
    ctx, end := tracing.StartSpan(ctx, "failover.await")
    defer func() { end(err) }()
    start := time.Now()
    deadline := start.Add(m.maxWait())
    for {
        topo, terr := m.Store.Topology(ctx)
        elapsed = time.Since(start)
        switch {
        case errors.Is(terr, store.ErrConnection):
            return "", elapsed, terr
        case terr != nil:
            logutil.Debugf(m.logger(), "failover: topology during election: %v", terr)
        default:
            if m.History { m.history = append(m.history, topo) }
            if topo.Leader != "" && topo.Leader != previous {
                metrics.ElectionSeconds.Set(elapsed.Seconds())
                logutil.Infof(m.logger(), "failover: new leader %s after %s", topo.Leader, elapsed.Round(time.Millisecond))
                return topo.Leader, elapsed, nil
            }
        }
        remaining := time.Until(deadline)
        if remaining <= 0 {
            return "", elapsed, store.Wrap("await-leader", store.ErrElectionTimeout, fmt.Errorf("no leader other than %q within %s", previous, m.maxWait()))
        }
        wait := m.pollInterval()
        if wait > remaining { wait = remaining }
        select {
        case <-ctx.Done():
            return "", time.Since(start), ctx.Err()
        case <-time.After(wait):
        }
    }
}

// AttemptWrite issues one write bounded by p.WriteTimeout and records how it
// ended. Failures are data, not errors.
func (m *Monitor) AttemptWrite(ctx context.Context, coll string, doc store.Document, p profile.Profile) GapWrite {
    opID := fmt.Sprint(doc["test_id"])
    if m.Oplog != nil {
        rec, err := m.Oplog.Append(oplog.KindWrite, doc, nil)
        if err != nil { return GapWrite{Outcome: GapError, Operation: opID, Error: err.Error()} }
        opID, doc = rec.ID.String(), rec.Document()
    }
    ctx, cancel := context.WithTimeout(ctx, p.WriteTimeout)
    defer cancel()
    write := func() (store.WriteResult, error) { return m.Store.Write(ctx, coll, doc, p) }
    var (
        res store.WriteResult
        err error
        dur time.Duration
    )
    if m.Probe != nil {
        var s probe.Sample
        res, s, err = probe.Measure(m.Probe, opID, "write", write)
        dur = s.Duration
    } else {
        start := time.Now()
        res, err = write()
        dur = time.Since(start)
    }
    gw := GapWrite{ID: res.ID, Operation: opID, Duration: dur, Outcome: GapAcknowledged}
    if err != nil {
        gw.Error = err.Error()
        switch {
        case errors.Is(err, store.ErrWriteTimeout), errors.Is(err, context.DeadlineExceeded):
            gw.Outcome = GapWriteTimeout
        case errors.Is(err, store.ErrUnavailable):
            gw.Outcome = GapUnavailable
        default:
            gw.Outcome = GapError
        }
    }
    return gw
}

// Run performs a full failover: read the topology, write before the
// failure, step down, write during the gap, wait for a new leader and read
// the previous leader's state after Settle. The report is returned even
// when err is non-nil. Only a rejected step-down or a lost connection is an
// error; an election timeout is recorded on the report.
func (m *Monitor) Run(ctx context.Context, coll string, lease time.Duration, p profile.Profile) (Report, error) {
    var rep Report
    m.history = nil
    topo, err := m.Store.Topology(ctx)
    if err != nil { return rep, err }
    if !topo.HasLeader() { return rep, store.Wrap("failover", store.ErrUnavailable, errors.New("no leader to step down")) }
    rep.PreviousLeader = topo.Leader
    logutil.Infof(m.logger(), "failover: current leader %s", rep.PreviousLeader)

    rep.PreWrite = m.AttemptWrite(ctx, coll, store.Document{
        "test_id":   "before_failover",
        "message":   "written before the leader stepped down",
        "timestamp": time.Now().UTC(),
    }, p)

    if err := m.TriggerStepDown(ctx, lease); err != nil { return rep, err }

    rep.Gap = m.AttemptWrite(ctx, coll, store.Document{
        "test_id":   "during_failover",
        "message":   "written while the election was in progress",
        "timestamp": time.Now().UTC(),
    }, p)
    logutil.Infof(m.logger(), "failover: gap write %s in %s", rep.Gap.Outcome, rep.Gap.Duration.Round(time.Millisecond))

    leader, elapsed, err := m.AwaitNewLeader(ctx, rep.PreviousLeader)
    rep.History = m.history
    switch {
    case errors.Is(err, store.ErrElectionTimeout):
        rep.ElectionTimedOut = true
        rep.Election = elapsed
        logutil.Warnf(m.logger(), "failover: %v", err)
        return rep, nil
    case err != nil:
        return rep, err
    }
    rep.NewLeader, rep.Election = leader, elapsed

    settle := m.Settle
    if settle == 0 { settle = DefaultSettle }
    if settle > 0 {
        select {
        case <-ctx.Done():
            return rep, ctx.Err()
        case <-time.After(settle):
        }
    }
    if after, err := m.Store.Topology(ctx); err == nil {
        if mem, ok := after.Member(rep.PreviousLeader); ok { rep.PreviousLeaderState = mem.State }
    }
    return rep, nil
}
