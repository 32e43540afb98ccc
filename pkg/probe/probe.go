package probe

import (
    "math"
    "slices"
    "sync"
    "time"

    "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/store"
)

// Sample is one timed operation.
type Sample struct {
    OperationID string        `json:"operationId"`
    Label       string        `json:"label,omitempty"`
    StartedAt   time.Time     `json:"startedAt"`
    Duration    time.Duration `json:"duration"`
    Failed      bool          `json:"failed"`
    Error       string        `json:"error,omitempty"`
}

// Summary aggregates a sample set. Mean and percentiles cover successful and
// failed samples alike.
type Summary struct {
    Count    int           `json:"count"`
    Failures int           `json:"failures"`
    Mean     time.Duration `json:"mean"`
    P50      time.Duration `json:"p50"`
    P95      time.Duration `json:"p95"`
    Min      time.Duration `json:"min"`
    Max      time.Duration `json:"max"`
}

// Probe times operations and keeps the samples in call order. A Probe is
// safe for concurrent use but each runner normally owns one.
type Probe struct {
    Scenario string
    // Now defaults to time.Now.
    Now func() time.Time

    mu      sync.Mutex
    samples []Sample
}

func New(scenario string) *Probe { return &Probe{Scenario: scenario} }

func (p *Probe) now() time.Time {
    if p.Now != nil { return p.Now() }
    return time.Now()
}

// Measure runs fn once, records a sample labelled kind and returns fn's
// result. Errors are recorded on the sample and propagated unchanged; the
// probe never retries.
func Measure[T any](p *Probe, opID, kind string, fn func() (T, error)) (T, Sample, error) {
    start := p.now()
    v, err := fn()
    s := Sample{OperationID: opID, Label: kind, StartedAt: start, Duration: p.now().Sub(start)}
    if err != nil {
        s.Failed = true
        s.Error = err.Error()
    }
    p.record(s, store.Outcome(err))
    return v, s, err
}

func (p *Probe) record(s Sample, outcome string) {
    p.mu.Lock()
    p.samples = append(p.samples, s)
    p.mu.Unlock()
    metrics.OpDuration.WithLabelValues(p.Scenario, s.Label, outcome).Observe(s.Duration.Seconds())
    metrics.OpOutcomes.WithLabelValues(s.Label, outcome).Inc()
}

// Samples returns a copy of every sample recorded so far.
func (p *Probe) Samples() []Sample {
    p.mu.Lock()
    defer p.mu.Unlock()
    return slices.Clone(p.samples)
}

// Labelled returns the recorded samples carrying label, in call order.
func (p *Probe) Labelled(label string) []Sample {
    p.mu.Lock()
    defer p.mu.Unlock()
    var out []Sample
    for _, s := range p.samples { if s.Label == label { out = append(out, s) } }
    return out
}

// Summarize drops the first warmup samples and aggregates the rest using
// nearest-rank percentiles. It never modifies samples.
func Summarize(samples []Sample, warmup int) Summary {
    if warmup < 0 { warmup = 0 }
    if warmup >= len(samples) { return Summary{} }
    kept := samples[warmup:]
    durs := make([]time.Duration, len(kept))
    var total time.Duration
    sum := Summary{Count: len(kept)}
    for i, s := range kept {
        durs[i] = s.Duration
        total += s.Duration
        if s.Failed { sum.Failures++ }
    }
    slices.Sort(durs)
    sum.Mean = total / time.Duration(len(durs))
    sum.P50 = nearestRank(durs, 50)
    sum.P95 = nearestRank(durs, 95)
    sum.Min = durs[0]
    sum.Max = durs[len(durs)-1]
    return sum
}

func nearestRank(sorted []time.Duration, pct float64) time.Duration {
    rank := int(math.Ceil(pct / 100 * float64(len(sorted))))
    if rank < 1 { rank = 1 }
    return sorted[rank-1]
}

// Speedup returns how many times faster b's mean is than a's. Zero when
// either mean is zero.
func Speedup(a, b Summary) float64 {
    if a.Mean <= 0 || b.Mean <= 0 { return 0 }
    return float64(a.Mean) / float64(b.Mean)
}
