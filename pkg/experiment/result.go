package experiment

import (
    "time"

    "github.com/amirimatin/replprobe/pkg/causal"
    "github.com/amirimatin/replprobe/pkg/failover"
    "github.com/amirimatin/replprobe/pkg/oplog"
    "github.com/amirimatin/replprobe/pkg/probe"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

// Result is the terminal record of one scenario run. It is produced even
// when every operation failed.
type Result struct {
    Scenario     string                   `json:"scenario"`
    Collections  []string                 `json:"collections,omitempty"`
    Outcome      State                    `json:"outcome"`
    Holds        bool                     `json:"holds"`
    Violations   []string                 `json:"violations,omitempty"`
    Observations []string                 `json:"observations,omitempty"`
    Samples      []probe.Sample           `json:"samples,omitempty"`
    Summaries    map[string]probe.Summary `json:"summaries,omitempty"`
    Operations   []oplog.Record           `json:"operations,omitempty"`
    Reads        int                      `json:"reads"`
    Retries      int                      `json:"retries"`
    Profile      profile.Profile          `json:"profile"`
    StartedAt    time.Time                `json:"startedAt"`
    FinishedAt   time.Time                `json:"finishedAt"`
    // Error carries the fatal error that ended the run early, if any.
    Error string `json:"error,omitempty"`

    // Scenario specific data.
    Speedup   float64          `json:"speedup,omitempty"`
    Topology  *store.Topology  `json:"topology,omitempty"`
    Failover  *failover.Report `json:"failover,omitempty"`
    Causal    *causal.Result   `json:"causal,omitempty"`
    Documents []store.Document `json:"documents,omitempty"`
}

// Duration is the wall-clock time between start and finish.
func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// merge combines the results of several runners that make up one
// scenario. The outcome is the worst of the parts.
func merge(scenario string, parts ...Result) Result {
    out := Result{Scenario: scenario, Summaries: map[string]probe.Summary{}}
    for i, p := range parts {
        if i == 0 {
            out.Outcome = p.Outcome
            out.Profile = p.Profile
            out.StartedAt = p.StartedAt
        }
        out.Outcome = worse(out.Outcome, p.Outcome)
        out.Collections = append(out.Collections, p.Collections...)
        out.Violations = append(out.Violations, p.Violations...)
        out.Observations = append(out.Observations, p.Observations...)
        out.Samples = append(out.Samples, p.Samples...)
        out.Operations = append(out.Operations, p.Operations...)
        out.Reads += p.Reads
        out.Retries += p.Retries
        for k, v := range p.Summaries { out.Summaries[k] = v }
        if p.StartedAt.Before(out.StartedAt) { out.StartedAt = p.StartedAt }
        if p.FinishedAt.After(out.FinishedAt) { out.FinishedAt = p.FinishedAt }
        if out.Error == "" { out.Error = p.Error }
    }
    out.Holds = out.Outcome == StateVerified && len(out.Violations) == 0
    return out
}
