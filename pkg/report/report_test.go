package report

import (
    "bytes"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/replprobe/pkg/causal"
    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/failover"
    "github.com/amirimatin/replprobe/pkg/probe"
    "github.com/amirimatin/replprobe/pkg/store"
)

func plain(buf *bytes.Buffer, verbose bool) *Printer {
    off := false
    return New(buf, Options{Color: &off, Verbose: verbose})
}

func TestResultStrong(t *testing.T) {
    var buf bytes.Buffer
    start := time.Unix(1700000000, 0)
    plain(&buf, true).Result("Strong consistency", experiment.Result{
        Scenario:     "strong",
        Collections:  []string{"consistency_test"},
        Outcome:      experiment.StateVerified,
        Holds:        true,
        Reads:        2,
        Observations: []string{"read value 100"},
        StartedAt:    start,
        FinishedAt:   start.Add(42 * time.Millisecond),
    })
    out := buf.String()
    for _, want := range []string{"Strong consistency", "Outcome: verified", "holds: true", "consistency_test", "read value 100", "CAP analysis", "financial transactions"} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in:\n%s", want, out) }
    }
    if strings.Contains(out, "\x1b[") { t.Fatalf("color escapes with color disabled") }
}

func TestResultComparisonAndFailover(t *testing.T) {
    var buf bytes.Buffer
    plain(&buf, false).Result("", experiment.Result{
        Scenario:  "comparison",
        Outcome:   experiment.StateVerified,
        Summaries: map[string]probe.Summary{"strong": {Count: 4, Mean: 4 * time.Millisecond}, "eventual": {Count: 4, Mean: 2 * time.Millisecond}},
        Speedup:   2,
        Failover: &failover.Report{
            PreviousLeader: "mongo1:27017", NewLeader: "mongo2:27017", Election: 1500 * time.Millisecond,
            Gap: failover.GapWrite{Outcome: failover.GapUnavailable, Duration: time.Second},
        },
        Causal:     &causal.Result{Holds: false, Violations: []causal.Violation{{Rule: causal.RuleLogicalTime, Detail: "x"}}},
        Violations: []string{"causal: x"},
    })
    out := buf.String()
    for _, want := range []string{"PROFILE", "eventual", "4.00 ms", "Speedup: 2.00x (eventual profile faster)", "New leader: mongo2:27017 after 1.5s", "unavailable", "1 causal violations", "causal: x"} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in:\n%s", want, out) }
    }
}

func TestTopologyWithoutMembers(t *testing.T) {
    var buf bytes.Buffer
    plain(&buf, false).Topology(store.Topology{Leader: "a", Followers: []string{"b"}, Health: map[string]bool{"a": true}})
    out := buf.String()
    if !strings.Contains(out, "Leader: a") || !strings.Contains(out, "leader") || !strings.Contains(out, "no") {
        t.Fatalf("unexpected topology output:\n%s", out)
    }
}

func TestSuiteAndCatalog(t *testing.T) {
    var buf bytes.Buffer
    p := plain(&buf, false)
    p.Catalog(experiment.Catalog())
    p.Suite(experiment.SuiteResult{Results: []experiment.Result{{Scenario: "strong", Outcome: experiment.StateVerified, Holds: true}}})
    out := buf.String()
    for _, want := range []string{"1  setup", "write-concern", "All properties hold."} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in:\n%s", want, out) }
    }
}
