// Package report renders experiment results for a terminal.
package report

import (
    "fmt"
    "io"
    "os"
    "slices"
    "strings"
    "text/tabwriter"
    "time"

    "github.com/fatih/color"
    "github.com/mattn/go-isatty"

    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/failover"
    "github.com/amirimatin/replprobe/pkg/store"
)

// Printer writes human-readable reports. The zero value is not usable;
// build one with New.
type Printer struct {
    out     io.Writer
    verbose bool

    ok, warn, bad, head, dim *color.Color
}

// Options configure a Printer.
type Options struct {
    // Color forces colored output on or off. Nil colors only terminals.
    Color *bool
    // Verbose adds observations and individual samples.
    Verbose bool
}

// New returns a Printer writing to w.
func New(w io.Writer, opts Options) *Printer {
    if w == nil { w = os.Stdout }
    p := &Printer{
        out:     w,
        verbose: opts.Verbose,
        ok:      color.New(color.FgGreen, color.Bold),
        warn:    color.New(color.FgYellow),
        bad:     color.New(color.FgRed, color.Bold),
        head:    color.New(color.FgCyan, color.Bold),
        dim:     color.New(color.Faint),
    }
    enable := isTerminal(w)
    if opts.Color != nil { enable = *opts.Color }
    for _, c := range []*color.Color{p.ok, p.warn, p.bad, p.head, p.dim} {
        if enable { c.EnableColor() } else { c.DisableColor() }
    }
    return p
}

func isTerminal(w io.Writer) bool {
    f, ok := w.(*os.File)
    return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func (p *Printer) printf(format string, args ...any) { fmt.Fprintf(p.out, format, args...) }

func (p *Printer) rule(title string) {
    line := strings.Repeat("=", 70)
    p.printf("\n%s\n%s\n%s\n", line, p.head.Sprint(" "+title), line)
}

func (p *Printer) outcome(s experiment.State) string {
    switch s {
    case experiment.StateVerified:
        return p.ok.Sprint(s)
    case experiment.StateTimedOut:
        return p.warn.Sprint(s)
    }
    return p.bad.Sprint(s)
}

// Error prints err on its own line.
func (p *Printer) Error(err error) {
    if err == nil { return }
    p.printf("%s %v\n", p.bad.Sprint("error:"), err)
}

func ms(d time.Duration) string { return fmt.Sprintf("%.2f ms", float64(d)/float64(time.Millisecond)) }

// Catalog prints the numbered scenario list.
func (p *Printer) Catalog(list []experiment.Scenario) {
    tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
    fmt.Fprintln(tw, "#\tNAME\tPART\tTITLE")
    for i, s := range list {
        fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, s.Name, s.Part, s.Title)
    }
    _ = tw.Flush()
}

// Topology prints the replica set view.
func (p *Printer) Topology(t store.Topology) {
    p.rule("Replica set status")
    if t.SetName != "" { p.printf("Set: %s  term: %d\n", t.SetName, t.Term) }
    leader := t.Leader
    if leader == "" { leader = p.bad.Sprint("none") }
    p.printf("Leader: %s\n", leader)
    tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
    fmt.Fprintln(tw, "MEMBER\tSTATE\tHEALTHY\tPRIORITY\tVOTES")
    members := t.Members
    if len(members) == 0 {
        for _, id := range append([]string{t.Leader}, t.Followers...) {
            if id == "" { continue }
            state := "follower"
            if id == t.Leader { state = "leader" }
            members = append(members, store.Member{ID: id, State: state, Healthy: t.Health[id]})
        }
    }
    for _, m := range members {
        healthy := p.ok.Sprint("yes")
        if !m.Healthy { healthy = p.bad.Sprint("no") }
        fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%d\n", m.ID, m.State, healthy, m.Priority, m.Votes)
    }
    _ = tw.Flush()
}

// Result prints one scenario result with its analysis.
func (p *Printer) Result(title string, r experiment.Result) {
    if title == "" { title = r.Scenario }
    p.rule(title)
    p.printf("Outcome: %s  holds: %t  reads: %d  retries: %d  duration: %s\n",
        p.outcome(r.Outcome), r.Holds, r.Reads, r.Retries, r.Duration().Round(time.Millisecond))
    if len(r.Collections) > 0 { p.printf("Collections: %s\n", strings.Join(r.Collections, ", ")) }
    if r.Error != "" { p.printf("%s %s\n", p.bad.Sprint("Error:"), r.Error) }

    if len(r.Documents) > 0 { p.documents(r.Documents) }
    if r.Topology != nil { p.Topology(*r.Topology) }
    if len(r.Summaries) > 0 { p.summaries(r) }
    if r.Failover != nil { p.failover(*r.Failover) }
    if r.Causal != nil {
        if r.Causal.Holds {
            p.printf("%s causally related operations observed in order\n", p.ok.Sprint("✓"))
        } else {
            p.printf("%s %d causal violations\n", p.bad.Sprint("✗"), len(r.Causal.Violations))
        }
    }
    if len(r.Violations) > 0 {
        p.printf("\nViolations:\n")
        for _, v := range r.Violations { p.printf("  %s %s\n", p.bad.Sprint("•"), v) }
    }
    if p.verbose && len(r.Observations) > 0 {
        p.printf("\nObservations:\n")
        for _, o := range r.Observations { p.printf("  %s\n", p.dim.Sprint(o)) }
    }
    if p.verbose && len(r.Samples) > 0 {
        tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
        fmt.Fprintln(tw, "\nOPERATION\tLABEL\tLATENCY\tFAILED")
        for _, s := range r.Samples { fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", s.OperationID, s.Label, ms(s.Duration), s.Failed) }
        _ = tw.Flush()
    }
    p.analysis(r.Scenario)
}

func (p *Printer) documents(docs []store.Document) {
    p.printf("\nDocuments (%d):\n", len(docs))
    for _, d := range docs {
        keys := make([]string, 0, len(d))
        for k := range d { if k != "_id" { keys = append(keys, k) } }
        slices.Sort(keys)
        parts := make([]string, 0, len(keys))
        for _, k := range keys { parts = append(parts, fmt.Sprintf("%s=%v", k, d[k])) }
        p.printf("  %s\n", strings.Join(parts, " "))
    }
}

func (p *Printer) summaries(r experiment.Result) {
    keys := make([]string, 0, len(r.Summaries))
    for k := range r.Summaries { keys = append(keys, k) }
    slices.Sort(keys)
    p.printf("\n")
    tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
    fmt.Fprintln(tw, "PROFILE\tCOUNT\tFAILED\tMEAN\tP50\tP95\tMIN\tMAX")
    for _, k := range keys {
        s := r.Summaries[k]
        fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n", k, s.Count, s.Failures, ms(s.Mean), ms(s.P50), ms(s.P95), ms(s.Min), ms(s.Max))
    }
    _ = tw.Flush()
    if r.Speedup > 0 {
        faster := "eventual profile faster"
        if r.Speedup < 1 { faster = "strong profile faster" }
        p.printf("Speedup: %.2fx (%s)\n", r.Speedup, faster)
    }
}

func (p *Printer) failover(f failover.Report) {
    p.printf("\nPrevious leader: %s\n", f.PreviousLeader)
    if f.ElectionTimedOut {
        p.printf("New leader: %s\n", p.bad.Sprint("none (election timed out)"))
    } else {
        p.printf("New leader: %s after %s\n", p.ok.Sprint(f.NewLeader), f.Election.Round(time.Millisecond))
    }
    p.printf("Write before step-down: %s in %s\n", f.PreWrite.Outcome, ms(f.PreWrite.Duration))
    gap := f.Gap.Outcome
    if gap == failover.GapAcknowledged { gap = p.ok.Sprint(gap) } else { gap = p.warn.Sprint(gap) }
    p.printf("Write during election: %s in %s\n", gap, ms(f.Gap.Duration))
    if f.PreviousLeaderState != "" { p.printf("Previous leader is now: %s\n", f.PreviousLeaderState) }
}

// Suite prints a one-line-per-scenario summary and the overall verdict.
func (p *Printer) Suite(s experiment.SuiteResult) {
    p.rule("Summary")
    tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
    fmt.Fprintln(tw, "SCENARIO\tOUTCOME\tHOLDS\tVIOLATIONS\tDURATION")
    for _, r := range s.Results {
        fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", r.Scenario, p.outcome(r.Outcome), r.Holds, len(r.Violations), r.Duration().Round(time.Millisecond))
    }
    _ = tw.Flush()
    for _, e := range s.Errors { p.printf("%s %s\n", p.bad.Sprint("error:"), e) }
    if s.Holds() {
        p.printf("%s\n", p.ok.Sprint("All properties hold."))
    } else {
        p.printf("%s\n", p.warn.Sprint("Some properties did not hold."))
    }
}
