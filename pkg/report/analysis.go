package report

// commentary is the CAP discussion printed after a scenario.
type commentary struct {
    cap  []string
    uses []string
}

var analyses = map[string]commentary{
    "strong": {
        cap: []string{
            "C (consistency): guaranteed, reads always return the latest acknowledged write",
            "A (availability): partially sacrificed, reads and writes stop without a majority",
            "P (partition tolerance): tolerates the loss of a minority of members",
        },
        uses: []string{"financial transactions", "inventory management", "order status"},
    },
    "eventual": {
        cap: []string{
            "C (consistency): eventual, followers may briefly serve stale data",
            "A (availability): high, writes need only the leader and any member can serve reads",
            "P (partition tolerance): high, keeps working when every follower is gone",
        },
        uses: []string{"like and view counters", "logging", "caches"},
    },
    "comparison": {
        cap: []string{
            "Majority acknowledgement pays a replication round trip on every write",
            "Leader-only acknowledgement trades durability across failover for latency",
        },
    },
    "causal": {
        cap: []string{
            "Causally related operations are observed in order",
            "Concurrent operations may be observed in any order",
            "Stricter than eventual consistency, cheaper than strong consistency",
        },
        uses: []string{"social timelines", "chat message order", "collaborative editing"},
    },
    "write-concern": {
        cap: []string{
            "Each step up in acknowledgement level adds latency",
            "Acknowledgement from every member fails as soon as one member is unreachable",
        },
    },
    "failover": {
        cap: []string{
            "Writes are unavailable between step-down and the next election",
            "Majority-acknowledged writes survive the change of leader",
        },
    },
}

func (p *Printer) analysis(scenario string) {
    a, ok := analyses[scenario]
    if !ok { return }
    p.printf("\n%s\n", p.head.Sprint("CAP analysis:"))
    for _, l := range a.cap { p.printf("  %s\n", l) }
    if len(a.uses) > 0 {
        p.printf("%s\n", p.head.Sprint("Suited to:"))
        for _, u := range a.uses { p.printf("  %s %s\n", p.ok.Sprint("✓"), u) }
    }
}
