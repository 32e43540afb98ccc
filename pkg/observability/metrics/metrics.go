package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    OpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "replprobe",
        Name:      "op_duration_seconds",
        Help:      "Latency of store operations issued by experiments",
        Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
    }, []string{"scenario", "kind", "outcome"})

    OpOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "replprobe",
        Name:      "op_outcomes_total",
        Help:      "Store operations by kind and taxonomy outcome",
    }, []string{"kind", "outcome"})

    ScenarioRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "replprobe",
        Name:      "scenario_runs_total",
        Help:      "Completed scenario runs by terminal state",
    }, []string{"scenario", "state"})

    PollAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "replprobe",
        Name:      "poll_attempts",
        Help:      "Reads needed before an expectation became visible",
        Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
    }, []string{"scenario"})

    CausalViolations = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "replprobe",
        Name:      "causal_violations_total",
        Help:      "Causal ordering violations detected by the validator",
    })

    LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "replprobe",
        Name:      "leader_changes_total",
        Help:      "Total number of observed leader change events",
    })

    ElectionSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "replprobe",
        Name:      "last_election_seconds",
        Help:      "Time taken by the most recent observed election",
    })

    StoreMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "replprobe",
        Subsystem: "store",
        Name:      "members",
        Help:      "Members reported by the last topology query",
    })

    StoreHealthyMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "replprobe",
        Subsystem: "store",
        Name:      "healthy_members",
        Help:      "Healthy members reported by the last topology query",
    })

    ControlRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "replprobe",
        Subsystem: "control",
        Name:      "requests_total",
        Help:      "Control plane requests by transport and method",
    }, []string{"transport", "method", "result"})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(OpDuration)
        prometheus.MustRegister(OpOutcomes)
        prometheus.MustRegister(ScenarioRuns)
        prometheus.MustRegister(PollAttempts)
        prometheus.MustRegister(CausalViolations)
        prometheus.MustRegister(LeaderChanges)
        prometheus.MustRegister(ElectionSeconds)
        prometheus.MustRegister(StoreMembers)
        prometheus.MustRegister(StoreHealthyMembers)
        prometheus.MustRegister(ControlRequests)
    })
}

// ObserveTopology updates the membership gauges from a member/healthy count.
func ObserveTopology(members, healthy int) {
    StoreMembers.Set(float64(members))
    StoreHealthyMembers.Set(float64(healthy))
}
