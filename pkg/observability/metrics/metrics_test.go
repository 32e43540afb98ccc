package metrics

import (
    "testing"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotent(t *testing.T) {
    Register()
    Register()
    if err := prometheus.Register(OpOutcomes); err == nil {
        t.Fatalf("expected AlreadyRegisteredError after Register")
    }
}

func TestObserveTopology(t *testing.T) {
    ObserveTopology(3, 2)
    if v := testutil.ToFloat64(StoreMembers); v != 3 { t.Fatalf("members=%v", v) }
    if v := testutil.ToFloat64(StoreHealthyMembers); v != 2 { t.Fatalf("healthy=%v", v) }
}

func TestOutcomeCounter(t *testing.T) {
    before := testutil.ToFloat64(OpOutcomes.WithLabelValues("write", "write-timeout"))
    OpOutcomes.WithLabelValues("write", "write-timeout").Inc()
    after := testutil.ToFloat64(OpOutcomes.WithLabelValues("write", "write-timeout"))
    if after-before != 1 { t.Fatalf("counter delta=%v", after-before) }
}
