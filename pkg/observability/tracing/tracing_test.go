package tracing

import (
    "context"
    "errors"
    "testing"
)

func TestDisabledSpanIsNoop(t *testing.T) {
    shutdown, err := Setup(false)
    if err != nil { t.Fatal(err) }
    defer shutdown(context.Background())
    if Enabled() { t.Fatalf("tracing should be disabled") }
    ctx := context.Background()
    got, end := StartSpan(ctx, "noop")
    if got != ctx { t.Fatalf("disabled span must return the same context") }
    end(errors.New("ignored"))
}
