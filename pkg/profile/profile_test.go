package profile

import (
    "encoding/json"
    "testing"
    "time"

    "gopkg.in/yaml.v3"
)

func TestParseWriteAck(t *testing.T) {
    cases := []struct{
        in   string
        want WriteAck
    }{
        {"none", WriteNone},
        {"0", WriteNone},
        {"1", WriteOne},
        {" One ", WriteOne},
        {"majority", WriteQuorum},
        {"quorum", WriteQuorum},
        {"ALL", WriteAll},
    }
    for _, c := range cases {
        got, err := ParseWriteAck(c.in)
        if err != nil { t.Fatalf("%q: %v", c.in, err) }
        if got != c.want { t.Fatalf("%q: got %s want %s", c.in, got, c.want) }
    }
    if _, err := ParseWriteAck("three"); err == nil {
        t.Fatalf("expected error for unknown ack")
    }
}

func TestParseRouteAliases(t *testing.T) {
    for in, want := range map[string]ReadRoute{
        "primary":            RouteLeader,
        "secondaryPreferred": RouteFollowerPreferred,
        "secondary":          RouteFollower,
        "nearest":            RouteAny,
    } {
        got, err := ParseReadRoute(in)
        if err != nil || got != want { t.Fatalf("%q: got %v (%v) want %v", in, got, err, want) }
    }
}

func TestPresetsValidate(t *testing.T) {
    for name, p := range map[string]Profile{
        "strong":   Strong(),
        "eventual": Eventual(),
        "bench":    WriteBenchmark(WriteAll),
    } {
        if err := p.Validate(); err != nil { t.Fatalf("%s: %v", name, err) }
    }
    s := Strong()
    if s.WriteAck != WriteQuorum || s.ReadAck != ReadQuorum || s.ReadRoute != RouteLeader {
        t.Fatalf("unexpected strong preset: %v", s)
    }
    if !WriteBenchmark(WriteOne).Durable {
        t.Fatalf("benchmark profile must be durable")
    }
}

func TestValidateRejects(t *testing.T) {
    p := Strong()
    p.WriteTimeout = 0
    p.ReadRoute = ReadRoute(42)
    if err := p.Validate(); err == nil {
        t.Fatalf("expected validation error")
    }
}

func TestWithHelpersCopy(t *testing.T) {
    base := Eventual()
    other := base.WithWriteAck(WriteAll).WithReadRoute(RouteLeader)
    if base.WriteAck != WriteOne || base.ReadRoute != RouteFollowerPreferred {
        t.Fatalf("base mutated: %v", base)
    }
    if other.WriteAck != WriteAll || other.ReadRoute != RouteLeader {
        t.Fatalf("copy not updated: %v", other)
    }
}

func TestTextEncoding(t *testing.T) {
    p := Eventual()
    b, err := json.Marshal(p)
    if err != nil { t.Fatal(err) }
    var back Profile
    if err := json.Unmarshal(b, &back); err != nil { t.Fatal(err) }
    if back != p { t.Fatalf("json: got %v want %v", back, p) }

    var y Profile
    doc := "write-ack: majority\nwrite-timeout: 2s\nread-ack: quorum\nread-route: secondaryPreferred\nread-timeout: 1s\n"
    if err := yaml.Unmarshal([]byte(doc), &y); err != nil { t.Fatal(err) }
    if y.WriteAck != WriteQuorum || y.ReadRoute != RouteFollowerPreferred || y.WriteTimeout != 2*time.Second {
        t.Fatalf("yaml decode: %v", y)
    }
}
