package dns

import (
    "context"
    "errors"
    "strings"
    "testing"

    "github.com/amirimatin/replprobe/pkg/discovery"
)

func TestParseSRVName(t *testing.T) {
    s, p, n := parseSRVName("_mongodb._tcp.db.example.com")
    if s != "mongodb" || p != "tcp" || n != "db.example.com" {
        t.Fatalf("parseSRVName failed: got (%q,%q,%q)", s, p, n)
    }
    s, p, n = parseSRVName("bad.srv")
    if s != "" || p != "" || n != "" {
        t.Fatalf("expected empty parts for bad input, got (%q,%q,%q)", s, p, n)
    }
}

func TestPassthroughHostPort(t *testing.T) {
    got, err := New(Options{Names: []string{"1.2.3.4:27018", "1.2.3.4:27018"}}).Endpoints(context.Background())
    if err != nil { t.Fatal(err) }
    if len(got) != 1 || got[0] != "1.2.3.4:27018" {
        t.Fatalf("unexpected endpoints: %#v", got)
    }
}

func TestLookupHostLocalhost(t *testing.T) {
    got, err := New(Options{Names: []string{"localhost"}}).Endpoints(context.Background())
    if err != nil { t.Fatal(err) }
    for _, s := range got {
        if !strings.HasSuffix(s, ":27017") { t.Fatalf("expected default port, got %#v", got) }
    }
}

func TestNothingResolves(t *testing.T) {
    _, err := New(Options{Names: []string{"  "}}).Endpoints(context.Background())
    if !errors.Is(err, discovery.ErrNoEndpoints) { t.Fatalf("want ErrNoEndpoints, got %v", err) }
}
