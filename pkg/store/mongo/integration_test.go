//go:build integration

package mongostore

import (
    "context"
    "errors"
    "fmt"
    "os"
    "testing"
    "time"

    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

func connectLive(t *testing.T) *Store {
    t.Helper()
    uri := os.Getenv("STORE_URI")
    if uri == "" { t.Skip("STORE_URI not set") }
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    s, err := Connect(ctx, Options{URI: uri, Database: "replprobe_it"})
    if err != nil { t.Fatalf("connect: %v", err) }
    t.Cleanup(func() { _ = s.Close(context.Background()) })
    return s
}

func TestLiveStrongRoundTrip(t *testing.T) {
    s := connectLive(t)
    ctx := context.Background()
    coll := fmt.Sprintf("it_strong_%d", time.Now().UnixNano())
    defer s.Clear(ctx, coll)
    p := profile.Strong()
    if _, err := s.Write(ctx, coll, store.Document{"test_id": "rt", "value": 100}, p); err != nil { t.Fatal(err) }
    doc, ok, err := s.Read(ctx, coll, store.Document{"test_id": "rt"}, p)
    if err != nil || !ok { t.Fatalf("read: %v %v", ok, err) }
    if !store.ValueEqual(doc["value"], 100) { t.Fatalf("value=%v", doc["value"]) }
    res, err := s.Update(ctx, coll, store.Document{"test_id": "rt"}, store.Document{"value": 200}, p)
    if err != nil || res.Modified != 1 { t.Fatalf("update: %+v %v", res, err) }
}

func TestLiveTopology(t *testing.T) {
    s := connectLive(t)
    topo, err := s.Topology(context.Background())
    if err != nil { t.Fatal(err) }
    if !topo.HasLeader() { t.Fatalf("no primary in %+v", topo) }
    if topo.Voters() < 1 { t.Fatalf("voters: %d", topo.Voters()) }
}

func TestLiveWriteAllTimesOutWhenUnsatisfiable(t *testing.T) {
    s := connectLive(t)
    ctx := context.Background()
    coll := fmt.Sprintf("it_all_%d", time.Now().UnixNano())
    defer s.Clear(ctx, coll)
    // more voters than exist can never be satisfied
    s.voters.Store(50)
    p := profile.WriteBenchmark(profile.WriteAll)
    p.WriteTimeout = time.Second
    _, err := s.Write(ctx, coll, store.Document{"x": 1}, p)
    if err == nil { t.Fatalf("expected failure") }
    if !errors.Is(err, store.ErrWriteTimeout) && !errors.Is(err, store.ErrCommand) {
        t.Fatalf("unexpected kind: %v", err)
    }
}
