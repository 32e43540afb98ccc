package bootstrap

import (
    "context"
    "errors"
    "io"
    "log"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/replprobe/pkg/config"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

var quiet = log.New(io.Discard, "", 0)

func TestStoreURIKinds(t *testing.T) {
    ctx := context.Background()
    sc := config.StoreConfig{URI: "mongodb://given:27017", ReplicaSet: "rs0", Discovery: config.DiscoveryConfig{Kind: config.DiscoveryURI}}
    if got, err := StoreURI(ctx, sc, quiet); err != nil || got != "mongodb://given:27017" {
        t.Fatalf("uri kind: %q %v", got, err)
    }

    sc.Discovery = config.DiscoveryConfig{Kind: config.DiscoveryStatic, Seeds: []string{"mongo1", "mongo2", "mongo3"}}
    got, err := StoreURI(ctx, sc, quiet)
    if err != nil { t.Fatal(err) }
    if got != "mongodb://mongo1:27017,mongo2:27017,mongo3:27017/?replicaSet=rs0" { t.Fatalf("static kind: %q", got) }

    path := filepath.Join(t.TempDir(), "members")
    if err := os.WriteFile(path, []byte("m2:27018\nm1:27018\n"), 0o644); err != nil { t.Fatal(err) }
    sc.Discovery = config.DiscoveryConfig{Kind: config.DiscoveryFile, Path: path}
    sc.TLS.Enable = true
    got, err = StoreURI(ctx, sc, quiet)
    if err != nil { t.Fatal(err) }
    if got != "mongodb://m1:27018,m2:27018/?replicaSet=rs0&tls=true" { t.Fatalf("file kind: %q", got) }
}

func TestStoreURIEmptyDiscovery(t *testing.T) {
    sc := config.StoreConfig{Discovery: config.DiscoveryConfig{Kind: config.DiscoveryStatic}}
    if _, err := StoreURI(context.Background(), sc, quiet); err == nil { t.Fatalf("expected discovery error") }
}

func TestOpenEmbedded(t *testing.T) {
    cfg := config.Default()
    cfg.Backend = config.BackendEmbedded
    cfg.Embedded.Members = 3

    leaders := make(chan string, 8)
    s, err := Open(context.Background(), cfg, quiet, Hooks{OnLeaderChange: func(_, cur string) {
        select {
        case leaders <- cur:
        default:
        }
    }})
    if err != nil { t.Fatalf("open: %v", err) }
    defer func() { _ = Close(s, 5*time.Second) }()

    topo, err := s.Topology(context.Background())
    if err != nil { t.Fatal(err) }
    if !topo.HasLeader() || topo.Voters() != 3 { t.Fatalf("unexpected topology: %+v", topo) }
    select {
    case id := <-leaders:
        if id == "" { t.Fatalf("empty leader in hook") }
    case <-time.After(2 * time.Second):
        t.Fatalf("leader hook not called")
    }

    p := profile.Strong()
    if _, err := s.Write(context.Background(), "boot", store.Document{"k": 1}, p); err != nil { t.Fatal(err) }
    doc, ok, err := s.Read(context.Background(), "boot", store.Document{"k": 1}, p)
    if err != nil || !ok || !store.Matches(doc, store.Document{"k": 1}) { t.Fatalf("read back: %v %v %v", doc, ok, err) }
}

func TestOpenMongoUnreachable(t *testing.T) {
    cfg := config.Default()
    cfg.Store.URI = "mongodb://127.0.0.1:1/?directConnection=true"
    cfg.Store.ConnectTimeout = 200 * time.Millisecond
    cfg.Store.ServerSelectionTimeout = 200 * time.Millisecond
    _, err := Open(context.Background(), cfg, quiet, Hooks{})
    if !errors.Is(err, store.ErrConnection) { t.Fatalf("want ErrConnection, got %v", err) }
}

func TestOpenUnknownBackend(t *testing.T) {
    cfg := config.Default()
    cfg.Backend = "sqlite"
    if _, err := Open(context.Background(), cfg, quiet, Hooks{}); err == nil { t.Fatalf("expected error") }
}
