package config

import (
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    mongostore "github.com/amirimatin/replprobe/pkg/store/mongo"
)

func writeYAML(t *testing.T, content string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "replprobe.yml")
    if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
        t.Fatalf("failed to write yaml %s: %v", path, err)
    }
    return path
}

func clearEnv(t *testing.T) {
    t.Helper()
    for _, k := range []string{EnvStoreURI, EnvMongoURI, EnvBackend, EnvConfig, EnvLogLevel} { t.Setenv(k, "") }
}

func TestExpandEnvStrict(t *testing.T) {
    t.Setenv("REPLPROBE_TEST_HOST", "mongo9")
    got, err := ExpandEnvStrict("uri: mongodb://${REPLPROBE_TEST_HOST}:27017")
    if err != nil { t.Fatal(err) }
    if got != "uri: mongodb://mongo9:27017" { t.Fatalf("got %q", got) }

    if _, err := ExpandEnvStrict("uri: ${REPLPROBE_TEST_UNSET_VAR}"); err == nil {
        t.Fatalf("expected error for unset variable")
    }
}

func TestDefaults(t *testing.T) {
    clearEnv(t)
    c, err := Load("")
    if err != nil { t.Fatal(err) }
    if c.Backend != BackendMongo || c.Store.URI != mongostore.DefaultURI || c.Store.Database != mongostore.DefaultDatabase {
        t.Fatalf("unexpected defaults: %+v", c)
    }
    if c.Experiment.Parallel != 1 || c.Log.Level != "info" || c.Store.Discovery.Kind != DiscoveryURI {
        t.Fatalf("unexpected defaults: %+v", c)
    }
}

func TestLoadFileWithEnvExpansion(t *testing.T) {
    clearEnv(t)
    t.Setenv("REPLPROBE_TEST_DB", "lab_db")
    path := writeYAML(t, `
backend: embedded
store:
  database: ${REPLPROBE_TEST_DB}
embedded:
  members: 5
  gossip: true
experiment:
  write-timeout: 2s
  poll:
    max-attempts: 0
    interval: 50ms
  failover:
    max-wait: 10s
  parallel: 3
log:
  level: debug
  format: json
`)
    c, err := Load(path)
    if err != nil { t.Fatal(err) }
    if c.Backend != BackendEmbedded || c.Store.Database != "lab_db" || c.Embedded.Members != 5 || !c.Embedded.Gossip {
        t.Fatalf("unexpected config: %+v", c)
    }
    if c.Experiment.Poll == nil || c.Experiment.Poll.MaxAttempts != 0 || c.Experiment.Poll.Interval != 50*time.Millisecond {
        t.Fatalf("poll policy: %+v", c.Experiment.Poll)
    }
    env := c.Env()
    if env.WriteTimeout != 2*time.Second || env.Failover.MaxWait != 10*time.Second || env.Poll != c.Experiment.Poll {
        t.Fatalf("env: %+v", env)
    }
}

func TestEnvOverridesFile(t *testing.T) {
    clearEnv(t)
    path := writeYAML(t, "store:\n  uri: mongodb://file:27017\n")
    t.Setenv(EnvConfig, path)
    t.Setenv(EnvMongoURI, "mongodb://mongo-uri:27017")
    t.Setenv(EnvStoreURI, "mongodb://store-uri:27017")
    t.Setenv(EnvBackend, "embedded")

    c, err := Load("")
    if err != nil { t.Fatal(err) }
    if c.Store.URI != "mongodb://store-uri:27017" || c.Backend != BackendEmbedded {
        t.Fatalf("env override failed: %+v", c)
    }
}

func TestUnknownKeyRejected(t *testing.T) {
    if _, err := Parse([]byte("backend: mongo\nbogus: 1\n")); err == nil {
        t.Fatalf("expected unknown field error")
    }
    if _, err := Parse(nil); err != nil { t.Fatalf("empty document: %v", err) }
}

func TestValidate(t *testing.T) {
    c := Default()
    c.Backend = "postgres"
    c.Store.Discovery.Kind = DiscoveryDNS
    c.Experiment.Parallel = 0
    c.Log.Level = "loud"
    err := c.Validate()
    if err == nil { t.Fatalf("expected validation error") }
    for _, want := range []string{"backend", "parallel", "log level"} {
        if !strings.Contains(err.Error(), want) { t.Fatalf("missing %q in %v", want, err) }
    }

    c = Default()
    c.Store.URI = ""
    c.Store.Discovery = DiscoveryConfig{Kind: DiscoveryStatic}
    if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "seeds") {
        t.Fatalf("expected seeds error, got %v", err)
    }

    c = Default()
    c.Control.TLS = TLSConfig{Enable: true, Cert: "server.pem"}
    if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "control.tls") {
        t.Fatalf("expected control tls error, got %v", err)
    }
}

func TestApplyLogging(t *testing.T) {
    defer logutil.SetLevel(logutil.CurrentLevel())
    defer logutil.SetJSON(logutil.JSON())
    c := Default()
    c.Log = LogConfig{Level: "warn", Format: "json"}
    c.ApplyLogging()
    if logutil.CurrentLevel() != logutil.LevelWarn || !logutil.JSON() {
        t.Fatalf("logging not applied")
    }
}
