// Package config loads the harness configuration from YAML, the process
// environment and defaults, in that order of increasing precedence for
// the environment.
package config

import (
    "bytes"
    "errors"
    "fmt"
    "io"
    "os"
    "slices"
    "strings"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    mongostore "github.com/amirimatin/replprobe/pkg/store/mongo"
)

const (
    BackendMongo    = "mongo"
    BackendEmbedded = "embedded"
)

// Discovery kinds for store endpoints.
const (
    DiscoveryURI    = "uri"
    DiscoveryStatic = "static"
    DiscoveryFile   = "file"
    DiscoveryDNS    = "dns"
)

type Config struct {
    Backend    string           `yaml:"backend"`
    Store      StoreConfig      `yaml:"store"`
    Embedded   EmbeddedConfig   `yaml:"embedded"`
    Experiment ExperimentConfig `yaml:"experiment"`
    Log        LogConfig        `yaml:"log"`
    Control    ControlConfig    `yaml:"control"`
    Trace      bool             `yaml:"trace"`
}

type StoreConfig struct {
    URI                    string          `yaml:"uri"`
    Database               string          `yaml:"database"`
    AppName                string          `yaml:"app-name"`
    ReplicaSet             string          `yaml:"replica-set"`
    ConnectTimeout         time.Duration   `yaml:"connect-timeout"`
    ServerSelectionTimeout time.Duration   `yaml:"server-selection-timeout"`
    Discovery              DiscoveryConfig `yaml:"discovery"`
    TLS                    TLSConfig       `yaml:"tls"`
}

// DiscoveryConfig selects where store endpoints come from when the URI is
// not given directly.
type DiscoveryConfig struct {
    Kind    string        `yaml:"kind"`
    Seeds   []string      `yaml:"seeds"`
    Path    string        `yaml:"path"`
    Env     string        `yaml:"env"`
    Names   []string      `yaml:"names"`
    Port    int           `yaml:"port"`
    Refresh time.Duration `yaml:"refresh"`
}

type TLSConfig struct {
    Enable     bool   `yaml:"enable"`
    CA         string `yaml:"ca"`
    Cert       string `yaml:"cert"`
    Key        string `yaml:"key"`
    ServerName string `yaml:"server-name"`
    Insecure   bool   `yaml:"insecure-skip-verify"`
}

type EmbeddedConfig struct {
    Members          int           `yaml:"members"`
    SetName          string        `yaml:"set-name"`
    DataDir          string        `yaml:"data-dir"`
    Gossip           bool          `yaml:"gossip"`
    RaftLogLevel     string        `yaml:"raft-log-level"`
    HeartbeatTimeout time.Duration `yaml:"heartbeat-timeout"`
    ElectionTimeout  time.Duration `yaml:"election-timeout"`
    StartTimeout     time.Duration `yaml:"start-timeout"`
}

type ExperimentConfig struct {
    WriteTimeout time.Duration                `yaml:"write-timeout"`
    ReadTimeout  time.Duration                `yaml:"read-timeout"`
    Poll         *experiment.PollPolicy       `yaml:"poll"`
    Ops          int                          `yaml:"ops"`
    Pacing       time.Duration                `yaml:"pacing"`
    Namespace    string                       `yaml:"namespace"`
    Parallel     int                          `yaml:"parallel"`
    StopOnError  bool                         `yaml:"stop-on-error"`
    OplogDir     string                       `yaml:"oplog-dir"`
    Failover     experiment.FailoverSettings  `yaml:"failover"`
}

type LogConfig struct {
    Level  string `yaml:"level"`
    Format string `yaml:"format"`
}

// ControlConfig holds the listen addresses of the control plane. An empty
// address disables that listener.
type ControlConfig struct {
    HTTPAddr string    `yaml:"http-addr"`
    GRPCAddr string    `yaml:"grpc-addr"`
    TLS      TLSConfig `yaml:"tls"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
    c := Config{}
    c.setDefaults()
    return c
}

func (c *Config) setDefaults() {
    if c.Backend == "" { c.Backend = BackendMongo }
    if c.Store.URI == "" && c.Store.Discovery.Kind == "" { c.Store.URI = mongostore.DefaultURI }
    if c.Store.Database == "" { c.Store.Database = mongostore.DefaultDatabase }
    if c.Store.ReplicaSet == "" { c.Store.ReplicaSet = "rs0" }
    if c.Store.Discovery.Kind == "" { c.Store.Discovery.Kind = DiscoveryURI }
    if c.Experiment.Parallel == 0 { c.Experiment.Parallel = 1 }
    if c.Log.Level == "" { c.Log.Level = "info" }
    if c.Log.Format == "" { c.Log.Format = "text" }
}

// Load reads path, expands ${ENV} references, applies environment
// overrides and defaults, and validates the result. An empty path falls
// back to REPLPROBE_CONFIG and then to defaults alone.
func Load(path string) (Config, error) {
    if path == "" { path = os.Getenv(EnvConfig) }
    var c Config
    if path != "" {
        raw, err := os.ReadFile(path)
        if err != nil { return Config{}, fmt.Errorf("config: read %s: %w", path, err) }
        if c, err = Parse(raw); err != nil { return Config{}, fmt.Errorf("config: %s: %w", path, err) }
    }
    c.applyEnv()
    c.setDefaults()
    if err := c.Validate(); err != nil { return Config{}, err }
    return c, nil
}

// Parse decodes a YAML document after env expansion. Unknown keys are
// rejected. Defaults are not applied.
func Parse(raw []byte) (Config, error) {
    expanded, err := ExpandEnvStrict(string(raw))
    if err != nil { return Config{}, err }
    var c Config
    dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
    dec.KnownFields(true)
    if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
        return Config{}, fmt.Errorf("config: decode: %w", err)
    }
    return c, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
    var errs []error
    if !slices.Contains([]string{BackendMongo, BackendEmbedded}, c.Backend) {
        errs = append(errs, fmt.Errorf("config: unknown backend %q", c.Backend))
    }
    if c.Backend == BackendMongo {
        switch c.Store.Discovery.Kind {
        case DiscoveryURI:
            if c.Store.URI == "" { errs = append(errs, errors.New("config: store.uri is required")) }
        case DiscoveryStatic:
            if len(c.Store.Discovery.Seeds) == 0 { errs = append(errs, errors.New("config: store.discovery.seeds is required for static discovery")) }
        case DiscoveryFile:
            if c.Store.Discovery.Path == "" && c.Store.Discovery.Env == "" { errs = append(errs, errors.New("config: store.discovery needs path or env for file discovery")) }
        case DiscoveryDNS:
            if len(c.Store.Discovery.Names) == 0 { errs = append(errs, errors.New("config: store.discovery.names is required for dns discovery")) }
        default:
            errs = append(errs, fmt.Errorf("config: unknown discovery kind %q", c.Store.Discovery.Kind))
        }
        if c.Store.TLS.Enable && (c.Store.TLS.Cert == "") != (c.Store.TLS.Key == "") {
            errs = append(errs, errors.New("config: store.tls cert and key must be set together"))
        }
    }
    if c.Control.TLS.Enable && (c.Control.TLS.Cert == "" || c.Control.TLS.Key == "") {
        errs = append(errs, errors.New("config: control.tls needs cert and key"))
    }
    if c.Embedded.Members < 0 { errs = append(errs, errors.New("config: embedded.members must not be negative")) }
    e := c.Experiment
    if e.WriteTimeout < 0 || e.ReadTimeout < 0 { errs = append(errs, errors.New("config: experiment timeouts must not be negative")) }
    if e.Poll != nil && (e.Poll.MaxAttempts < 0 || e.Poll.Interval < 0) { errs = append(errs, errors.New("config: experiment.poll must not be negative")) }
    if e.Ops < 0 { errs = append(errs, errors.New("config: experiment.ops must not be negative")) }
    if e.Parallel < 1 { errs = append(errs, errors.New("config: experiment.parallel must be at least 1")) }
    if _, ok := logutil.ParseLevel(c.Log.Level); !ok { errs = append(errs, fmt.Errorf("config: unknown log level %q", c.Log.Level)) }
    if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" { errs = append(errs, fmt.Errorf("config: unknown log format %q", c.Log.Format)) }
    return errors.Join(errs...)
}

// ApplyLogging pushes the log settings into logutil.
func (c Config) ApplyLogging() {
    if lv, ok := logutil.ParseLevel(c.Log.Level); ok { logutil.SetLevel(lv) }
    logutil.SetJSON(strings.EqualFold(c.Log.Format, "json"))
}

// Env builds the scenario environment; the store is filled in by the caller.
func (c Config) Env() experiment.Env {
    e := c.Experiment
    return experiment.Env{
        Poll:         e.Poll,
        Namespace:    e.Namespace,
        WriteTimeout: e.WriteTimeout,
        ReadTimeout:  e.ReadTimeout,
        Ops:          e.Ops,
        Pacing:       e.Pacing,
        Failover:     e.Failover,
        OplogDir:     e.OplogDir,
    }
}
