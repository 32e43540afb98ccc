// Package bootstrap assembles a store.Store from configuration: it picks
// the backend, resolves store endpoints and sets up TLS.
package bootstrap

import (
    "context"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/replprobe/pkg/config"
    "github.com/amirimatin/replprobe/pkg/discovery"
    dDNS "github.com/amirimatin/replprobe/pkg/discovery/dns"
    dFile "github.com/amirimatin/replprobe/pkg/discovery/file"
    dStatic "github.com/amirimatin/replprobe/pkg/discovery/static"
    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    tlsx "github.com/amirimatin/replprobe/pkg/security/tlsconfig"
    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/store/embedded"
    mongostore "github.com/amirimatin/replprobe/pkg/store/mongo"
)

// Hooks are optional callbacks wired into the backend.
type Hooks struct {
    // OnLeaderChange fires when the embedded backend sees a new leader.
    OnLeaderChange func(previous, current string)
}

// Source returns the endpoint source for the configured discovery kind,
// or nil for "uri" where the connection string is used verbatim.
func Source(sc config.StoreConfig, logger *log.Logger) discovery.Source {
    d := sc.Discovery
    switch d.Kind {
    case config.DiscoveryStatic:
        return dStatic.New(d.Port, d.Seeds...)
    case config.DiscoveryFile:
        return dFile.New(dFile.Options{Path: d.Path, Env: d.Env, Port: d.Port, Refresh: d.Refresh})
    case config.DiscoveryDNS:
        return dDNS.New(dDNS.Options{Names: d.Names, Port: d.Port, Refresh: d.Refresh, Logger: logger})
    }
    return nil
}

// StoreURI resolves the connection string for the mongo backend.
func StoreURI(ctx context.Context, sc config.StoreConfig, logger *log.Logger) (string, error) {
    src := Source(sc, logger)
    if src == nil { return sc.URI, nil }
    var params map[string]string
    if sc.TLS.Enable { params = map[string]string{"tls": "true"} }
    uri, err := discovery.Resolve(ctx, src, sc.ReplicaSet, params)
    if err != nil { return "", fmt.Errorf("bootstrap: %s discovery: %w", sc.Discovery.Kind, err) }
    logutil.Debugf(logger, "bootstrap: discovered %s", uri)
    return uri, nil
}

// TLS builds the client config for the store connection.
func TLS(t config.TLSConfig) tlsx.Options {
    return tlsx.Options{Enable: t.Enable, CAFile: t.CA, CertFile: t.Cert, KeyFile: t.Key, ServerName: t.ServerName, InsecureSkipVerify: t.Insecure}
}

// Open connects to or starts the configured backend. The caller owns the
// returned store and must Close it.
func Open(ctx context.Context, cfg config.Config, logger *log.Logger, hooks Hooks) (store.Store, error) {
    if logger == nil { logger = log.Default() }
    switch cfg.Backend {
    case config.BackendEmbedded:
        e := cfg.Embedded
        c, err := embedded.Start(ctx, embedded.Options{
            Members:          e.Members,
            SetName:          e.SetName,
            DataDir:          e.DataDir,
            Gossip:           e.Gossip,
            RaftLogLevel:     e.RaftLogLevel,
            HeartbeatTimeout: e.HeartbeatTimeout,
            ElectionTimeout:  e.ElectionTimeout,
            StartTimeout:     e.StartTimeout,
            Logger:           logger,
            OnLeaderChange:   hooks.OnLeaderChange,
        })
        if err != nil { return nil, err }
        return c, nil
    case config.BackendMongo:
        uri, err := StoreURI(ctx, cfg.Store, logger)
        if err != nil { return nil, err }
        topts := TLS(cfg.Store.TLS)
        if err := topts.Validate(); err != nil { return nil, err }
        tc, err := topts.Client()
        if err != nil { return nil, err }
        s, err := mongostore.Connect(ctx, mongostore.Options{
            URI:                    uri,
            Database:               cfg.Store.Database,
            AppName:                cfg.Store.AppName,
            ConnectTimeout:         cfg.Store.ConnectTimeout,
            ServerSelectionTimeout: cfg.Store.ServerSelectionTimeout,
            TLS:                    tc,
            Logger:                 logger,
        })
        if err != nil { return nil, err }
        return s, nil
    }
    return nil, fmt.Errorf("bootstrap: unknown backend %q", cfg.Backend)
}

// Close releases a store within timeout.
func Close(s store.Store, timeout time.Duration) error {
    ctx, cancel := context.WithTimeout(context.Background(), timeout)
    defer cancel()
    return s.Close(ctx)
}
