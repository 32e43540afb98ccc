package mongostore

import (
    "crypto/tls"
    "errors"
    "fmt"
    "log"
    "strings"
    "time"
)

const (
    DefaultURI                    = "mongodb://mongo1:27017,mongo2:27017,mongo3:27017/?replicaSet=rs0"
    DefaultDatabase               = "lab2_distributed_db"
    DefaultConnectTimeout         = 10 * time.Second
    DefaultServerSelectionTimeout = 30 * time.Second
)

// Options configures the MongoDB replica set connection.
type Options struct {
    URI      string
    Database string
    AppName  string

    ConnectTimeout time.Duration
    // ServerSelectionTimeout bounds how long an operation waits for an
    // eligible member, e.g. while an election is in progress.
    ServerSelectionTimeout time.Duration

    // TLS, when set, overrides any TLS settings in the URI.
    TLS *tls.Config

    Logger *log.Logger
}

func (o *Options) setDefaults() {
    if o.URI == "" { o.URI = DefaultURI }
    if o.Database == "" { o.Database = DefaultDatabase }
    if o.AppName == "" { o.AppName = "replprobe" }
    if o.ConnectTimeout <= 0 { o.ConnectTimeout = DefaultConnectTimeout }
    if o.ServerSelectionTimeout <= 0 { o.ServerSelectionTimeout = DefaultServerSelectionTimeout }
    if o.Logger == nil { o.Logger = log.Default() }
}

// Validate checks the options before any network activity.
func (o Options) Validate() error {
    var errs []error
    if o.URI != "" && !strings.HasPrefix(o.URI, "mongodb://") && !strings.HasPrefix(o.URI, "mongodb+srv://") {
        errs = append(errs, fmt.Errorf("mongostore: uri must start with mongodb:// or mongodb+srv://"))
    }
    if strings.ContainsAny(o.Database, "/\\. \"$") {
        errs = append(errs, fmt.Errorf("mongostore: invalid database name %q", o.Database))
    }
    if o.ConnectTimeout < 0 || o.ServerSelectionTimeout < 0 {
        errs = append(errs, errors.New("mongostore: timeouts must not be negative"))
    }
    return errors.Join(errs...)
}
