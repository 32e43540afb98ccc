// Package tlsconfig turns file-based TLS settings into tls.Config values
// for the store connection and the control plane.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// ReloadInterval bounds how long a loaded key pair is reused before the
// files are read again.
const ReloadInterval = 10 * time.Second

// Options names the PEM files. A zero Options yields nil configs.
type Options struct {
    Enable             bool
    CAFile             string
    CertFile           string
    KeyFile            string
    ServerName         string
    InsecureSkipVerify bool
}

// Validate checks the files exist before any handshake is attempted.
func (o Options) Validate() error {
    if !o.Enable { return nil }
    var errs []error
    if (o.CertFile == "") != (o.KeyFile == "") { errs = append(errs, errors.New("tls: cert and key must be set together")) }
    for _, f := range []string{o.CAFile, o.CertFile, o.KeyFile} {
        if f == "" { continue }
        if _, err := os.Stat(f); err != nil { errs = append(errs, fmt.Errorf("tls: %w", err)) }
    }
    return errors.Join(errs...)
}

func loadPool(path string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(path)
    if err != nil { return nil, fmt.Errorf("tls: read ca: %w", err) }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("tls: no certificates in %s", path) }
    return pool, nil
}

// keyPair caches a certificate and re-reads it after ReloadInterval so
// rotated files are picked up without a restart.
type keyPair struct {
    cert, key string
    mu        sync.Mutex
    cached    *tls.Certificate
    loaded    time.Time
}

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.Lock()
    defer k.mu.Unlock()
    if k.cached != nil && time.Since(k.loaded) < ReloadInterval { return k.cached, nil }
    c, err := tls.LoadX509KeyPair(k.cert, k.key)
    if err != nil {
        if k.cached != nil { return k.cached, nil }
        return nil, fmt.Errorf("tls: load key pair: %w", err)
    }
    k.cached, k.loaded = &c, time.Now()
    return k.cached, nil
}

// Client returns the config used to dial the store or a control plane.
// The client certificate, when given, is reloaded on rotation.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: o.ServerName, InsecureSkipVerify: o.InsecureSkipVerify} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile != "" && o.KeyFile != "" {
        kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
        if _, err := kp.get(); err != nil { return nil, err }
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
    }
    return cfg, nil
}

// Server returns the control-plane listener config. A CA file turns on
// mutual TLS.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" { return nil, errors.New("tls: server cert/key required when TLS enabled") }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    if _, err := kp.get(); err != nil { return nil, err }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    return cfg, nil
}
