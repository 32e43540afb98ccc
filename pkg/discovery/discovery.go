// Package discovery resolves the member endpoints of a store and assembles
// the connection string from them.
package discovery

import (
    "context"
    "errors"
    "fmt"
    "net"
    "net/url"
    "strconv"
    "strings"
)

// ErrNoEndpoints is returned when a source yields nothing to connect to.
var ErrNoEndpoints = errors.New("discovery: no endpoints")

// Source yields host:port endpoints of the store members.
type Source interface {
    Endpoints(ctx context.Context) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]string, error)

func (f SourceFunc) Endpoints(ctx context.Context) ([]string, error) { return f(ctx) }

// URI builds a MongoDB connection string for endpoints. replicaSet and
// every entry of params become query parameters.
func URI(endpoints []string, replicaSet string, params map[string]string) (string, error) {
    hosts := make([]string, 0, len(endpoints))
    for _, e := range endpoints {
        e = strings.TrimSpace(e)
        if e == "" { continue }
        if strings.ContainsAny(e, "/?@") { return "", fmt.Errorf("discovery: invalid endpoint %q", e) }
        hosts = append(hosts, e)
    }
    if len(hosts) == 0 { return "", ErrNoEndpoints }
    q := url.Values{}
    if replicaSet != "" { q.Set("replicaSet", replicaSet) }
    for k, v := range params { q.Set(k, v) }
    uri := "mongodb://" + strings.Join(hosts, ",") + "/"
    if enc := q.Encode(); enc != "" { uri += "?" + enc }
    return uri, nil
}

// Resolve asks src for endpoints and builds the connection string.
func Resolve(ctx context.Context, src Source, replicaSet string, params map[string]string) (string, error) {
    eps, err := src.Endpoints(ctx)
    if err != nil { return "", err }
    return URI(eps, replicaSet, params)
}

// DefaultPort is the member port assumed when an endpoint names only a host.
const DefaultPort = 27017

// WithPort appends port to host unless it already carries one.
func WithPort(host string, port int) string {
    if port <= 0 { port = DefaultPort }
    if _, _, err := net.SplitHostPort(host); err == nil { return host }
    return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}
