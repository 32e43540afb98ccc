// Package static serves a fixed list of store endpoints.
package static

import (
    "context"
    "strings"

    "github.com/amirimatin/replprobe/pkg/discovery"
)

type endpoints []string

func (e endpoints) Endpoints(context.Context) ([]string, error) {
    if len(e) == 0 { return nil, discovery.ErrNoEndpoints }
    return append([]string(nil), e...), nil
}

// New returns a Source that always yields the given host:port endpoints.
// Blank entries are dropped; a bare host gets port.
func New(port int, hosts ...string) discovery.Source {
    out := make(endpoints, 0, len(hosts))
    for _, h := range hosts {
        h = strings.TrimSpace(h)
        if h == "" { continue }
        out = append(out, discovery.WithPort(h, port))
    }
    return out
}

// Parse splits a comma-separated endpoint list.
func Parse(csv string) []string {
    if strings.TrimSpace(csv) == "" { return nil }
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}
