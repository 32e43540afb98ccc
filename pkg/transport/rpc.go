// Package transport defines the control-plane contract shared by the HTTP
// and gRPC servers and clients.
package transport

import (
    "context"
    "errors"

    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/store"
)

// ErrUnknownScenario is returned for a run request naming no catalog entry.
var ErrUnknownScenario = errors.New("transport: unknown scenario")

// ScenarioInfo describes one catalog entry.
type ScenarioInfo struct {
    Name      string `json:"name"`
    Title     string `json:"title"`
    Part      string `json:"part"`
    Exclusive bool   `json:"exclusive,omitempty"`
}

// RunRequest names the scenarios to run; All selects the whole catalog.
type RunRequest struct {
    Names []string `json:"names,omitempty"`
    All   bool     `json:"all,omitempty"`
}

// RunResponse is the suite outcome. Error is set when the run stopped on
// a fatal error; the results gathered so far are still returned.
type RunResponse struct {
    Suite experiment.SuiteResult `json:"suite"`
    Holds bool                   `json:"holds"`
    Error string                 `json:"error,omitempty"`
}

// TopologyResponse wraps the topology for the gRPC codec.
type TopologyResponse struct {
    Topology store.Topology `json:"topology"`
}

// ScenariosResponse wraps the catalog listing for the gRPC codec.
type ScenariosResponse struct {
    Scenarios []ScenarioInfo `json:"scenarios"`
}

// Handlers is what a control-plane server exposes.
type Handlers interface {
    Topology(ctx context.Context) (store.Topology, error)
    Scenarios(ctx context.Context) ([]ScenarioInfo, error)
    Run(ctx context.Context, req RunRequest) (RunResponse, error)
}

// Server is a control-plane listener.
type Server interface {
    Start(ctx context.Context, h Handlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// Client talks to a remote control plane at addr.
type Client interface {
    Topology(ctx context.Context, addr string) (store.Topology, error)
    Scenarios(ctx context.Context, addr string) ([]ScenarioInfo, error)
    Run(ctx context.Context, addr string, req RunRequest) (RunResponse, error)
}

// Catalog lists the experiment catalog as ScenarioInfo values.
func Catalog() []ScenarioInfo {
    cat := experiment.Catalog()
    out := make([]ScenarioInfo, 0, len(cat))
    for _, s := range cat {
        out = append(out, ScenarioInfo{Name: s.Name, Title: s.Title, Part: s.Part, Exclusive: s.Exclusive})
    }
    return out
}
