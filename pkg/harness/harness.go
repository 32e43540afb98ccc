// Package harness is the entry point applications use: it owns the store
// connection, runs catalog scenarios and publishes what happens.
package harness

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync"

    "github.com/amirimatin/replprobe/pkg/bootstrap"
    "github.com/amirimatin/replprobe/pkg/config"
    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/transport"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("harness: closed")

// Options assemble a Harness. When Store is nil one is opened from Config
// and closed with the harness.
type Options struct {
    Config config.Config
    Store  store.Store
    Logger *log.Logger
}

// Harness implements transport.Handlers so it can be served directly.
type Harness struct {
    cfg    config.Config
    log    *log.Logger
    store  store.Store
    owns   bool
    eb     eventBus
    mu     sync.Mutex
    closed bool
    // runMu serializes suites; concurrent scenarios inside one suite are
    // handled by experiment.Suite.
    runMu sync.Mutex
}

// New opens the store (unless one is injected) and returns a ready Harness.
func New(ctx context.Context, opts Options) (*Harness, error) {
    if opts.Logger == nil { opts.Logger = log.Default() }
    obsmetrics.Register()
    h := &Harness{cfg: opts.Config, log: opts.Logger, store: opts.Store}
    if h.store == nil {
        if err := opts.Config.Validate(); err != nil { return nil, err }
        s, err := bootstrap.Open(ctx, opts.Config, opts.Logger, bootstrap.Hooks{OnLeaderChange: h.leaderChanged})
        if err != nil { return nil, err }
        h.store, h.owns = s, true
    }
    return h, nil
}

func (h *Harness) leaderChanged(previous, current string) {
    h.eb.publish(Event{Type: EventLeaderChanged, Previous: previous, Leader: current})
}

// Store exposes the underlying store, for fault injection in tests.
func (h *Harness) Store() store.Store { return h.store }

func (h *Harness) check() error {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.closed { return ErrClosed }
    return nil
}

func (h *Harness) Topology(ctx context.Context) (store.Topology, error) {
    if err := h.check(); err != nil { return store.Topology{}, err }
    return h.store.Topology(ctx)
}

func (h *Harness) Scenarios(context.Context) ([]transport.ScenarioInfo, error) {
    return transport.Catalog(), nil
}

// Env is the scenario environment derived from the configuration.
func (h *Harness) Env() experiment.Env {
    env := h.cfg.Env()
    env.Store = h.store
    env.Logger = h.log
    return env
}

// Run executes the requested scenarios as one suite. Unknown names fail
// the whole request before anything runs. A fatal scenario error is
// reported in the response alongside the results gathered so far.
func (h *Harness) Run(ctx context.Context, req transport.RunRequest) (transport.RunResponse, error) {
    if err := h.check(); err != nil { return transport.RunResponse{}, err }
    names := req.Names
    if req.All { names = experiment.Names() }
    if len(names) == 0 { return transport.RunResponse{}, fmt.Errorf("%w: none requested", transport.ErrUnknownScenario) }
    scenarios, err := experiment.Resolve(names...)
    if err != nil { return transport.RunResponse{}, fmt.Errorf("%w: %v", transport.ErrUnknownScenario, err) }

    h.runMu.Lock()
    defer h.runMu.Unlock()
    for _, sc := range scenarios { h.eb.publish(Event{Type: EventScenarioStarted, Scenario: sc.Name}) }
    suite := experiment.Suite{
        Env:         h.Env(),
        Parallel:    h.cfg.Experiment.Parallel,
        StopOnError: h.cfg.Experiment.StopOnError,
        OnResult: func(res experiment.Result, err error) {
            ev := Event{Type: EventScenarioFinished, Scenario: res.Scenario, Result: &res}
            if err != nil { ev.Error = err.Error() }
            h.eb.publish(ev)
        },
    }
    out, err := suite.Run(ctx, scenarios...)
    resp := transport.RunResponse{Suite: out, Holds: out.Holds()}
    if err != nil {
        logutil.Warnf(h.log, "harness: suite stopped: %v", err)
        resp.Error = err.Error()
    }
    return resp, nil
}

// RunScenario runs a single scenario and returns its result and error.
func (h *Harness) RunScenario(ctx context.Context, name string) (experiment.Result, error) {
    if err := h.check(); err != nil { return experiment.Result{}, err }
    sc, ok := experiment.Lookup(name)
    if !ok { return experiment.Result{}, fmt.Errorf("%w: %q", transport.ErrUnknownScenario, name) }
    h.runMu.Lock()
    defer h.runMu.Unlock()
    h.eb.publish(Event{Type: EventScenarioStarted, Scenario: name})
    res, err := sc.Run(ctx, h.Env())
    ev := Event{Type: EventScenarioFinished, Scenario: name, Result: &res}
    if err != nil { ev.Error = err.Error() }
    h.eb.publish(ev)
    return res, err
}

// Part lists the scenario names of one catalog part, in order.
func (h *Harness) Part(part string) []string { return experiment.Part(part) }

// Close releases the store if the harness opened it.
func (h *Harness) Close(ctx context.Context) error {
    h.mu.Lock()
    if h.closed { h.mu.Unlock(); return nil }
    h.closed = true
    h.mu.Unlock()
    if h.owns { return h.store.Close(ctx) }
    return nil
}

var _ transport.Handlers = (*Harness)(nil)
