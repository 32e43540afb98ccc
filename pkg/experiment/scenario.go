package experiment

import (
    "context"
    "fmt"
    "log"
    "path/filepath"
    "slices"
    "time"

    "github.com/google/uuid"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/observability/tracing"
    "github.com/amirimatin/replprobe/pkg/oplog"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

// FailoverSettings tunes the failover scenario. Zero values use the
// failover package defaults.
type FailoverSettings struct {
    Lease        time.Duration `yaml:"lease"`
    PollInterval time.Duration `yaml:"poll-interval"`
    MaxWait      time.Duration `yaml:"max-wait"`
    Settle       time.Duration `yaml:"settle"`
    History      bool          `yaml:"history"`
}

// Env is what a scenario runs against.
type Env struct {
    Store store.Store
    // Poll overrides DefaultPollPolicy for polling scenarios.
    Poll *PollPolicy
    // Namespace prefixes every collection so concurrent suites stay apart.
    Namespace string
    // WriteTimeout and ReadTimeout override the preset profile timeouts.
    WriteTimeout time.Duration
    ReadTimeout  time.Duration
    // Ops is the number of writes per profile in the comparison scenario.
    Ops int
    // Pacing is the delay between causally related writes and before
    // reading them back. Defaults to 100ms; negative disables it.
    Pacing   time.Duration
    Failover FailoverSettings
    // OplogDir, when set, persists each runner's operation log there.
    OplogDir string
    Logger   *log.Logger
}

func (e Env) logger() *log.Logger {
    if e.Logger != nil { return e.Logger }
    return log.Default()
}

func (e Env) poll() PollPolicy {
    if e.Poll != nil { return *e.Poll }
    return DefaultPollPolicy()
}

func (e Env) pacing() time.Duration {
    switch {
    case e.Pacing < 0:
        return 0
    case e.Pacing == 0:
        return 100 * time.Millisecond
    }
    return e.Pacing
}

func (e Env) ops() int {
    if e.Ops > 0 { return e.Ops }
    return 50
}

func (e Env) collection(base string) string { return e.Namespace + base }

// profile applies the environment's timeout overrides to a preset.
func (e Env) profile(p profile.Profile) profile.Profile {
    if e.WriteTimeout > 0 { p.WriteTimeout = e.WriteTimeout }
    if e.ReadTimeout > 0 { p.ReadTimeout = e.ReadTimeout }
    return p
}

func (e Env) runner(scenario, coll string, p profile.Profile) (*Runner, error) {
    cfg := Config{Scenario: scenario, Store: e.Store, Collection: e.collection(coll), Profile: e.profile(p), Poll: e.poll(), Logger: e.logger()}
    if e.OplogDir != "" {
        // One file per runner: runners of a scenario may share a collection
        // and Open replays whatever the path already holds.
        path := filepath.Join(e.OplogDir, scenario, cfg.Collection+"-"+uuid.NewString())
        l, err := oplog.Open(oplog.Options{Path: path, NoSync: true})
        if err != nil { return nil, err }
        logutil.Debugf(cfg.Logger, "experiment %s: oplog at %s", scenario, l.Path())
        cfg.Log = l
    }
    return NewRunner(cfg)
}

// Scenario is one named experiment of the catalog.
type Scenario struct {
    Name  string
    Title string
    // Part groups scenarios the way the interactive menu does.
    Part string
    // Exclusive scenarios disturb the whole store and never run alongside
    // others.
    Exclusive bool
    run       func(ctx context.Context, env Env) (Result, error)
}

// Run executes the scenario. The result is always populated; err is only
// set for a lost connection or a rejected administrative command.
func (s Scenario) Run(ctx context.Context, env Env) (res Result, err error) {
    ctx, end := tracing.StartSpan(ctx, "scenario."+s.Name, attribute.String("scenario", s.Name))
    defer func() { end(err) }()
    started := time.Now()
    logutil.Infof(env.logger(), "scenario %s: start", s.Name)
    res, err = s.run(ctx, env)
    res.Scenario = s.Name
    if res.StartedAt.IsZero() { res.StartedAt = started }
    if res.FinishedAt.IsZero() { res.FinishedAt = time.Now() }
    if err != nil {
        if res.Error == "" { res.Error = err.Error() }
        if !res.Outcome.Terminal() { res.Outcome = StateAborted }
        res.Holds = false
    }
    metrics.ScenarioRuns.WithLabelValues(s.Name, res.Outcome.String()).Inc()
    logutil.Infof(env.logger(), "scenario %s: %s (holds=%t, %d violations) in %s", s.Name, res.Outcome, res.Holds, len(res.Violations), res.Duration().Round(time.Millisecond))
    return res, err
}

var catalog = []Scenario{
    {Name: "setup", Title: "Basic setup and data model", Part: "A", run: runSetup},
    {Name: "write-concern", Title: "Write concern performance comparison", Part: "B", run: runWriteConcern},
    {Name: "failover", Title: "Primary failover", Part: "B", Exclusive: true, run: runFailover},
    {Name: "propagation", Title: "Data propagation", Part: "B", run: runPropagation},
    {Name: "strong", Title: "Strong consistency", Part: "C", run: runStrong},
    {Name: "eventual", Title: "Eventual consistency", Part: "C", run: runEventual},
    {Name: "comparison", Title: "Consistency model performance comparison", Part: "C", run: runComparison},
    {Name: "causal", Title: "Causal consistency", Part: "C", run: runCausal},
}

// Catalog returns every scenario in menu order.
func Catalog() []Scenario { return slices.Clone(catalog) }

// Lookup finds a scenario by name.
func Lookup(name string) (Scenario, bool) {
    for _, s := range catalog { if s.Name == name { return s, true } }
    return Scenario{}, false
}

// Names lists the scenario names in menu order.
func Names() []string {
    out := make([]string, len(catalog))
    for i, s := range catalog { out[i] = s.Name }
    return out
}

// Part returns the scenario names of one menu part.
func Part(part string) []string {
    var out []string
    for _, s := range catalog { if s.Part == part { out = append(out, s.Name) } }
    return out
}

// Resolve maps names to scenarios, failing on the first unknown one.
func Resolve(names ...string) ([]Scenario, error) {
    out := make([]Scenario, 0, len(names))
    for _, n := range names {
        s, ok := Lookup(n)
        if !ok { return nil, fmt.Errorf("experiment: unknown scenario %q", n) }
        out = append(out, s)
    }
    return out, nil
}
