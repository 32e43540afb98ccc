// Package cli exposes the harness as cobra commands so services can reuse
// them under their own root command.
package cli

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log"
    "os"
    "os/signal"
    "syscall"

    "github.com/spf13/cobra"

    "github.com/amirimatin/replprobe/pkg/config"
    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/harness"
    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    "github.com/amirimatin/replprobe/pkg/observability/tracing"
    "github.com/amirimatin/replprobe/pkg/report"
    "github.com/amirimatin/replprobe/pkg/transport"
)

// ErrNotHeld is returned by run --strict when a property did not hold.
var ErrNotHeld = errors.New("cli: some properties did not hold")

// globals are the persistent flags shared by every local command.
type globals struct {
    configPath string
    backend    string
    uri        string
    logLevel   string
    trace      bool
    noColor    bool
    verbose    bool
}

// openHarness is replaced in tests to inject a scripted store.
var openHarness = func(ctx context.Context, cfg config.Config, logger *log.Logger) (*harness.Harness, error) {
    return harness.New(ctx, harness.Options{Config: cfg, Logger: logger})
}

// AddAll registers every replprobe command on root.
func AddAll(root *cobra.Command) {
    g := &globals{}
    pf := root.PersistentFlags()
    pf.StringVar(&g.configPath, "config", "", "path to a YAML config file (default $"+config.EnvConfig+")")
    pf.StringVar(&g.backend, "backend", "", "store backend: mongo|embedded (overrides config)")
    pf.StringVar(&g.uri, "uri", "", "store connection string (overrides config and $"+config.EnvStoreURI+")")
    pf.StringVar(&g.logLevel, "log-level", "", "log level: debug|info|warn|error")
    pf.BoolVar(&g.trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")
    pf.BoolVarP(&g.verbose, "verbose", "v", false, "print observations and individual samples")

    root.AddCommand(newListCmd(g))
    root.AddCommand(newRunCmd(g))
    root.AddCommand(newTopologyCmd(g))
    root.AddCommand(newMenuCmd(g))
    root.AddCommand(newServeCmd(g))
    root.AddCommand(NewRemoteCmd())
}

// NewRootCommand returns a standalone "replprobe" root with every command attached.
func NewRootCommand() *cobra.Command {
    root := &cobra.Command{
        Use:           "replprobe",
        Short:         "Consistency experiments against a replicated document store",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    AddAll(root)
    return root
}

// load resolves the effective configuration: file, then environment, then flags.
func (g *globals) load() (config.Config, error) {
    cfg, err := config.Load(g.configPath)
    if err != nil { return config.Config{}, err }
    if g.backend != "" { cfg.Backend = g.backend }
    if g.uri != "" {
        cfg.Store.URI = g.uri
        cfg.Store.Discovery.Kind = config.DiscoveryURI
    }
    if g.logLevel != "" { cfg.Log.Level = g.logLevel }
    if g.trace { cfg.Trace = true }
    if err := cfg.Validate(); err != nil { return config.Config{}, err }
    cfg.ApplyLogging()
    return cfg, nil
}

func (g *globals) printer(w io.Writer) *report.Printer {
    opts := report.Options{Verbose: g.verbose}
    if g.noColor {
        off := false
        opts.Color = &off
    }
    return report.New(w, opts)
}

// session opens a harness with tracing set up and returns a cleanup func.
func (g *globals) session(ctx context.Context, cfg config.Config) (*harness.Harness, func(), error) {
    shutdown, err := tracing.Setup(cfg.Trace)
    if err != nil { return nil, nil, fmt.Errorf("tracing setup: %w", err) }
    logger := log.New(os.Stderr, "", log.LstdFlags)
    h, err := openHarness(ctx, cfg, logger)
    if err != nil {
        _ = shutdown(context.Background())
        return nil, nil, err
    }
    cleanup := func() {
        if err := h.Close(context.Background()); err != nil { logutil.Warnf(logger, "close: %v", err) }
        _ = shutdown(context.Background())
    }
    return h, cleanup, nil
}

// newListCmd returns the "list" command.
func newListCmd(g *globals) *cobra.Command {
    var asJSON bool
    cmd := &cobra.Command{
        Use:   "list",
        Short: "List the scenario catalog",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            if asJSON { return writeJSON(cmd.OutOrStdout(), transport.Catalog()) }
            g.printer(cmd.OutOrStdout()).Catalog(experiment.Catalog())
            return nil
        },
    }
    cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
    return cmd
}

// newRunCmd returns the "run" command.
func newRunCmd(g *globals) *cobra.Command {
    var (
        all      bool
        parallel int
        asJSON   bool
        strict   bool
        part     string
    )
    cmd := &cobra.Command{
        Use:   "run [scenario...]",
        Short: "Run one or more scenarios and report the results",
        RunE: func(cmd *cobra.Command, args []string) error {
            names := args
            if part != "" { names = append(names, experiment.Part(part)...) }
            if !all && len(names) == 0 { return fmt.Errorf("name at least one scenario, --part or --all") }
            if _, err := experiment.Resolve(names...); err != nil { return err }
            cfg, err := g.load()
            if err != nil { return err }
            if cmd.Flags().Changed("parallel") { cfg.Experiment.Parallel = parallel }
            if cfg.Experiment.Parallel < 1 { return fmt.Errorf("--parallel must be at least 1") }

            ctx, cancel := signalContext()
            defer cancel()
            h, cleanup, err := g.session(ctx, cfg)
            if err != nil { return err }
            defer cleanup()

            resp, err := h.Run(ctx, transport.RunRequest{Names: names, All: all})
            if err != nil { return err }
            if asJSON {
                if err := writeJSON(cmd.OutOrStdout(), resp); err != nil { return err }
            } else {
                printSuite(g.printer(cmd.OutOrStdout()), resp.Suite)
            }
            if resp.Error != "" { return fmt.Errorf("run: %s", resp.Error) }
            if strict && !resp.Holds { return ErrNotHeld }
            return nil
        },
    }
    cmd.Flags().BoolVar(&all, "all", false, "run the whole catalog")
    cmd.Flags().StringVar(&part, "part", "", "run every scenario of a catalog part (A|B|C)")
    cmd.Flags().IntVar(&parallel, "parallel", 1, "maximum scenarios running at once")
    cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
    cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when a property does not hold")
    return cmd
}

// newTopologyCmd returns the "topology" command.
func newTopologyCmd(g *globals) *cobra.Command {
    var asJSON bool
    cmd := &cobra.Command{
        Use:   "topology",
        Short: "Show the replica set members, leader and health",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := g.load()
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            h, cleanup, err := g.session(ctx, cfg)
            if err != nil { return err }
            defer cleanup()
            t, err := h.Topology(ctx)
            if err != nil { return fmt.Errorf("topology: %w", err) }
            if asJSON { return writeJSON(cmd.OutOrStdout(), t) }
            g.printer(cmd.OutOrStdout()).Topology(t)
            return nil
        },
    }
    cmd.Flags().BoolVar(&asJSON, "json", false, "print the topology as JSON")
    return cmd
}

func printSuite(p *report.Printer, s experiment.SuiteResult) {
    for _, r := range s.Results { p.Result(title(r.Scenario), r) }
    if len(s.Results) > 1 || len(s.Errors) > 0 { p.Suite(s) }
}

func title(name string) string {
    if sc, ok := experiment.Lookup(name); ok { return sc.Title }
    return name
}

func writeJSON(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
