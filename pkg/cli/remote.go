package cli

import (
    "context"
    "crypto/tls"
    "fmt"
    "time"

    "github.com/spf13/cobra"

    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/report"
    tlsx "github.com/amirimatin/replprobe/pkg/security/tlsconfig"
    "github.com/amirimatin/replprobe/pkg/transport"
    mgmtgrpc "github.com/amirimatin/replprobe/pkg/transport/grpc"
    "github.com/amirimatin/replprobe/pkg/transport/httpjson"
)

// remoteFlags are shared by the remote subcommands.
type remoteFlags struct {
    addr, proto                           string
    timeout                               time.Duration
    tlsEnable, tlsSkip                    bool
    tlsCA, tlsCert, tlsKey, tlsServerName string
    asJSON, noColor, verbose              bool
}

// client builds the protocol client and a func releasing its connections.
func (f *remoteFlags) client() (transport.Client, func(), error) {
    var cliTLS *tls.Config
    if f.tlsEnable {
        topts := tlsx.Options{Enable: true, CAFile: f.tlsCA, CertFile: f.tlsCert, KeyFile: f.tlsKey, InsecureSkipVerify: f.tlsSkip, ServerName: f.tlsServerName}
        if err := topts.Validate(); err != nil { return nil, nil, fmt.Errorf("tls client config: %w", err) }
        var err error
        cliTLS, err = topts.Client()
        if err != nil { return nil, nil, fmt.Errorf("tls client config: %w", err) }
    }
    switch f.proto {
    case "grpc":
        cli := mgmtgrpc.NewClient(f.timeout)
        if cliTLS != nil { cli.UseTLS(cliTLS) }
        return cli, cli.Close, nil
    case "http", "":
        cli := httpjson.NewClient(f.timeout)
        if cliTLS != nil { cli.UseTLS(cliTLS) }
        return cli, func() {}, nil
    }
    return nil, nil, fmt.Errorf("unknown protocol %q (want http|grpc)", f.proto)
}

func (f *remoteFlags) printer(cmd *cobra.Command) *report.Printer {
    opts := report.Options{Verbose: f.verbose}
    if f.noColor {
        off := false
        opts.Color = &off
    }
    return report.New(cmd.OutOrStdout(), opts)
}

// NewRemoteCmd returns the "remote" command group, a client for a running
// "serve" instance.
func NewRemoteCmd() *cobra.Command {
    f := &remoteFlags{}
    cmd := &cobra.Command{
        Use:   "remote",
        Short: "Query or drive a replprobe control plane",
    }
    pf := cmd.PersistentFlags()
    pf.StringVar(&f.addr, "addr", "127.0.0.1:8080", "control plane address (host:port)")
    pf.StringVar(&f.proto, "proto", "http", "control plane protocol: http|grpc")
    pf.DurationVar(&f.timeout, "timeout", 2*time.Minute, "request timeout")
    pf.BoolVar(&f.asJSON, "json", false, "print raw JSON")
    pf.BoolVar(&f.noColor, "no-color", false, "disable colored output")
    pf.BoolVarP(&f.verbose, "verbose", "v", false, "print observations and individual samples")
    pf.BoolVar(&f.tlsEnable, "tls-enable", false, "enable TLS for the control plane")
    pf.StringVar(&f.tlsCA, "tls-ca", "", "path to CA cert (PEM)")
    pf.StringVar(&f.tlsCert, "tls-cert", "", "path to client certificate (PEM)")
    pf.StringVar(&f.tlsKey, "tls-key", "", "path to client private key (PEM)")
    pf.BoolVar(&f.tlsSkip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    pf.StringVar(&f.tlsServerName, "tls-server-name", "", "expected server name (for TLS validation)")

    cmd.AddCommand(&cobra.Command{
        Use:   "topology",
        Short: "Fetch the replica set topology",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cli, done, err := f.client()
            if err != nil { return err }
            defer done()
            ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
            defer cancel()
            t, err := cli.Topology(ctx, f.addr)
            if err != nil { return fmt.Errorf("topology error: %w", err) }
            if f.asJSON { return writeJSON(cmd.OutOrStdout(), t) }
            f.printer(cmd).Topology(t)
            return nil
        },
    })
    cmd.AddCommand(&cobra.Command{
        Use:   "list",
        Short: "List the scenarios a control plane offers",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cli, done, err := f.client()
            if err != nil { return err }
            defer done()
            ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
            defer cancel()
            list, err := cli.Scenarios(ctx, f.addr)
            if err != nil { return fmt.Errorf("list error: %w", err) }
            if f.asJSON { return writeJSON(cmd.OutOrStdout(), list) }
            scenarios := make([]experiment.Scenario, len(list))
            for i, s := range list {
                scenarios[i] = experiment.Scenario{Name: s.Name, Title: s.Title, Part: s.Part, Exclusive: s.Exclusive}
            }
            f.printer(cmd).Catalog(scenarios)
            return nil
        },
    })
    var all, strict bool
    run := &cobra.Command{
        Use:   "run [scenario...]",
        Short: "Run scenarios on the control plane's store",
        RunE: func(cmd *cobra.Command, args []string) error {
            if !all && len(args) == 0 { return fmt.Errorf("name at least one scenario or --all") }
            cli, done, err := f.client()
            if err != nil { return err }
            defer done()
            ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
            defer cancel()
            resp, err := cli.Run(ctx, f.addr, transport.RunRequest{Names: args, All: all})
            if err != nil { return fmt.Errorf("run error: %w", err) }
            if f.asJSON {
                if err := writeJSON(cmd.OutOrStdout(), resp); err != nil { return err }
            } else {
                printSuite(f.printer(cmd), resp.Suite)
            }
            if resp.Error != "" { return fmt.Errorf("run: %s", resp.Error) }
            if strict && !resp.Holds { return ErrNotHeld }
            return nil
        },
    }
    run.Flags().BoolVar(&all, "all", false, "run the whole catalog")
    run.Flags().BoolVar(&strict, "strict", false, "exit non-zero when a property does not hold")
    cmd.AddCommand(run)
    return cmd
}
