package cli

import (
    "context"
    "fmt"
    "log"
    "os"

    "github.com/spf13/cobra"

    "github.com/amirimatin/replprobe/pkg/bootstrap"
    "github.com/amirimatin/replprobe/pkg/harness"
    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    "github.com/amirimatin/replprobe/pkg/transport"
    mgmtgrpc "github.com/amirimatin/replprobe/pkg/transport/grpc"
    "github.com/amirimatin/replprobe/pkg/transport/httpjson"
)

// newServeCmd returns the "serve" command.
func newServeCmd(g *globals) *cobra.Command {
    var (
        httpAddr, grpcAddr     string
        tlsEnable              bool
        tlsCA, tlsCert, tlsKey string
    )
    cmd := &cobra.Command{
        Use:   "serve",
        Short: "Serve the control plane over HTTP JSON and/or gRPC",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := g.load()
            if err != nil { return err }
            f := cmd.Flags()
            if f.Changed("http-addr") { cfg.Control.HTTPAddr = httpAddr }
            if f.Changed("grpc-addr") { cfg.Control.GRPCAddr = grpcAddr }
            if f.Changed("tls-enable") { cfg.Control.TLS.Enable = tlsEnable }
            if tlsCA != "" { cfg.Control.TLS.CA = tlsCA }
            if tlsCert != "" { cfg.Control.TLS.Cert = tlsCert }
            if tlsKey != "" { cfg.Control.TLS.Key = tlsKey }
            if cfg.Control.HTTPAddr == "" && cfg.Control.GRPCAddr == "" {
                return fmt.Errorf("serve: set --http-addr and/or --grpc-addr")
            }
            topts := bootstrap.TLS(cfg.Control.TLS)
            if err := topts.Validate(); err != nil { return fmt.Errorf("tls server config: %w", err) }
            srvTLS, err := topts.Server()
            if err != nil { return fmt.Errorf("tls server config: %w", err) }

            ctx, cancel := signalContext()
            defer cancel()
            h, cleanup, err := g.session(ctx, cfg)
            if err != nil { return err }
            defer cleanup()

            logger := log.New(os.Stderr, "", log.LstdFlags)
            var servers []transport.Server
            if cfg.Control.HTTPAddr != "" {
                s := httpjson.NewServer(cfg.Control.HTTPAddr, logger)
                if srvTLS != nil { s.UseTLS(srvTLS) }
                servers = append(servers, s)
            }
            if cfg.Control.GRPCAddr != "" {
                s := mgmtgrpc.NewServer(cfg.Control.GRPCAddr, logger)
                if srvTLS != nil { s.UseTLS(srvTLS) }
                servers = append(servers, s)
            }
            if err := serve(ctx, h, servers, logger); err != nil { return err }
            fmt.Fprintln(cmd.OutOrStdout(), "stopped")
            return nil
        },
    }
    cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP JSON control plane address (e.g. :8080)")
    cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC control plane address (e.g. :9090)")
    cmd.Flags().BoolVar(&tlsEnable, "tls-enable", false, "serve the control plane over TLS")
    cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "CA to verify client certificates (enables mTLS)")
    cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "server certificate (PEM)")
    cmd.Flags().StringVar(&tlsKey, "tls-key", "", "server private key (PEM)")
    return cmd
}

// serve starts every server, logs harness events and blocks until ctx is done.
func serve(ctx context.Context, h *harness.Harness, servers []transport.Server, logger *log.Logger) error {
    for i, s := range servers {
        if err := s.Start(ctx, h); err != nil {
            for _, started := range servers[:i] { _ = started.Stop(context.Background()) }
            return fmt.Errorf("serve: %w", err)
        }
    }
    events := h.Subscribe(ctx)
    for {
        select {
        case <-ctx.Done():
            for _, s := range servers { _ = s.Stop(context.Background()) }
            return nil
        case ev, ok := <-events:
            if !ok { events = nil; continue }
            logEvent(logger, ev)
        }
    }
}

func logEvent(logger *log.Logger, ev harness.Event) {
    switch ev.Type {
    case harness.EventLeaderChanged:
        logutil.Infof(logger, "leader changed: %q -> %q", ev.Previous, ev.Leader)
    case harness.EventScenarioStarted:
        logutil.Debugf(logger, "scenario %s started", ev.Scenario)
    case harness.EventScenarioFinished:
        if ev.Error != "" {
            logutil.Warnf(logger, "scenario %s failed: %s", ev.Scenario, ev.Error)
        } else if ev.Result != nil {
            logutil.Infof(logger, "scenario %s finished: %s (holds=%t)", ev.Scenario, ev.Result.Outcome, ev.Result.Holds)
        }
    }
}
