// Package grpc serves and calls the control plane over gRPC using a JSON
// codec, so no generated protobuf types are needed.
package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "log"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/observability/tracing"
    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/transport"
)

const serviceName = "replprobe.v1.Control"

// Server implements transport.Server over gRPC.
type Server struct {
    bind   string
    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
    tlsCfg *tls.Config
    logger *log.Logger
}

func NewServer(bind string, logger *log.Logger) *Server { return &Server{bind: bind, logger: logger} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type empty struct{}

// controlServer is the method set registered under serviceName.
type controlServer interface {
    Topology(ctx context.Context, in *empty) (*transport.TopologyResponse, error)
    Scenarios(ctx context.Context, in *empty) (*transport.ScenariosResponse, error)
    Run(ctx context.Context, in *transport.RunRequest) (*transport.RunResponse, error)
}

type controlImpl struct{ h transport.Handlers }

// toStatus maps handler errors onto gRPC codes.
func toStatus(err error) error {
    switch {
    case err == nil:
        return nil
    case errors.Is(err, transport.ErrUnknownScenario):
        return status.Error(codes.NotFound, err.Error())
    case errors.Is(err, store.ErrConnection), errors.Is(err, store.ErrUnavailable):
        return status.Error(codes.Unavailable, err.Error())
    case errors.Is(err, context.DeadlineExceeded):
        return status.Error(codes.DeadlineExceeded, err.Error())
    case errors.Is(err, context.Canceled):
        return status.Error(codes.Canceled, err.Error())
    }
    return status.Error(codes.Internal, err.Error())
}

func observe(method string, err error) {
    result := "ok"
    if err != nil { result = "error" }
    obsmetrics.ControlRequests.WithLabelValues("grpc", method, result).Inc()
}

func (m *controlImpl) Topology(ctx context.Context, _ *empty) (*transport.TopologyResponse, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.topology")
    topo, err := m.h.Topology(ctx)
    end(err)
    observe("topology", err)
    if err != nil { return nil, toStatus(err) }
    return &transport.TopologyResponse{Topology: topo}, nil
}

func (m *controlImpl) Scenarios(ctx context.Context, _ *empty) (*transport.ScenariosResponse, error) {
    list, err := m.h.Scenarios(ctx)
    observe("scenarios", err)
    if err != nil { return nil, toStatus(err) }
    return &transport.ScenariosResponse{Scenarios: list}, nil
}

func (m *controlImpl) Run(ctx context.Context, in *transport.RunRequest) (*transport.RunResponse, error) {
    if in == nil { in = &transport.RunRequest{} }
    ctx, end := tracing.StartSpan(ctx, "grpc.run")
    out, err := m.h.Run(ctx, *in)
    end(err)
    observe("run", err)
    if err != nil { return nil, toStatus(err) }
    return &out, nil
}

// Service descriptor and handlers, hand-written in place of codegen.
var controlServiceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*controlServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Topology", Handler: topologyHandler},
        {MethodName: "Scenarios", Handler: scenariosHandler},
        {MethodName: "Run", Handler: runHandler},
    },
}

func unary[In any](method string, call func(controlServer, context.Context, *In) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
    return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
        in := new(In)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return call(srv.(controlServer), ctx, in) }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
        handler := func(ctx context.Context, req any) (any, error) { return call(srv.(controlServer), ctx, req.(*In)) }
        return interceptor(ctx, in, info, handler)
    }
}

var (
    topologyHandler = unary("Topology", func(s controlServer, ctx context.Context, in *empty) (any, error) { return s.Topology(ctx, in) })
    scenariosHandler = unary("Scenarios", func(s controlServer, ctx context.Context, in *empty) (any, error) { return s.Scenarios(ctx, in) })
    runHandler = unary("Run", func(s controlServer, ctx context.Context, in *transport.RunRequest) (any, error) { return s.Run(ctx, in) })
)

// Start listens and serves the control and health services.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.mu.Unlock()
    srv.RegisterService(&controlServiceDesc, &controlImpl{h: h})

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
            logutil.Errorf(s.logger, "grpc: server error: %v", err)
        }
    }()
    logutil.Infof(s.logger, "grpc: control plane on %s", lis.Addr())
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop drains in-flight calls, forcing a stop after two seconds or when
// ctx is done.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    if hs != nil { hs.Shutdown() }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    return nil
}

var _ transport.Server = (*Server)(nil)
