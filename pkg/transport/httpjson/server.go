// Package httpjson serves and calls the control plane over HTTP with JSON
// bodies.
package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/observability/tracing"
    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/transport"
)

// Server exposes the control plane:
//
//  GET  /healthz
//  GET  /metrics
//  GET  /topology
//  GET  /scenarios
//  POST /scenarios/{name}/run
//  POST /run            body: transport.RunRequest
type Server struct {
    bind   string
    mu     sync.Mutex
    srv    *http.Server
    ln     net.Listener
    logger *log.Logger
    tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g. ":8080").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS serves HTTPS with cfg.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type errorBody struct {
    Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

// statusOf maps handler errors to HTTP status codes.
func statusOf(err error) int {
    switch {
    case errors.Is(err, transport.ErrUnknownScenario):
        return http.StatusNotFound
    case errors.Is(err, store.ErrConnection), errors.Is(err, store.ErrUnavailable):
        return http.StatusServiceUnavailable
    case errors.Is(err, context.DeadlineExceeded):
        return http.StatusGatewayTimeout
    }
    return http.StatusInternalServerError
}

func observe(method string, err error) {
    result := "ok"
    if err != nil { result = "error" }
    obsmetrics.ControlRequests.WithLabelValues("http", method, result).Inc()
}

// Router builds the handler tree without listening.
func Router(h transport.Handlers) http.Handler {
    r := chi.NewRouter()
    r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    r.Handle("/metrics", promhttp.Handler())
    r.Get("/topology", func(w http.ResponseWriter, r *http.Request) {
        ctx, end := tracing.StartSpan(r.Context(), "http.topology")
        topo, err := h.Topology(ctx)
        end(err)
        observe("topology", err)
        if err != nil { writeJSON(w, statusOf(err), errorBody{Error: err.Error()}); return }
        writeJSON(w, http.StatusOK, topo)
    })
    r.Get("/scenarios", func(w http.ResponseWriter, r *http.Request) {
        list, err := h.Scenarios(r.Context())
        observe("scenarios", err)
        if err != nil { writeJSON(w, statusOf(err), errorBody{Error: err.Error()}); return }
        writeJSON(w, http.StatusOK, list)
    })
    run := func(w http.ResponseWriter, r *http.Request, req transport.RunRequest) {
        ctx, end := tracing.StartSpan(r.Context(), "http.run")
        resp, err := h.Run(ctx, req)
        end(err)
        observe("run", err)
        if err != nil { writeJSON(w, statusOf(err), errorBody{Error: err.Error()}); return }
        writeJSON(w, http.StatusOK, resp)
    }
    r.Post("/scenarios/{name}/run", func(w http.ResponseWriter, r *http.Request) {
        run(w, r, transport.RunRequest{Names: []string{chi.URLParam(r, "name")}})
    })
    r.Post("/run", func(w http.ResponseWriter, r *http.Request) {
        var req transport.RunRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("bad request: %v", err)})
            return
        }
        run(w, r, req)
    })
    return r
}

// Start listens and serves until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil { ln = tls.NewListener(ln, s.tlsCfg) }
    srv := &http.Server{Handler: Router(h), ReadHeaderTimeout: 5 * time.Second}
    s.mu.Lock()
    s.ln, s.srv = ln, srv
    s.mu.Unlock()
    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    logutil.Infof(s.logger, "httpjson: control plane on %s", ln.Addr())
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop shuts down gracefully within two seconds.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

var _ transport.Server = (*Server)(nil)
