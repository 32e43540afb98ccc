package grpc

import (
    "context"
    "crypto/tls"
    "fmt"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/transport"
)

// Client calls a remote control plane, reusing one connection per address.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cmOnce  sync.Once
    cm      *ConnManager
}

// NewClient bounds every call by timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{timeout: timeout}
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dial(_ context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.NewClient(target, opts...)
}

func (c *Client) invoke(ctx context.Context, addr, method string, in, out any) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.pool().Get(cctx, addr)
    if err != nil { return err }
    defer rel()
    return fromStatus(cc.Invoke(cctx, "/"+serviceName+"/"+method, in, out))
}

// fromStatus turns gRPC codes back into package errors.
func fromStatus(err error) error {
    if err == nil { return nil }
    st, ok := status.FromError(err)
    if !ok { return err }
    switch st.Code() {
    case codes.NotFound:
        return fmt.Errorf("%w: %s", transport.ErrUnknownScenario, st.Message())
    case codes.Unavailable:
        return fmt.Errorf("%w: %s", store.ErrUnavailable, st.Message())
    case codes.DeadlineExceeded:
        return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
    }
    return err
}

func (c *Client) Topology(ctx context.Context, addr string) (store.Topology, error) {
    var out transport.TopologyResponse
    err := c.invoke(ctx, addr, "Topology", &empty{}, &out)
    return out.Topology, err
}

func (c *Client) Scenarios(ctx context.Context, addr string) ([]transport.ScenarioInfo, error) {
    var out transport.ScenariosResponse
    err := c.invoke(ctx, addr, "Scenarios", &empty{}, &out)
    return out.Scenarios, err
}

func (c *Client) Run(ctx context.Context, addr string, req transport.RunRequest) (transport.RunResponse, error) {
    var out transport.RunResponse
    err := c.invoke(ctx, addr, "Run", &req, &out)
    return out, err
}

// Healthy asks the standard health service whether the control service
// is serving. The health messages travel through the JSON codec too.
func (c *Client) Healthy(ctx context.Context, addr string) (bool, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.pool().Get(cctx, addr)
    if err != nil { return false, err }
    defer rel()
    resp, err := healthpb.NewHealthClient(cc).Check(cctx, &healthpb.HealthCheckRequest{Service: serviceName})
    if err != nil { return false, err }
    return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) pool() *ConnManager {
    c.cmOnce.Do(func() { c.cm = NewConnManager(30*time.Second, c.dial) })
    return c.cm
}

// Close drops every cached connection.
func (c *Client) Close() { c.pool().Close() }

var _ transport.Client = (*Client)(nil)
