package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/transport"
)

// Client calls a remote control plane. Reads are retried with backoff;
// run requests are sent once.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
}

// NewClient builds a client whose requests time out after timeout. Runs
// can take minutes, so callers usually pass a generous value.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr}
}

// UseTLS switches to https with cfg.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.transport.TLSClientConfig = cfg
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// do sends one request and decodes a 200 body into out. Other statuses
// become errors carrying the server message.
func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
    var rd io.Reader
    if body != nil { rd = bytes.NewReader(body) }
    req, err := http.NewRequestWithContext(ctx, method, u, rd)
    if err != nil { return err }
    if body != nil { req.Header.Set("Content-Type", "application/json") }
    resp, err := c.httpc.Do(req)
    if err != nil { return err }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return err }
    if resp.StatusCode != http.StatusOK {
        var eb errorBody
        if json.Unmarshal(b, &eb) == nil && eb.Error != "" {
            return &StatusError{Code: resp.StatusCode, Message: eb.Error}
        }
        return &StatusError{Code: resp.StatusCode, Message: string(bytes.TrimSpace(b))}
    }
    return json.Unmarshal(b, out)
}

// StatusError is a non-200 reply.
type StatusError struct {
    Code    int
    Message string
}

func (e *StatusError) Error() string { return fmt.Sprintf("status %d: %s", e.Code, e.Message) }

// Unwrap maps well-known statuses back to package errors.
func (e *StatusError) Unwrap() error {
    switch e.Code {
    case http.StatusNotFound:
        return transport.ErrUnknownScenario
    case http.StatusServiceUnavailable:
        return store.ErrUnavailable
    }
    return nil
}

// get retries transport failures and 5xx replies three times.
func (c *Client) get(ctx context.Context, u string, out any) error {
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        lastErr = c.do(ctx, http.MethodGet, u, nil, out)
        var se *StatusError
        if lastErr == nil || (errors.As(lastErr, &se) && se.Code < 500) { return lastErr }
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

func (c *Client) Topology(ctx context.Context, addr string) (store.Topology, error) {
    var out store.Topology
    err := c.get(ctx, c.url(addr, "/topology"), &out)
    return out, err
}

func (c *Client) Scenarios(ctx context.Context, addr string) ([]transport.ScenarioInfo, error) {
    var out []transport.ScenarioInfo
    err := c.get(ctx, c.url(addr, "/scenarios"), &out)
    return out, err
}

func (c *Client) Run(ctx context.Context, addr string, req transport.RunRequest) (transport.RunResponse, error) {
    var out transport.RunResponse
    if len(req.Names) == 1 && !req.All {
        err := c.do(ctx, http.MethodPost, c.url(addr, "/scenarios/"+url.PathEscape(req.Names[0])+"/run"), []byte("{}"), &out)
        return out, err
    }
    body, err := json.Marshal(req)
    if err != nil { return out, err }
    err = c.do(ctx, http.MethodPost, c.url(addr, "/run"), body, &out)
    return out, err
}

var _ transport.Client = (*Client)(nil)
