// Package dns resolves store endpoints from SRV or A/AAAA records.
package dns

import (
    "context"
    "errors"
    "fmt"
    "log"
    "net"
    "slices"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/replprobe/pkg/discovery"
    "github.com/amirimatin/replprobe/pkg/internal/logutil"
)

// Options configures DNS discovery.
type Options struct {
    // Names are SRV names such as "_mongodb._tcp.db.example.com", plain
    // hostnames, or host:port pairs taken as-is.
    Names []string
    // Port is used for A/AAAA answers. Defaults to 27017.
    Port int
    // Refresh bounds how long answers are cached. Defaults to 5s.
    Refresh time.Duration
    // Resolver overrides net.DefaultResolver.
    Resolver *net.Resolver
    Logger   *log.Logger
}

type source struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    cache []string
}

// New returns a caching DNS Source.
func New(opts Options) discovery.Source {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Port == 0 { opts.Port = discovery.DefaultPort }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    return &source{opts: opts}
}

func (d *source) Endpoints(ctx context.Context) ([]string, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    if len(d.cache) > 0 && time.Since(d.last) < d.opts.Refresh {
        return append([]string(nil), d.cache...), nil
    }
    out, err := d.resolveAll(ctx)
    if err != nil { return nil, err }
    d.cache, d.last = out, time.Now()
    return append([]string(nil), out...), nil
}

func (d *source) resolveAll(ctx context.Context) ([]string, error) {
    var out []string
    var errs []error
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        switch {
        case name == "":
            continue
        case strings.HasPrefix(name, "_") && strings.Contains(name, "._"):
            recs, err := d.lookupSRV(ctx, name)
            if err == nil && len(recs) > 0 { out = append(out, recs...); continue }
            if err != nil { logutil.Debugf(d.opts.Logger, "discovery: srv %s: %v", name, err) }
            // fall back to the address records of the bare domain
            _, _, domain := parseSRVName(name)
            hps, herr := d.lookupHost(ctx, domain)
            if herr != nil { errs = append(errs, errors.Join(err, herr)); continue }
            out = append(out, hps...)
        case strings.Contains(name, ":"):
            out = append(out, name)
        default:
            hps, err := d.lookupHost(ctx, name)
            if err != nil { errs = append(errs, err); continue }
            out = append(out, hps...)
        }
    }
    slices.Sort(out)
    out = slices.Compact(out)
    if len(out) == 0 {
        if len(errs) > 0 { return nil, fmt.Errorf("%w: %w", discovery.ErrNoEndpoints, errors.Join(errs...)) }
        return nil, discovery.ErrNoEndpoints
    }
    return out, nil
}

func (d *source) lookupSRV(ctx context.Context, fqdn string) ([]string, error) {
    svc, proto, domain := parseSRVName(fqdn)
    if svc == "" || proto == "" || domain == "" { return nil, fmt.Errorf("discovery: malformed srv name %q", fqdn) }
    _, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil { return nil, err }
    out := make([]string, 0, len(addrs))
    for _, a := range addrs {
        out = append(out, net.JoinHostPort(strings.TrimSuffix(a.Target, "."), strconv.Itoa(int(a.Port))))
    }
    return out, nil
}

func (d *source) lookupHost(ctx context.Context, host string) ([]string, error) {
    if host == "" { return nil, errors.New("discovery: empty host") }
    ips, err := d.opts.Resolver.LookupHost(ctx, host)
    if err != nil { return nil, err }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, strconv.Itoa(d.opts.Port))) }
    return out, nil
}

// parseSRVName splits "_service._proto.name".
func parseSRVName(fqdn string) (service, proto, name string) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
