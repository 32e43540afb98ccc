// Package file reads store endpoints from an environment variable or from
// one or more seed files.
package file

import (
    "bufio"
    "context"
    "fmt"
    "os"
    "path/filepath"
    "slices"
    "strings"
    "sync"
    "time"

    "github.com/amirimatin/replprobe/pkg/discovery"
)

// Options configures file and environment based discovery.
type Options struct {
    // Path is a file or glob. Each line holds one endpoint or a
    // comma-separated list; lines starting with '#' are ignored.
    Path string
    // Env names a variable that, when set, wins over Path.
    Env string
    // Port is applied to entries without one.
    Port int
    // Refresh bounds how long a parsed file is reused. Defaults to 5s.
    Refresh time.Duration
}

type source struct {
    opts  Options
    mu    sync.Mutex
    last  time.Time
    mtime time.Time
    cache []string
}

func New(opts Options) discovery.Source {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    return &source{opts: opts}
}

func (s *source) Endpoints(ctx context.Context) ([]string, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    s.mu.Lock(); defer s.mu.Unlock()
    if s.opts.Env != "" {
        if v := strings.TrimSpace(os.Getenv(s.opts.Env)); v != "" { return s.finish(split(v)) }
    }
    if s.opts.Path == "" { return nil, discovery.ErrNoEndpoints }

    now := time.Now()
    if st, err := os.Stat(s.opts.Path); err == nil {
        if st.ModTime().After(s.mtime) || now.Sub(s.last) >= s.opts.Refresh {
            eps, err := load(s.opts.Path)
            if err != nil { return nil, err }
            s.cache, s.last, s.mtime = eps, now, st.ModTime()
        }
        return s.finish(s.cache)
    }

    matches, err := filepath.Glob(s.opts.Path)
    if err != nil { return nil, fmt.Errorf("discovery: bad pattern %q: %w", s.opts.Path, err) }
    if len(matches) == 0 { return nil, fmt.Errorf("discovery: %s: %w", s.opts.Path, discovery.ErrNoEndpoints) }
    var all []string
    for _, m := range matches {
        eps, err := load(m)
        if err != nil { return nil, err }
        all = append(all, eps...)
    }
    s.cache, s.last = all, now
    return s.finish(all)
}

func (s *source) finish(eps []string) ([]string, error) {
    out := make([]string, 0, len(eps))
    for _, e := range eps { out = append(out, discovery.WithPort(e, s.opts.Port)) }
    slices.Sort(out)
    out = slices.Compact(out)
    if len(out) == 0 { return nil, discovery.ErrNoEndpoints }
    return out, nil
}

func load(path string) ([]string, error) {
    f, err := os.Open(path)
    if err != nil { return nil, fmt.Errorf("discovery: %w", err) }
    defer f.Close()
    var out []string
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        out = append(out, split(line)...)
    }
    if err := sc.Err(); err != nil { return nil, fmt.Errorf("discovery: read %s: %w", path, err) }
    return out, nil
}

func split(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}
