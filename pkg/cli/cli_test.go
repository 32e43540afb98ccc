package cli

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "io"
    "log"
    "strings"
    "testing"
    "time"

    "github.com/amirimatin/replprobe/pkg/config"
    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/harness"
    "github.com/amirimatin/replprobe/pkg/store"
    "github.com/amirimatin/replprobe/pkg/store/storetest"
    "github.com/amirimatin/replprobe/pkg/transport"
    mgmtgrpc "github.com/amirimatin/replprobe/pkg/transport/grpc"
    "github.com/amirimatin/replprobe/pkg/transport/httpjson"
)

var quiet = log.New(io.Discard, "", 0)

func fast(cfg config.Config) config.Config {
    cfg.Experiment.Poll = &experiment.PollPolicy{MaxAttempts: 3, Interval: time.Millisecond}
    cfg.Experiment.Pacing = -1
    cfg.Experiment.Ops = 4
    cfg.Experiment.Failover = experiment.FailoverSettings{PollInterval: 5 * time.Millisecond, MaxWait: 200 * time.Millisecond, Settle: -1}
    return cfg
}

// useFake routes every command to f and counts how often a harness is opened.
func useFake(t *testing.T, f *storetest.Fake) *int {
    t.Helper()
    t.Setenv(config.EnvConfig, "")
    t.Setenv(config.EnvBackend, "")
    opened := 0
    prev := openHarness
    openHarness = func(ctx context.Context, cfg config.Config, _ *log.Logger) (*harness.Harness, error) {
        opened++
        return harness.New(ctx, harness.Options{Config: fast(cfg), Store: f, Logger: quiet})
    }
    t.Cleanup(func() { openHarness = prev })
    return &opened
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
    t.Helper()
    root := NewRootCommand()
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetErr(io.Discard)
    root.SetIn(strings.NewReader(stdin))
    root.SetArgs(args)
    err := root.Execute()
    return out.String(), err
}

func TestListJSONAndTable(t *testing.T) {
    out, err := execute(t, "", "list", "--json")
    if err != nil { t.Fatalf("list: %v", err) }
    var infos []transport.ScenarioInfo
    if err := json.Unmarshal([]byte(out), &infos); err != nil { t.Fatalf("decode: %v\n%s", err, out) }
    if len(infos) != len(experiment.Names()) { t.Fatalf("got %d scenarios", len(infos)) }

    out, err = execute(t, "", "list", "--no-color")
    if err != nil { t.Fatalf("list: %v", err) }
    for _, want := range []string{"NAME", "write-concern", "causal", "Primary failover"} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in:\n%s", want, out) }
    }
}

func TestRunJSONOnFake(t *testing.T) {
    useFake(t, storetest.New())
    out, err := execute(t, "", "run", "strong", "eventual", "--json", "--parallel", "2")
    if err != nil { t.Fatalf("run: %v", err) }
    var resp transport.RunResponse
    if err := json.Unmarshal([]byte(out), &resp); err != nil { t.Fatalf("decode: %v\n%s", err, out) }
    if !resp.Holds || len(resp.Suite.Results) != 2 { t.Fatalf("unexpected response: %+v", resp) }
}

func TestRunReportAndPart(t *testing.T) {
    useFake(t, storetest.New())
    out, err := execute(t, "", "run", "--part", "C", "--no-color")
    if err != nil { t.Fatalf("run: %v", err) }
    for _, want := range []string{"Strong consistency", "Causal consistency", "Summary", "All properties hold."} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in:\n%s", want, out) }
    }
}

func TestRunUnknownScenarioFailsBeforeConnecting(t *testing.T) {
    opened := useFake(t, storetest.New())
    if _, err := execute(t, "", "run", "nope"); err == nil { t.Fatalf("expected error") }
    if _, err := execute(t, "", "run"); err == nil { t.Fatalf("expected error without names") }
    if *opened != 0 { t.Fatalf("harness opened %d times", *opened) }
}

func TestRunStrict(t *testing.T) {
    f := storetest.New()
    f.SetWriteError(store.ErrUnavailable)
    useFake(t, f)
    if _, err := execute(t, "", "run", "strong", "--no-color"); err != nil {
        t.Fatalf("non-strict run should succeed: %v", err)
    }
    if _, err := execute(t, "", "run", "strong", "--strict", "--no-color"); !errors.Is(err, ErrNotHeld) {
        t.Fatalf("want ErrNotHeld, got %v", err)
    }
}

func TestTopologyJSON(t *testing.T) {
    useFake(t, storetest.New())
    out, err := execute(t, "", "topology", "--json")
    if err != nil { t.Fatalf("topology: %v", err) }
    var topo store.Topology
    if err := json.Unmarshal([]byte(out), &topo); err != nil { t.Fatalf("decode: %v", err) }
    if topo.Leader == "" || len(topo.Followers) != 2 { t.Fatalf("unexpected topology: %+v", topo) }
}

func TestBadFlagsRejected(t *testing.T) {
    useFake(t, storetest.New())
    if _, err := execute(t, "", "topology", "--backend", "cassandra"); err == nil { t.Fatalf("expected backend error") }
    if _, err := execute(t, "", "run", "strong", "--parallel", "0"); err == nil { t.Fatalf("expected parallel error") }
}

func TestMenu(t *testing.T) {
    useFake(t, storetest.New())
    out, err := execute(t, "5\nbogus\n11\n10\nq\n", "menu", "--no-color")
    if err != nil { t.Fatalf("menu: %v", err) }
    for _, want := range []string{"Part A: Basic Setup", "Comprehensive", "10. Run all Part C experiments", "Strong consistency", "Invalid choice", "Summary", "Goodbye!"} {
        if !strings.Contains(out, want) { t.Fatalf("missing %q in:\n%s", want, out) }
    }
}

func TestMenuEndOfInput(t *testing.T) {
    useFake(t, storetest.New())
    if _, err := execute(t, "", "menu", "--no-color"); err != nil { t.Fatalf("menu: %v", err) }
}

func TestMenuChoicesNumbering(t *testing.T) {
    choices := menuChoices()
    if len(choices) != 10 { t.Fatalf("want 10 choices, got %d", len(choices)) }
    if choices[0].scenario != "setup" || choices[4].scenario != "strong" { t.Fatalf("unexpected order: %+v", choices) }
    if choices[8].part != "B" || choices[9].part != "C" { t.Fatalf("unexpected comprehensive entries: %+v", choices[8:]) }
}

func TestRemoteAgainstServers(t *testing.T) {
    f := storetest.New()
    h, err := harness.New(context.Background(), harness.Options{Config: fast(config.Default()), Store: f, Logger: quiet})
    if err != nil { t.Fatal(err) }
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    hs := httpjson.NewServer("127.0.0.1:0", quiet)
    if err := hs.Start(ctx, h); err != nil { t.Fatal(err) }
    gs := mgmtgrpc.NewServer("127.0.0.1:0", quiet)
    if err := gs.Start(ctx, h); err != nil { t.Fatal(err) }

    for _, c := range []struct{ proto, addr string }{{"http", hs.Addr()}, {"grpc", gs.Addr()}} {
        out, err := execute(t, "", "remote", "--proto", c.proto, "--addr", c.addr, "--timeout", "5s", "list", "--json")
        if err != nil { t.Fatalf("%s list: %v", c.proto, err) }
        if !strings.Contains(out, "write-concern") { t.Fatalf("%s list output:\n%s", c.proto, out) }

        out, err = execute(t, "", "remote", "--proto", c.proto, "--addr", c.addr, "--timeout", "5s", "--no-color", "topology")
        if err != nil { t.Fatalf("%s topology: %v", c.proto, err) }
        if !strings.Contains(out, "node-1") { t.Fatalf("%s topology output:\n%s", c.proto, out) }

        out, err = execute(t, "", "remote", "--proto", c.proto, "--addr", c.addr, "--timeout", "5s", "--json", "run", "strong")
        if err != nil { t.Fatalf("%s run: %v", c.proto, err) }
        var resp transport.RunResponse
        if err := json.Unmarshal([]byte(out), &resp); err != nil || !resp.Holds { t.Fatalf("%s run: %v %+v", c.proto, err, resp) }

        if _, err := execute(t, "", "remote", "--proto", c.proto, "--addr", c.addr, "--timeout", "5s", "run", "nope"); !errors.Is(err, transport.ErrUnknownScenario) {
            t.Fatalf("%s unknown scenario: %v", c.proto, err)
        }
    }
    if _, err := execute(t, "", "remote", "--proto", "udp", "list"); err == nil { t.Fatalf("expected protocol error") }
}

func TestServeStopsOnCancel(t *testing.T) {
    h, err := harness.New(context.Background(), harness.Options{Config: fast(config.Default()), Store: storetest.New(), Logger: quiet})
    if err != nil { t.Fatal(err) }
    ctx, cancel := context.WithCancel(context.Background())
    servers := []transport.Server{httpjson.NewServer("127.0.0.1:0", quiet), mgmtgrpc.NewServer("127.0.0.1:0", quiet)}
    done := make(chan error, 1)
    go func() { done <- serve(ctx, h, servers, quiet) }()
    time.Sleep(50 * time.Millisecond)
    if _, err := h.Run(context.Background(), transport.RunRequest{Names: []string{"strong"}}); err != nil { t.Fatal(err) }
    cancel()
    select {
    case err := <-done:
        if err != nil { t.Fatalf("serve: %v", err) }
    case <-time.After(5 * time.Second):
        t.Fatalf("serve did not return")
    }
}

func TestServeRequiresAddress(t *testing.T) {
    useFake(t, storetest.New())
    if _, err := execute(t, "", "serve"); err == nil { t.Fatalf("expected address error") }
}
