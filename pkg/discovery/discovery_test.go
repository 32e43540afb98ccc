package discovery

import (
    "context"
    "errors"
    "testing"
)

func TestURI(t *testing.T) {
    got, err := URI([]string{" mongo1:27017", "", "mongo2:27017"}, "rs0", nil)
    if err != nil { t.Fatal(err) }
    if got != "mongodb://mongo1:27017,mongo2:27017/?replicaSet=rs0" { t.Fatalf("uri: %s", got) }

    got, err = URI([]string{"h:1"}, "", map[string]string{"tls": "true"})
    if err != nil || got != "mongodb://h:1/?tls=true" { t.Fatalf("uri: %s %v", got, err) }

    if _, err := URI(nil, "rs0", nil); !errors.Is(err, ErrNoEndpoints) { t.Fatalf("want ErrNoEndpoints, got %v", err) }
    if _, err := URI([]string{"user@h:1"}, "", nil); err == nil { t.Fatalf("expected invalid endpoint") }
}

func TestResolve(t *testing.T) {
    src := SourceFunc(func(context.Context) ([]string, error) { return []string{"a:1", "b:2"}, nil })
    got, err := Resolve(context.Background(), src, "rs0", nil)
    if err != nil || got != "mongodb://a:1,b:2/?replicaSet=rs0" { t.Fatalf("resolve: %s %v", got, err) }

    boom := errors.New("boom")
    _, err = Resolve(context.Background(), SourceFunc(func(context.Context) ([]string, error) { return nil, boom }), "", nil)
    if !errors.Is(err, boom) { t.Fatalf("want source error, got %v", err) }
}

func TestWithPort(t *testing.T) {
    cases := map[string]string{
        "mongo1":         "mongo1:27017",
        "mongo1:27018":   "mongo1:27018",
        "10.0.0.1":       "10.0.0.1:27017",
        "[::1]:27019":    "[::1]:27019",
        "::1":            "[::1]:27017",
    }
    for in, want := range cases {
        if got := WithPort(in, 0); got != want { t.Fatalf("%q: got %q want %q", in, got, want) }
    }
    if got := WithPort("h", 30001); got != "h:30001" { t.Fatalf("explicit port: %q", got) }
}
