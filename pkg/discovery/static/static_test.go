package static

import (
    "context"
    "errors"
    "testing"

    "github.com/amirimatin/replprobe/pkg/discovery"
)

func TestParse(t *testing.T) {
    cases := []struct{
        in   string
        want []string
    }{
        {"", nil},
        {"mongo1:27017", []string{"mongo1:27017"}},
        {" mongo1 , mongo2:27018 ", []string{"mongo1", "mongo2:27018"}},
        {",,a:1, ,b:2,", []string{"a:1", "b:2"}},
    }
    for _, c := range cases {
        got := Parse(c.in)
        if len(got) != len(c.want) {
            t.Fatalf("len mismatch for %q: got %d want %d", c.in, len(got), len(c.want))
        }
        for i := range got {
            if got[i] != c.want[i] {
                t.Fatalf("[%q] item %d: got %q want %q", c.in, i, got[i], c.want[i])
            }
        }
    }
}

func TestNewAddsPortAndCopies(t *testing.T) {
    src := New(0, " mongo1 ", "", "mongo2:27018")
    got, err := src.Endpoints(context.Background())
    if err != nil { t.Fatal(err) }
    if len(got) != 2 || got[0] != "mongo1:27017" || got[1] != "mongo2:27018" {
        t.Fatalf("unexpected endpoints: %#v", got)
    }
    got[0] = "x"
    again, _ := src.Endpoints(context.Background())
    if again[0] != "mongo1:27017" { t.Fatalf("endpoints slice shared: %#v", again) }
}

func TestEmpty(t *testing.T) {
    if _, err := New(0).Endpoints(context.Background()); !errors.Is(err, discovery.ErrNoEndpoints) {
        t.Fatalf("want ErrNoEndpoints, got %v", err)
    }
}
