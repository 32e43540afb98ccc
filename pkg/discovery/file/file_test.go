package file

import (
    "context"
    "errors"
    "os"
    "path/filepath"
    "slices"
    "testing"
    "time"

    "github.com/amirimatin/replprobe/pkg/discovery"
)

func endpoints(t *testing.T, src discovery.Source) []string {
    t.Helper()
    got, err := src.Endpoints(context.Background())
    if err != nil { t.Fatal(err) }
    return got
}

func TestEnvOverridesFile(t *testing.T) {
    dir := t.TempDir()
    f := filepath.Join(dir, "members.txt")
    if err := os.WriteFile(f, []byte("a:1\n"), 0o644); err != nil { t.Fatal(err) }

    const envName = "TEST_REPLPROBE_MEMBERS"
    t.Setenv(envName, "mongo2,mongo1:27018")

    got := endpoints(t, New(Options{Path: f, Env: envName}))
    if !slices.Equal(got, []string{"mongo1:27018", "mongo2:27017"}) {
        t.Fatalf("env override failed, got %#v", got)
    }
}

func TestFileReadAndRefresh(t *testing.T) {
    dir := t.TempDir()
    f := filepath.Join(dir, "members.txt")
    if err := os.WriteFile(f, []byte("# replica set\na:1\nb:2, b:2\n"), 0o644); err != nil { t.Fatal(err) }

    src := New(Options{Path: f, Refresh: 10 * time.Millisecond})
    if got := endpoints(t, src); !slices.Equal(got, []string{"a:1", "b:2"}) {
        t.Fatalf("unexpected initial endpoints: %#v", got)
    }

    if err := os.WriteFile(f, []byte("b:2\nc:3\n"), 0o644); err != nil { t.Fatal(err) }
    time.Sleep(15 * time.Millisecond)

    if got := endpoints(t, src); !slices.Equal(got, []string{"b:2", "c:3"}) {
        t.Fatalf("expected refreshed endpoints, got %#v", got)
    }
}

func TestGlobMergesUniqueSorted(t *testing.T) {
    dir := t.TempDir()
    if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a:1\nb:2\n"), 0o644); err != nil { t.Fatal(err) }
    if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b:2\nc:3\n"), 0o644); err != nil { t.Fatal(err) }

    got := endpoints(t, New(Options{Path: filepath.Join(dir, "*.txt")}))
    if !slices.Equal(got, []string{"a:1", "b:2", "c:3"}) {
        t.Fatalf("unexpected endpoints: %#v", got)
    }
}

func TestMissingFile(t *testing.T) {
    _, err := New(Options{Path: filepath.Join(t.TempDir(), "none-*.txt")}).Endpoints(context.Background())
    if !errors.Is(err, discovery.ErrNoEndpoints) { t.Fatalf("want ErrNoEndpoints, got %v", err) }
}
