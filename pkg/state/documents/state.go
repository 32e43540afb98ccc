package documents

import (
    "fmt"
    "sort"
    "sync"

    "go.mongodb.org/mongo-driver/bson"

    base "github.com/amirimatin/replprobe/pkg/state"
    "github.com/amirimatin/replprobe/pkg/store"
)

// State keeps collections in insertion order.
type State struct {
    mu    sync.RWMutex
    colls map[string][]store.Document
}

func New() *State { return &State{colls: make(map[string][]store.Document)} }

func (s *State) ApplyInsert(coll string, doc store.Document) error {
    if coll == "" { return fmt.Errorf("state: empty collection") }
    if _, ok := doc["_id"]; !ok { return fmt.Errorf("state: document without _id") }
    s.mu.Lock(); defer s.mu.Unlock()
    s.colls[coll] = append(s.colls[coll], doc.Clone())
    return nil
}

// ApplyUpdate sets fields on the first matching document.
func (s *State) ApplyUpdate(coll string, filter, set store.Document) (int64, int64, error) {
    if coll == "" { return 0, 0, fmt.Errorf("state: empty collection") }
    s.mu.Lock(); defer s.mu.Unlock()
    for _, d := range s.colls[coll] {
        if !store.Matches(d, filter) { continue }
        changed := false
        for k, v := range set {
            if cur, ok := d[k]; !ok || !store.ValueEqual(cur, v) { changed = true }
            d[k] = v
        }
        if changed { return 1, 1, nil }
        return 1, 0, nil
    }
    return 0, 0, nil
}

func (s *State) ApplyClear(coll string) error {
    s.mu.Lock(); defer s.mu.Unlock()
    delete(s.colls, coll)
    return nil
}

// Find returns copies of the matching documents. A limit <= 0 means all.
func (s *State) Find(coll string, filter store.Document, sortField string, limit int) []store.Document {
    s.mu.RLock()
    var out []store.Document
    for _, d := range s.colls[coll] {
        if store.Matches(d, filter) { out = append(out, d.Clone()) }
    }
    s.mu.RUnlock()
    store.SortBy(out, sortField)
    if limit > 0 && len(out) > limit { out = out[:limit] }
    return out
}

type snapshotV1 struct {
    Version     int                         `bson:"version"`
    Collections map[string][]store.Document `bson:"collections"`
}

// Snapshot encodes the collections as BSON so datetimes and numbers keep
// their types across a restore.
func (s *State) Snapshot() ([]byte, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    names := make([]string, 0, len(s.colls))
    for k := range s.colls { names = append(names, k) }
    sort.Strings(names)
    snap := snapshotV1{Version: 1, Collections: make(map[string][]store.Document, len(names))}
    for _, n := range names { snap.Collections[n] = s.colls[n] }
    return bson.Marshal(snap)
}

func (s *State) Restore(buf []byte) error {
    var raw struct {
        Version     int                 `bson:"version"`
        Collections map[string][]bson.M `bson:"collections"`
    }
    if err := bson.Unmarshal(buf, &raw); err != nil {
        return err
    }
    if raw.Version != 1 { return fmt.Errorf("state: unsupported snapshot version %d", raw.Version) }
    colls := make(map[string][]store.Document, len(raw.Collections))
    for name, docs := range raw.Collections {
        out := make([]store.Document, 0, len(docs))
        for _, d := range docs { out = append(out, store.NormalizeDocument(d)) }
        colls[name] = out
    }
    s.mu.Lock(); defer s.mu.Unlock()
    s.colls = colls
    return nil
}

// Ensure interface satisfaction at compile-time.
var _ base.DocumentState = (*State)(nil)
