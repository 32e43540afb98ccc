package oplog

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "slices"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/tidwall/wal"

    "github.com/amirimatin/replprobe/pkg/store"
)

var (
    ErrClosed      = errors.New("oplog: log closed")
    ErrBadDocument = errors.New("oplog: document is not an operation record")
)

// Kind is the operation type of a record.
type Kind string

const (
    KindWrite  Kind = "write"
    KindUpdate Kind = "update"
    KindRead   Kind = "read"
)

// Document field names used when a record is stored as a document.
const (
    FieldID          = "op_id"
    FieldKind        = "op_kind"
    FieldLogicalTime = "logical_time"
    FieldParent      = "depends_on"
)

// Record is one client operation. Parent, when set, names an operation that
// causally precedes this one.
type Record struct {
    ID          uuid.UUID      `json:"id"`
    Kind        Kind           `json:"kind"`
    Payload     store.Document `json:"payload,omitempty"`
    LogicalTime time.Time      `json:"logicalTime"`
    Parent      *uuid.UUID     `json:"parent,omitempty"`
}

// HasParent reports whether r declares a causal parent.
func (r Record) HasParent() bool { return r.Parent != nil && *r.Parent != uuid.Nil }

// Document renders r as a storable document: the payload fields plus the
// record metadata.
func (r Record) Document() store.Document {
    doc := r.Payload.Clone()
    if doc == nil { doc = store.Document{} }
    doc[FieldID] = r.ID.String()
    doc[FieldKind] = string(r.Kind)
    doc[FieldLogicalTime] = r.LogicalTime
    if r.HasParent() {
        doc[FieldParent] = r.Parent.String()
    } else {
        doc[FieldParent] = nil
    }
    return doc
}

// FromDocument reverses Document. Payload receives every non-metadata field.
func FromDocument(doc store.Document) (Record, error) {
    rawID, _ := doc[FieldID].(string)
    id, err := uuid.Parse(rawID)
    if err != nil { return Record{}, fmt.Errorf("%w: id %q: %v", ErrBadDocument, rawID, err) }
    ts, ok := doc[FieldLogicalTime].(time.Time)
    if !ok { return Record{}, fmt.Errorf("%w: %s has type %T", ErrBadDocument, FieldLogicalTime, doc[FieldLogicalTime]) }
    rec := Record{ID: id, LogicalTime: ts, Payload: store.Document{}}
    if k, ok := doc[FieldKind].(string); ok { rec.Kind = Kind(k) }
    if p, ok := doc[FieldParent].(string); ok && p != "" {
        pid, err := uuid.Parse(p)
        if err != nil { return Record{}, fmt.Errorf("%w: parent %q: %v", ErrBadDocument, p, err) }
        rec.Parent = &pid
    }
    for k, v := range doc {
        switch k {
        case FieldID, FieldKind, FieldLogicalTime, FieldParent, "_id":
            continue
        }
        rec.Payload[k] = v
    }
    return rec, nil
}

// Options configures a Log.
type Options struct {
    // Path enables write-ahead persistence when non-empty.
    Path string
    // NoSync skips fsync after each append.
    NoSync bool
    // Resolution truncates logical times; stores with millisecond clocks
    // need at least time.Millisecond so ordering survives a round trip.
    Resolution time.Duration
    // Now defaults to time.Now.
    Now func() time.Time
}

// Log is an append-only sequence of records whose logical times strictly
// increase. It is safe for concurrent use.
type Log struct {
    opts Options

    mu      sync.Mutex
    records []Record
    w       *wal.Log
    closed  bool
}

// New returns an in-memory log.
func New() *Log {
    l, _ := Open(Options{})
    return l
}

// Open creates a log, replaying any records already persisted at opts.Path.
func Open(opts Options) (*Log, error) {
    if opts.Resolution <= 0 { opts.Resolution = time.Millisecond }
    if opts.Now == nil { opts.Now = time.Now }
    l := &Log{opts: opts}
    if opts.Path == "" { return l, nil }
    if err := os.MkdirAll(filepath.Dir(opts.Path), 0o750); err != nil { return nil, fmt.Errorf("oplog: mkdir: %w", err) }
    wopts := *wal.DefaultOptions
    wopts.NoSync = opts.NoSync
    w, err := wal.Open(opts.Path, &wopts)
    if err != nil { return nil, fmt.Errorf("oplog: wal.Open: %w", err) }
    recs, err := readAll(w)
    if err != nil {
        _ = w.Close()
        return nil, err
    }
    l.w = w
    l.records = recs
    return l, nil
}

// Load reads every record persisted at path without keeping the log open.
func Load(path string) ([]Record, error) {
    w, err := wal.Open(path, nil)
    if err != nil { return nil, fmt.Errorf("oplog: wal.Open: %w", err) }
    defer w.Close()
    return readAll(w)
}

func readAll(w *wal.Log) ([]Record, error) {
    first, err := w.FirstIndex()
    if err != nil { return nil, fmt.Errorf("oplog: wal.FirstIndex: %w", err) }
    last, err := w.LastIndex()
    if err != nil { return nil, fmt.Errorf("oplog: wal.LastIndex: %w", err) }
    if last == 0 { return nil, nil }
    out := make([]Record, 0, last-first+1)
    for idx := first; idx <= last; idx++ {
        data, err := w.Read(idx)
        if err != nil { return nil, fmt.Errorf("oplog: wal.Read(%d): %w", idx, err) }
        var r Record
        if err := json.Unmarshal(data, &r); err != nil { return nil, fmt.Errorf("oplog: decode %d: %w", idx, err) }
        out = append(out, r)
    }
    return out, nil
}

// Append creates a record stamped with the next logical time. When the clock
// has not advanced past the previous record, the time is bumped by one
// resolution step.
func (l *Log) Append(kind Kind, payload store.Document, parent *uuid.UUID) (Record, error) {
    l.mu.Lock()
    defer l.mu.Unlock()
    ts := l.opts.Now().Truncate(l.opts.Resolution)
    if n := len(l.records); n > 0 {
        if prev := l.records[n-1].LogicalTime; !ts.After(prev) { ts = prev.Add(l.opts.Resolution) }
    }
    rec := Record{ID: uuid.New(), Kind: kind, Payload: payload.Clone(), LogicalTime: ts, Parent: parent}
    return rec, l.appendLocked(rec)
}

func (l *Log) appendLocked(rec Record) error {
    if l.closed { return ErrClosed }
    if l.w != nil {
        b, err := json.Marshal(rec)
        if err != nil { return fmt.Errorf("oplog: encode: %w", err) }
        last, err := l.w.LastIndex()
        if err != nil { return fmt.Errorf("oplog: wal.LastIndex: %w", err) }
        if err := l.w.Write(last+1, b); err != nil { return fmt.Errorf("oplog: wal.Write: %w", err) }
    }
    l.records = append(l.records, rec)
    return nil
}

// Path is where the log persists, empty for an in-memory log.
func (l *Log) Path() string { return l.opts.Path }

// Records returns a copy of the log in append order.
func (l *Log) Records() []Record {
    l.mu.Lock()
    defer l.mu.Unlock()
    return slices.Clone(l.records)
}

// Len returns the number of records.
func (l *Log) Len() int {
    l.mu.Lock()
    defer l.mu.Unlock()
    return len(l.records)
}

// Lookup finds a record by id.
func (l *Log) Lookup(id uuid.UUID) (Record, bool) {
    l.mu.Lock()
    defer l.mu.Unlock()
    for _, r := range l.records { if r.ID == id { return r, true } }
    return Record{}, false
}

// Close flushes and closes the write-ahead log, if any.
func (l *Log) Close() error {
    l.mu.Lock()
    defer l.mu.Unlock()
    if l.closed { return nil }
    l.closed = true
    if l.w != nil { return l.w.Close() }
    return nil
}
