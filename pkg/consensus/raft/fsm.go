package raftcons

import (
    "context"
    "fmt"
    "io"
    "sync"
    "time"

    "github.com/hashicorp/raft"
    "go.mongodb.org/mongo-driver/bson"

    c "github.com/amirimatin/replprobe/pkg/consensus"
    base "github.com/amirimatin/replprobe/pkg/state"
    "github.com/amirimatin/replprobe/pkg/state/documents"
    "github.com/amirimatin/replprobe/pkg/store"
)

// Command ops understood by the document FSM.
const (
    OpInsert = "Insert"
    OpUpdate = "Update"
    OpClear  = "Clear"
)

type insertPayload struct {
    Coll string   `bson:"coll"`
    Doc  bson.Raw `bson:"doc"`
}

type updatePayload struct {
    Coll   string   `bson:"coll"`
    Filter bson.Raw `bson:"filter"`
    Set    bson.Raw `bson:"set"`
}

type clearPayload struct {
    Coll string `bson:"coll"`
}

// UpdateResult is the FSM response to an Update command.
type UpdateResult struct {
    Matched  int64
    Modified int64
}

// InsertCommand builds the command that appends doc to coll.
func InsertCommand(coll string, doc store.Document) (c.Command, error) {
    raw, err := store.EncodeBSON(doc)
    if err != nil { return c.Command{}, err }
    return encode(OpInsert, insertPayload{Coll: coll, Doc: raw})
}

// UpdateCommand builds the command that sets fields on the first match.
func UpdateCommand(coll string, filter, set store.Document) (c.Command, error) {
    f, err := store.EncodeBSON(filter)
    if err != nil { return c.Command{}, err }
    s, err := store.EncodeBSON(set)
    if err != nil { return c.Command{}, err }
    return encode(OpUpdate, updatePayload{Coll: coll, Filter: f, Set: s})
}

// ClearCommand builds the command that drops coll.
func ClearCommand(coll string) (c.Command, error) { return encode(OpClear, clearPayload{Coll: coll}) }

func encode(op string, payload any) (c.Command, error) {
    b, err := bson.Marshal(payload)
    if err != nil { return c.Command{}, err }
    return c.Command{Op: op, Payload: b}, nil
}

// documentFSM bridges Raft Apply/Snapshot to a DocumentState and tracks the
// index of the last command applied locally.
type documentFSM struct {
    st base.DocumentState

    mu      sync.Mutex
    applied uint64
    notify  chan struct{}
}

func newDocumentFSM(st base.DocumentState) *documentFSM {
    return &documentFSM{st: st, notify: make(chan struct{})}
}

func (f *documentFSM) Apply(l *raft.Log) interface{} {
    resp := f.apply(l.Data)
    f.advance(l.Index)
    return resp
}

func (f *documentFSM) apply(data []byte) interface{} {
    var cmd c.Command
    if err := bson.Unmarshal(data, &cmd); err != nil {
        return err
    }
    switch cmd.Op {
    case OpInsert:
        var p insertPayload
        if err := bson.Unmarshal(cmd.Payload, &p); err != nil { return err }
        doc, err := store.DecodeBSON(p.Doc)
        if err != nil { return err }
        return f.st.ApplyInsert(p.Coll, doc)
    case OpUpdate:
        var p updatePayload
        if err := bson.Unmarshal(cmd.Payload, &p); err != nil { return err }
        filter, err := store.DecodeBSON(p.Filter)
        if err != nil { return err }
        set, err := store.DecodeBSON(p.Set)
        if err != nil { return err }
        matched, modified, err := f.st.ApplyUpdate(p.Coll, filter, set)
        if err != nil { return err }
        return UpdateResult{Matched: matched, Modified: modified}
    case OpClear:
        var p clearPayload
        if err := bson.Unmarshal(cmd.Payload, &p); err != nil { return err }
        return f.st.ApplyClear(p.Coll)
    default:
        return fmt.Errorf("raftcons: unknown op %q", cmd.Op)
    }
}

func (f *documentFSM) advance(idx uint64) {
    f.mu.Lock()
    if idx > f.applied {
        f.applied = idx
        close(f.notify)
        f.notify = make(chan struct{})
    }
    f.mu.Unlock()
}

// Applied returns the index of the last command applied to the state.
func (f *documentFSM) Applied() uint64 {
    f.mu.Lock(); defer f.mu.Unlock()
    return f.applied
}

// WaitApplied blocks until the state has applied idx or ctx ends.
func (f *documentFSM) WaitApplied(ctx context.Context, idx uint64) error {
    for {
        f.mu.Lock()
        if f.applied >= idx {
            f.mu.Unlock()
            return nil
        }
        ch := f.notify
        f.mu.Unlock()
        select {
        case <-ch:
        case <-ctx.Done():
            return ctx.Err()
        }
    }
}

type fsmSnapshotV1 struct {
    Applied uint64 `bson:"applied"`
    State   []byte `bson:"state"`
}

func (f *documentFSM) Snapshot() (raft.FSMSnapshot, error) {
    blob, err := f.st.Snapshot()
    if err != nil { return nil, err }
    out, err := bson.Marshal(fsmSnapshotV1{Applied: f.Applied(), State: blob})
    if err != nil { return nil, err }
    return &snapshot{blob: out, at: time.Now()}, nil
}

func (f *documentFSM) Restore(rc io.ReadCloser) error {
    defer rc.Close()
    data, err := io.ReadAll(rc)
    if err != nil { return err }
    var snap fsmSnapshotV1
    if err := bson.Unmarshal(data, &snap); err != nil { return err }
    if err := f.st.Restore(snap.State); err != nil { return err }
    f.advance(snap.Applied)
    return nil
}

type snapshot struct {
    blob []byte
    at   time.Time
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
    if _, err := sink.Write(s.blob); err != nil { _ = sink.Cancel(); return err }
    return sink.Close()
}

func (s *snapshot) Release() {}

// Ensure compile-time interface compliance.
var _ raft.FSM = (*documentFSM)(nil)
var _ base.DocumentState = (*documents.State)(nil)
