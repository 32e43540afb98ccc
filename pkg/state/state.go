package state

import "github.com/amirimatin/replprobe/pkg/store"

// DocumentState is the replicated state machine behind the embedded store:
// named collections of documents, mutated only through Apply* calls made in
// log order.
type DocumentState interface {
    ApplyInsert(coll string, doc store.Document) error
    ApplyUpdate(coll string, filter, set store.Document) (matched, modified int64, err error)
    ApplyClear(coll string) error
    Find(coll string, filter store.Document, sortField string, limit int) []store.Document
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}
