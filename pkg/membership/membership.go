package membership

import (
    "context"
    "time"
)

// MemberInfo describes a replica as observed by the gossip layer. Meta
// carries auxiliary data such as the replica set name.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin EventType = "join"
    // EventLeave indicates a member left gracefully.
    EventLeave EventType = "leave"
    // EventFailed indicates the failure detector declared the member dead.
    EventFailed EventType = "failed"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the gossip/failure-detection layer
// used to judge replica health independently of the replication traffic.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}

// Liveness is implemented by detectors that answer liveness directly.
type Liveness interface {
    Alive(id string) bool
}

// Alive reports whether m considers id a live member.
func Alive(m Membership, id string) bool {
    if m == nil { return false }
    if l, ok := m.(Liveness); ok { return l.Alive(id) }
    for _, mi := range m.Members() {
        if mi.ID == id { return true }
    }
    return false
}
