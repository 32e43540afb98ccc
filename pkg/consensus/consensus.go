// Package consensus describes the replication engine behind one embedded
// store member. The raft subpackage is the only implementation.
package consensus

import (
    "context"
    "time"
)

// Command is one replicated document mutation. Op names the mutation and
// Payload holds its BSON-encoded arguments.
type Command struct {
    Op      string `bson:"op"`
    Payload []byte `bson:"payload"`
}

// Consensus is what a store member needs from its engine: a committed write
// path plus the leadership view reported in topology snapshots.
type Consensus interface {
    Start(ctx context.Context) error
    // Apply returns the log index once cmd is committed and applied on
    // this member.
    Apply(cmd Command, timeout time.Duration) (uint64, error)
    IsLeader() bool
    Leader() (id string, addr string, ok bool)
    Term() uint64
    Stop() error
}

// Transferer hands leadership to another voter; it backs step-down.
type Transferer interface {
    TransferLeadership() error
}

// LeaderInfo is one leadership observation.
type LeaderInfo struct {
    ID   string
    Addr string
    Term uint64
}

// LeaderNotifier streams leadership observations. Updates are dropped
// rather than blocking the engine when the reader falls behind.
type LeaderNotifier interface {
    LeaderCh() <-chan LeaderInfo
}
