package raftcons

import (
    "fmt"
    "time"

    "github.com/hashicorp/go-hclog"
)

// Options configure one Raft-backed document replica.
type Options struct {
    NodeID string
    // Logger receives raft internals. If nil, a WARN-level hclog writing to
    // stderr is used.
    Logger hclog.Logger

    // Timeouts (optional). Zero means the test-friendly defaults below.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    ApplyTimeout     time.Duration // client-side apply wait

    // DataDir selects on-disk stores when non-empty (bolt store for log/stable,
    // file snapshot store). When empty, in-memory stores are used.
    DataDir string

    // SnapshotsRetained controls how many snapshots to retain on disk.
    SnapshotsRetained int
}

const (
    DefaultHeartbeatTimeout = 50 * time.Millisecond
    DefaultElectionTimeout  = 50 * time.Millisecond
    DefaultCommitTimeout    = 5 * time.Millisecond
    DefaultApplyTimeout     = 2 * time.Second
)

func (o *Options) setDefaults() {
    if o.HeartbeatTimeout <= 0 { o.HeartbeatTimeout = DefaultHeartbeatTimeout }
    if o.ElectionTimeout <= 0 { o.ElectionTimeout = DefaultElectionTimeout }
    if o.CommitTimeout <= 0 { o.CommitTimeout = DefaultCommitTimeout }
    if o.ApplyTimeout <= 0 { o.ApplyTimeout = DefaultApplyTimeout }
    if o.SnapshotsRetained <= 0 { o.SnapshotsRetained = 2 }
}

// Validate reports option combinations raft itself would reject.
func (o Options) Validate() error {
    if o.NodeID == "" { return fmt.Errorf("raftcons: empty NodeID") }
    if o.HeartbeatTimeout > 0 && o.HeartbeatTimeout < 5*time.Millisecond { return fmt.Errorf("raftcons: heartbeat timeout %s below 5ms", o.HeartbeatTimeout) }
    if o.ElectionTimeout > 0 && o.ElectionTimeout < 5*time.Millisecond { return fmt.Errorf("raftcons: election timeout %s below 5ms", o.ElectionTimeout) }
    if o.HeartbeatTimeout > 0 && o.ElectionTimeout > 0 && o.ElectionTimeout < o.HeartbeatTimeout {
        return fmt.Errorf("raftcons: election timeout %s shorter than heartbeat %s", o.ElectionTimeout, o.HeartbeatTimeout)
    }
    return nil
}
