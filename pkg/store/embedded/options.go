package embedded

import (
    "errors"
    "fmt"
    "log"
    "time"

    raftcons "github.com/amirimatin/replprobe/pkg/consensus/raft"
)

// Options configures an in-process replica set.
type Options struct {
    // Members is the number of voting replicas. Defaults to 3.
    Members int
    // SetName is reported as the replica set name. Defaults to "embedded".
    SetName string
    // DataDir makes every replica keep its raft log in a bolt file under
    // DataDir/<member>. Empty keeps everything in memory.
    DataDir string

    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    // StartTimeout bounds the wait for the first leader. Defaults to 5s.
    StartTimeout time.Duration

    // Gossip runs a memberlist agent per replica on loopback and uses its
    // failure detector for member health.
    Gossip bool

    Logger *log.Logger
    // RaftLogLevel filters raft and memberlist output (trace, debug, info,
    // warn, error). Defaults to warn.
    RaftLogLevel string

    // OnLeaderChange, when set, is called with the previous and new leader
    // ids each time a different member takes over.
    OnLeaderChange func(previous, current string)
}

const (
    DefaultMembers      = 3
    DefaultSetName      = "embedded"
    DefaultStartTimeout = 5 * time.Second
)

func (o *Options) setDefaults() {
    if o.Members == 0 { o.Members = DefaultMembers }
    if o.SetName == "" { o.SetName = DefaultSetName }
    if o.StartTimeout <= 0 { o.StartTimeout = DefaultStartTimeout }
    if o.RaftLogLevel == "" { o.RaftLogLevel = "warn" }
    if o.Logger == nil { o.Logger = log.Default() }
}

// Validate checks the options before any replica is created.
func (o Options) Validate() error {
    var errs []error
    if o.Members < 0 || o.Members > 15 { errs = append(errs, fmt.Errorf("embedded: members must be between 1 and 15, got %d", o.Members)) }
    probe := raftcons.Options{NodeID: "probe", HeartbeatTimeout: o.HeartbeatTimeout, ElectionTimeout: o.ElectionTimeout, CommitTimeout: o.CommitTimeout}
    if err := probe.Validate(); err != nil { errs = append(errs, err) }
    return errors.Join(errs...)
}
