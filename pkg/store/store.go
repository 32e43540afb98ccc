package store

import (
    "context"
    "time"

    "github.com/amirimatin/replprobe/pkg/profile"
)

// Document is a schemaless record as stored and returned by a backend.
type Document map[string]any

// Member describes one replica as seen by the topology query.
type Member struct {
    ID       string  `json:"id"`
    State    string  `json:"state"`
    Healthy  bool    `json:"healthy"`
    Priority float64 `json:"priority"`
    Votes    int     `json:"votes"`
}

// Topology is a point-in-time view of the replica set. Leader is empty when
// no member currently leads.
type Topology struct {
    Leader     string          `json:"leader,omitempty"`
    Followers  []string        `json:"followers"`
    Health     map[string]bool `json:"health"`
    Members    []Member        `json:"members,omitempty"`
    SetName    string          `json:"setName,omitempty"`
    Term       uint64          `json:"term,omitempty"`
    ObservedAt time.Time       `json:"observedAt"`
}

// HasLeader reports whether the snapshot names a leader.
func (t Topology) HasLeader() bool { return t.Leader != "" }

// Voters returns the number of voting members, falling back to the member
// count when vote information is missing.
func (t Topology) Voters() int {
    n := 0
    for _, m := range t.Members { if m.Votes > 0 { n++ } }
    if n == 0 { n = len(t.Members) }
    if n == 0 {
        n = len(t.Followers)
        if t.Leader != "" { n++ }
    }
    return n
}

// Member looks up a member by id.
func (t Topology) Member(id string) (Member, bool) {
    for _, m := range t.Members { if m.ID == id { return m, true } }
    return Member{}, false
}

// WriteResult describes a completed write. Acknowledged is false for
// writes issued with WriteNone.
type WriteResult struct {
    ID           string `json:"id,omitempty"`
    Acknowledged bool   `json:"acknowledged"`
    Matched      int64  `json:"matched,omitempty"`
    Modified     int64  `json:"modified,omitempty"`
}

// Store is the capability interface every backend implements. All methods
// are safe for concurrent use. Consistency knobs travel with each call so a
// single Store can serve runners with different profiles.
type Store interface {
    Topology(ctx context.Context) (Topology, error)
    Write(ctx context.Context, coll string, doc Document, p profile.Profile) (WriteResult, error)
    Update(ctx context.Context, coll string, filter, set Document, p profile.Profile) (WriteResult, error)
    // Read returns the first document matching filter. The bool is false
    // when nothing matched.
    Read(ctx context.Context, coll string, filter Document, p profile.Profile) (Document, bool, error)
    // Find returns every match ordered ascending by sortField. An empty
    // sortField keeps insertion order.
    Find(ctx context.Context, coll string, filter Document, sortField string, p profile.Profile) ([]Document, error)
    Clear(ctx context.Context, coll string) error
    // StepDown asks the current leader to relinquish leadership and stay
    // ineligible for roughly lease.
    StepDown(ctx context.Context, lease time.Duration) error
    Close(ctx context.Context) error
}
