package profile

import (
    "errors"
    "fmt"
    "strings"
    "time"
)

// WriteAck is the acknowledgement level a write must reach before it returns.
type WriteAck int

const (
    // WriteNone fires the write without waiting for any acknowledgement.
    WriteNone WriteAck = iota
    // WriteOne waits for the leader only.
    WriteOne
    // WriteQuorum waits for a strict majority of voting members.
    WriteQuorum
    // WriteAll waits for every voting member.
    WriteAll
)

// ReadAck selects which data a read is allowed to observe.
type ReadAck int

const (
    // ReadLocal returns the routed member's most recent data, which may roll back.
    ReadLocal ReadAck = iota
    // ReadQuorum returns only data acknowledged by a majority.
    ReadQuorum
)

// ReadRoute selects the member that serves a read.
type ReadRoute int

const (
    RouteLeader ReadRoute = iota
    RouteFollowerPreferred
    // RouteFollower never falls back to the leader.
    RouteFollower
    RouteAny
)

const (
    DefaultWriteTimeout = 5 * time.Second
    DefaultReadTimeout  = 5 * time.Second
)

var (
    writeAckNames = map[WriteAck]string{WriteNone: "none", WriteOne: "one", WriteQuorum: "quorum", WriteAll: "all"}
    readAckNames  = map[ReadAck]string{ReadLocal: "local", ReadQuorum: "quorum"}
    routeNames    = map[ReadRoute]string{RouteLeader: "leader", RouteFollowerPreferred: "follower-preferred", RouteFollower: "follower", RouteAny: "any"}
)

func (w WriteAck) String() string {
    if s, ok := writeAckNames[w]; ok { return s }
    return fmt.Sprintf("WriteAck(%d)", int(w))
}

func (r ReadAck) String() string {
    if s, ok := readAckNames[r]; ok { return s }
    return fmt.Sprintf("ReadAck(%d)", int(r))
}

func (r ReadRoute) String() string {
    if s, ok := routeNames[r]; ok { return s }
    return fmt.Sprintf("ReadRoute(%d)", int(r))
}

// ParseWriteAck accepts the lowercase names plus the MongoDB spellings
// "0", "1" and "majority".
func ParseWriteAck(s string) (WriteAck, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "none", "0", "unacknowledged":
        return WriteNone, nil
    case "one", "1", "leader", "primary":
        return WriteOne, nil
    case "quorum", "majority":
        return WriteQuorum, nil
    case "all":
        return WriteAll, nil
    }
    return 0, fmt.Errorf("profile: unknown write ack %q", s)
}

func ParseReadAck(s string) (ReadAck, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "local":
        return ReadLocal, nil
    case "quorum", "majority":
        return ReadQuorum, nil
    }
    return 0, fmt.Errorf("profile: unknown read ack %q", s)
}

func ParseReadRoute(s string) (ReadRoute, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "leader", "primary", "leader-only":
        return RouteLeader, nil
    case "follower-preferred", "secondarypreferred", "secondary-preferred":
        return RouteFollowerPreferred, nil
    case "follower", "secondary":
        return RouteFollower, nil
    case "any", "nearest":
        return RouteAny, nil
    }
    return 0, fmt.Errorf("profile: unknown read route %q", s)
}

func (w WriteAck) MarshalText() ([]byte, error) { return []byte(w.String()), nil }
func (w *WriteAck) UnmarshalText(b []byte) error {
    v, err := ParseWriteAck(string(b))
    if err != nil { return err }
    *w = v
    return nil
}

func (r ReadAck) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
func (r *ReadAck) UnmarshalText(b []byte) error {
    v, err := ParseReadAck(string(b))
    if err != nil { return err }
    *r = v
    return nil
}

func (r ReadRoute) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
func (r *ReadRoute) UnmarshalText(b []byte) error {
    v, err := ParseReadRoute(string(b))
    if err != nil { return err }
    *r = v
    return nil
}

// Profile is the set of consistency knobs applied to every operation of one
// experiment run. It is a value type: runners keep their own copy, so a
// profile cannot change underneath a run.
type Profile struct {
    WriteAck     WriteAck      `json:"writeAck" yaml:"write-ack"`
    WriteTimeout time.Duration `json:"writeTimeout" yaml:"write-timeout"`
    // Durable requests on-disk journaling before the acknowledgement.
    Durable     bool          `json:"durable" yaml:"durable"`
    ReadAck     ReadAck       `json:"readAck" yaml:"read-ack"`
    ReadRoute   ReadRoute     `json:"readRoute" yaml:"read-route"`
    ReadTimeout time.Duration `json:"readTimeout" yaml:"read-timeout"`
}

// Strong acknowledges writes and reads at a majority and reads from the leader.
func Strong() Profile {
    return Profile{WriteAck: WriteQuorum, WriteTimeout: DefaultWriteTimeout, ReadAck: ReadQuorum, ReadRoute: RouteLeader, ReadTimeout: DefaultReadTimeout}
}

// Eventual acknowledges writes at the leader only and prefers follower reads.
func Eventual() Profile {
    return Profile{WriteAck: WriteOne, WriteTimeout: DefaultWriteTimeout, ReadAck: ReadLocal, ReadRoute: RouteFollowerPreferred, ReadTimeout: DefaultReadTimeout}
}

// WriteBenchmark is the journaled profile used to compare acknowledgement levels.
func WriteBenchmark(ack WriteAck) Profile {
    return Profile{WriteAck: ack, WriteTimeout: DefaultWriteTimeout, Durable: true, ReadAck: ReadLocal, ReadRoute: RouteLeader, ReadTimeout: DefaultReadTimeout}
}

// WithWriteAck returns a copy of p with a different write acknowledgement.
func (p Profile) WithWriteAck(ack WriteAck) Profile { p.WriteAck = ack; return p }

// WithReadRoute returns a copy of p with a different read route.
func (p Profile) WithReadRoute(r ReadRoute) Profile { p.ReadRoute = r; return p }

// Validate rejects unknown enum values and non-positive timeouts.
func (p Profile) Validate() error {
    var errs []error
    if _, ok := writeAckNames[p.WriteAck]; !ok { errs = append(errs, fmt.Errorf("profile: invalid write ack %d", int(p.WriteAck))) }
    if _, ok := readAckNames[p.ReadAck]; !ok { errs = append(errs, fmt.Errorf("profile: invalid read ack %d", int(p.ReadAck))) }
    if _, ok := routeNames[p.ReadRoute]; !ok { errs = append(errs, fmt.Errorf("profile: invalid read route %d", int(p.ReadRoute))) }
    if p.WriteTimeout <= 0 { errs = append(errs, errors.New("profile: write timeout must be positive")) }
    if p.ReadTimeout <= 0 { errs = append(errs, errors.New("profile: read timeout must be positive")) }
    return errors.Join(errs...)
}

func (p Profile) String() string {
    return fmt.Sprintf("w=%s wtimeout=%s durable=%t r=%s route=%s", p.WriteAck, p.WriteTimeout, p.Durable, p.ReadAck, p.ReadRoute)
}
