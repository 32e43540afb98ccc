package experiment

import (
    "errors"
    "fmt"
    "slices"
)

var (
    // ErrInvalidTransition is returned when a step is not allowed from the
    // runner's current state.
    ErrInvalidTransition = errors.New("experiment: invalid transition")
    // ErrAborted is returned by the first step attempted after Abort.
    ErrAborted = errors.New("experiment: aborted")
)

// State is a runner's position in the experiment lifecycle.
type State int

const (
    StateNew State = iota
    StateConfigured
    StateWriting
    StateReading
    StatePolling
    StateVerified
    StateTimedOut
    StateAborted
)

var stateNames = []string{"new", "configured", "writing", "reading", "polling", "verified", "timed_out", "aborted"}

func (s State) String() string {
    if int(s) >= 0 && int(s) < len(stateNames) { return stateNames[s] }
    return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
    i := slices.Index(stateNames, string(b))
    if i < 0 { return fmt.Errorf("experiment: unknown state %q", b) }
    *s = State(i)
    return nil
}

// Terminal reports whether no further step is possible.
func (s State) Terminal() bool { return s == StateVerified || s == StateTimedOut || s == StateAborted }

var transitions = map[State][]State{
    StateNew:        {StateConfigured},
    StateConfigured: {StateWriting, StateReading, StateVerified, StateTimedOut},
    StateWriting:    {StateWriting, StateReading, StatePolling, StateVerified, StateTimedOut},
    StateReading:    {StateWriting, StateReading, StatePolling, StateVerified, StateTimedOut},
    StatePolling:    {StateVerified, StateTimedOut},
}

// CanTransition reports whether from -> to is a legal step. Any
// non-terminal state may move to StateAborted.
func CanTransition(from, to State) bool {
    if to == StateAborted { return !from.Terminal() }
    return slices.Contains(transitions[from], to)
}

// worse orders terminal outcomes for merged results.
func worse(a, b State) State {
    rank := func(s State) int {
        switch s {
        case StateAborted:
            return 3
        case StateTimedOut:
            return 2
        case StateVerified:
            return 1
        }
        return 0
    }
    if rank(b) > rank(a) { return b }
    return a
}
