package harness

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/replprobe/pkg/experiment"
)

type EventType string

const (
    EventLeaderChanged    EventType = "leader_changed"
    EventScenarioStarted  EventType = "scenario_started"
    EventScenarioFinished EventType = "scenario_finished"
)

// Event describes something the harness observed. Only the fields that
// matter for the type are set.
type Event struct {
    Type     EventType          `json:"type"`
    At       time.Time          `json:"at"`
    Scenario string             `json:"scenario,omitempty"`
    Previous string             `json:"previous,omitempty"`
    Leader   string             `json:"leader,omitempty"`
    Result   *experiment.Result `json:"result,omitempty"`
    Error    string             `json:"error,omitempty"`
}

// Subscribe returns a buffered channel of events, closed when ctx is done.
// Slow consumers miss events rather than stalling experiments.
func (h *Harness) Subscribe(ctx context.Context) <-chan Event {
    ch := make(chan Event, 64)
    h.eb.add(ch)
    go func() {
        <-ctx.Done()
        h.eb.remove(ch)
        close(ch)
    }()
    return ch
}

type eventBus struct {
    mu   sync.Mutex
    subs map[chan Event]struct{}
}

func (e *eventBus) add(ch chan Event) {
    e.mu.Lock()
    if e.subs == nil { e.subs = make(map[chan Event]struct{}) }
    e.subs[ch] = struct{}{}
    e.mu.Unlock()
}

func (e *eventBus) remove(ch chan Event) {
    e.mu.Lock()
    delete(e.subs, ch)
    e.mu.Unlock()
}

func (e *eventBus) publish(ev Event) {
    if ev.At.IsZero() { ev.At = time.Now() }
    e.mu.Lock()
    defer e.mu.Unlock()
    for ch := range e.subs {
        select {
        case ch <- ev:
        default:
        }
    }
}
