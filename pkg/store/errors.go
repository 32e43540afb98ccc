package store

import (
    "context"
    "errors"
    "fmt"
)

var (
    // ErrConnection means the store could not be reached at all.
    ErrConnection = errors.New("store: connection failed")
    // ErrUnavailable means no member could serve the operation under the
    // requested routing (no leader, no eligible follower).
    ErrUnavailable = errors.New("store: unavailable")
    // ErrWriteTimeout means the write did not reach its acknowledgement
    // level before the deadline. The write may still have been applied.
    ErrWriteTimeout = errors.New("store: write acknowledgement timeout")
    // ErrElectionTimeout means no new leader appeared within the wait limit.
    ErrElectionTimeout = errors.New("store: election timeout")
    // ErrCommand means an administrative command was rejected.
    ErrCommand = errors.New("store: command failed")
)

// OpError attaches the failed operation and its taxonomy kind to the
// underlying backend error.
type OpError struct {
    Op   string
    Kind error
    Err  error
}

func (e *OpError) Error() string {
    if e.Err == nil { return fmt.Sprintf("%s: %v", e.Op, e.Kind) }
    return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
    if e.Err == nil { return []error{e.Kind} }
    return []error{e.Kind, e.Err}
}

// Wrap builds an OpError. It returns nil when both kind and err are nil.
func Wrap(op string, kind, err error) error {
    if err == nil && kind == nil { return nil }
    return &OpError{Op: op, Kind: kind, Err: err}
}

// Outcome labels.
const (
    OutcomeOK              = "ok"
    OutcomeConnection      = "connection"
    OutcomeUnavailable     = "unavailable"
    OutcomeWriteTimeout    = "write-timeout"
    OutcomeElectionTimeout = "election-timeout"
    OutcomeCommand         = "command"
    OutcomeCanceled        = "canceled"
    OutcomeError           = "error"
)

// Outcome maps err to a stable label used by metrics and reports.
func Outcome(err error) string {
    switch {
    case err == nil:
        return OutcomeOK
    case errors.Is(err, ErrConnection):
        return OutcomeConnection
    case errors.Is(err, ErrWriteTimeout):
        return OutcomeWriteTimeout
    case errors.Is(err, ErrUnavailable):
        return OutcomeUnavailable
    case errors.Is(err, ErrElectionTimeout):
        return OutcomeElectionTimeout
    case errors.Is(err, ErrCommand):
        return OutcomeCommand
    case errors.Is(err, context.Canceled):
        return OutcomeCanceled
    }
    return OutcomeError
}
