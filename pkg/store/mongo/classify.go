package mongostore

import (
    "context"
    "errors"

    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/x/mongo/driver/topology"

    "github.com/amirimatin/replprobe/pkg/store"
)

// Server error codes that mean "no suitable member right now".
var unavailableCodes = []int{
    91,    // ShutdownInProgress
    189,   // PrimarySteppedDown
    10107, // NotWritablePrimary
    11600, // InterruptedAtShutdown
    11602, // InterruptedDueToReplStateChange
    13435, // NotPrimaryNoSecondaryOk
    13436, // NotPrimaryOrSecondary
}

const (
    codeWriteConcernFailed = 64
    codeMaxTimeMSExpired   = 50
)

// classify maps a driver error onto the store taxonomy. write selects how a
// client-side timeout is labelled.
func classify(op string, write bool, err error) error {
    if err == nil || errors.Is(err, mongo.ErrUnacknowledgedWrite) { return nil }
    if errors.Is(err, context.Canceled) { return err }
    if errors.Is(err, mongo.ErrClientDisconnected) { return store.Wrap(op, store.ErrConnection, err) }

    var wex mongo.WriteException
    if errors.As(err, &wex) && wex.WriteConcernError != nil {
        if wex.WriteConcernError.Code == codeWriteConcernFailed || wex.WriteConcernError.Code == codeMaxTimeMSExpired {
            return store.Wrap(op, store.ErrWriteTimeout, err)
        }
        return store.Wrap(op, store.ErrCommand, err)
    }
    var bwe mongo.BulkWriteException
    if errors.As(err, &bwe) && bwe.WriteConcernError != nil && bwe.WriteConcernError.Code == codeWriteConcernFailed {
        return store.Wrap(op, store.ErrWriteTimeout, err)
    }

    var sse topology.ServerSelectionError
    if errors.As(err, &sse) {
        return store.Wrap(op, store.ErrUnavailable, err)
    }
    if mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
        if write { return store.Wrap(op, store.ErrWriteTimeout, err) }
        return store.Wrap(op, store.ErrUnavailable, err)
    }
    if mongo.IsNetworkError(err) {
        return store.Wrap(op, store.ErrUnavailable, err)
    }
    var se mongo.ServerError
    if errors.As(err, &se) {
        for _, code := range unavailableCodes {
            if se.HasErrorCode(code) { return store.Wrap(op, store.ErrUnavailable, err) }
        }
        return store.Wrap(op, store.ErrCommand, err)
    }
    return store.Wrap(op, store.ErrUnavailable, err)
}
