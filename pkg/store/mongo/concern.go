package mongostore

import (
    "errors"

    "go.mongodb.org/mongo-driver/mongo/options"
    "go.mongodb.org/mongo-driver/mongo/readconcern"
    "go.mongodb.org/mongo-driver/mongo/readpref"
    "go.mongodb.org/mongo-driver/mongo/writeconcern"

    "github.com/amirimatin/replprobe/pkg/profile"
)

// errNoVoters refuses a WriteAll concern while the voting member count is
// unknown.
var errNoVoters = errors.New("mongostore: voting member count unknown for write ack all")

// writeConcern maps a profile onto a MongoDB write concern. voters is the
// number of voting members and is only used for WriteAll.
func writeConcern(p profile.Profile, voters int) (*writeconcern.WriteConcern, error) {
    if p.WriteAck == profile.WriteNone {
        return writeconcern.Unacknowledged(), nil
    }
    wc := &writeconcern.WriteConcern{WTimeout: p.WriteTimeout}
    switch p.WriteAck {
    case profile.WriteOne:
        wc.W = 1
    case profile.WriteQuorum:
        wc.W = "majority"
    case profile.WriteAll:
        if voters < 1 { return nil, errNoVoters }
        wc.W = voters
    }
    if p.Durable {
        j := true
        wc.Journal = &j
    }
    return wc, nil
}

func readConcern(p profile.Profile) *readconcern.ReadConcern {
    if p.ReadAck == profile.ReadQuorum { return readconcern.Majority() }
    return readconcern.Local()
}

func readPreference(p profile.Profile) *readpref.ReadPref {
    switch p.ReadRoute {
    case profile.RouteFollowerPreferred:
        return readpref.SecondaryPreferred()
    case profile.RouteFollower:
        return readpref.Secondary()
    case profile.RouteAny:
        return readpref.Nearest()
    }
    return readpref.Primary()
}

// readOptions carries the read knobs only; reads never depend on the voter count.
func readOptions(p profile.Profile) *options.CollectionOptions {
    return options.Collection().
        SetReadConcern(readConcern(p)).
        SetReadPreference(readPreference(p))
}

// collectionOptions bundles the three knobs for one collection handle.
func collectionOptions(p profile.Profile, voters int) (*options.CollectionOptions, error) {
    wc, err := writeConcern(p, voters)
    if err != nil { return nil, err }
    return readOptions(p).SetWriteConcern(wc), nil
}
