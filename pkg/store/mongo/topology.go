package mongostore

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/mongo/options"
    "go.mongodb.org/mongo-driver/mongo/readpref"

    "github.com/amirimatin/replprobe/pkg/observability/metrics"
    "github.com/amirimatin/replprobe/pkg/observability/tracing"
    "github.com/amirimatin/replprobe/pkg/store"
)

type statusReply struct {
    Set     string `bson:"set"`
    Term    int64  `bson:"term"`
    Members []struct {
        Name     string  `bson:"name"`
        StateStr string  `bson:"stateStr"`
        Health   float64 `bson:"health"`
    } `bson:"members"`
}

type configReply struct {
    Config struct {
        Members []struct {
            Host     string  `bson:"host"`
            Priority float64 `bson:"priority"`
            Votes    int     `bson:"votes"`
        } `bson:"members"`
    } `bson:"config"`
}

// Topology combines replSetGetStatus with the priorities and votes from
// replSetGetConfig. A failed config lookup only drops those two fields.
func (s *Store) Topology(ctx context.Context) (topo store.Topology, err error) {
    ctx, end := tracing.StartSpan(ctx, "mongo.topology")
    defer func() { end(err) }()
    if err := s.check("topology"); err != nil { return topo, err }
    admin := s.client.Database("admin")
    ro := options.RunCmd().SetReadPreference(readpref.PrimaryPreferred())
    status, err := admin.RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}, ro).Raw()
    if err != nil { return topo, classify("topology", false, err) }
    config, cerr := admin.RunCommand(ctx, bson.D{{Key: "replSetGetConfig", Value: 1}}, ro).Raw()
    if cerr != nil { config = nil }
    topo, err = decodeTopology(status, config, time.Now())
    if err != nil { return topo, store.Wrap("topology", store.ErrCommand, err) }
    if v := topo.Voters(); v > 0 { s.voters.Store(int64(v)) }
    healthy := 0
    for _, m := range topo.Members { if m.Healthy { healthy++ } }
    metrics.ObserveTopology(len(topo.Members), healthy)
    if healthy == 0 { return topo, store.Wrap("topology", store.ErrUnavailable, errors.New("no healthy members")) }
    return topo, nil
}

func decodeTopology(status, config bson.Raw, now time.Time) (store.Topology, error) {
    var st statusReply
    if err := bson.Unmarshal(status, &st); err != nil { return store.Topology{}, fmt.Errorf("mongostore: decode status: %w", err) }
    type cfgMember struct {
        priority float64
        votes    int
    }
    cfg := map[string]cfgMember{}
    if len(config) > 0 {
        var cr configReply
        if err := bson.Unmarshal(config, &cr); err == nil {
            for _, m := range cr.Config.Members { cfg[m.Host] = cfgMember{m.Priority, m.Votes} }
        }
    }
    topo := store.Topology{SetName: st.Set, Health: map[string]bool{}, ObservedAt: now}
    if st.Term > 0 { topo.Term = uint64(st.Term) }
    for _, m := range st.Members {
        healthy := m.Health == 1
        c, ok := cfg[m.Name]
        if !ok { c = cfgMember{priority: 1, votes: 1} }
        topo.Members = append(topo.Members, store.Member{ID: m.Name, State: m.StateStr, Healthy: healthy, Priority: c.priority, Votes: c.votes})
        topo.Health[m.Name] = healthy
        switch m.StateStr {
        case "PRIMARY":
            topo.Leader = m.Name
        case "SECONDARY":
            topo.Followers = append(topo.Followers, m.Name)
        }
    }
    return topo, nil
}

// redact hides credentials in a connection string for logging.
func redact(uri string) string {
    i := strings.Index(uri, "://")
    if i < 0 { return uri }
    rest := uri[i+3:]
    at := strings.LastIndex(rest, "@")
    if at < 0 || strings.Contains(rest[:at], "/") { return uri }
    user := rest[:at]
    if c := strings.Index(user, ":"); c >= 0 { user = user[:c] + ":xxxxx" }
    return uri[:i+3] + user + rest[at:]
}
