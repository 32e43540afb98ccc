package mongostore

import (
    "context"
    "errors"
    "fmt"
    "log"
    "sync/atomic"
    "time"

    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/bson/primitive"
    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"
    "go.mongodb.org/mongo-driver/mongo/readpref"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/replprobe/pkg/internal/logutil"
    "github.com/amirimatin/replprobe/pkg/observability/tracing"
    "github.com/amirimatin/replprobe/pkg/profile"
    "github.com/amirimatin/replprobe/pkg/store"
)

// Store talks to a MongoDB replica set. Consistency knobs are applied per
// call through collection-level write concern, read concern and read
// preference.
type Store struct {
    opts   Options
    log    *log.Logger
    client *mongo.Client
    db     *mongo.Database

    // voters caches the number of voting members for WriteAll.
    voters atomic.Int64
    closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

// Connect dials the replica set and pings it. Any failure is reported as
// store.ErrConnection.
func Connect(ctx context.Context, opts Options) (*Store, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts.setDefaults()
    co := options.Client().
        ApplyURI(opts.URI).
        SetAppName(opts.AppName).
        SetConnectTimeout(opts.ConnectTimeout).
        SetServerSelectionTimeout(opts.ServerSelectionTimeout)
    if opts.TLS != nil { co.SetTLSConfig(opts.TLS) }
    client, err := mongo.Connect(ctx, co)
    if err != nil { return nil, store.Wrap("connect", store.ErrConnection, err) }
    pctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
    defer cancel()
    if err := client.Ping(pctx, readpref.PrimaryPreferred()); err != nil {
        _ = client.Disconnect(context.Background())
        return nil, store.Wrap("connect", store.ErrConnection, err)
    }
    logutil.Infof(opts.Logger, "mongostore: connected to %s (db=%s)", redact(opts.URI), opts.Database)
    return &Store{opts: opts, log: opts.Logger, client: client, db: client.Database(opts.Database)}, nil
}

func (s *Store) collection(name string, p profile.Profile) *mongo.Collection {
    return s.db.Collection(name, readOptions(p))
}

// writeCollection applies the profile's write concern as well. It fails with
// store.ErrUnavailable rather than downgrade a WriteAll concern.
func (s *Store) writeCollection(op, name string, p profile.Profile) (*mongo.Collection, error) {
    co, err := collectionOptions(p, int(s.voters.Load()))
    if err != nil { return nil, store.Wrap(op, store.ErrUnavailable, err) }
    return s.db.Collection(name, co), nil
}

func (s *Store) check(op string) error {
    if s.closed.Load() { return store.Wrap(op, store.ErrConnection, errors.New("closed")) }
    return nil
}

// ensureVoters resolves the voting member count once for WriteAll.
func (s *Store) ensureVoters(ctx context.Context, op string, p profile.Profile) error {
    if p.WriteAck != profile.WriteAll || s.voters.Load() > 0 { return nil }
    _, err := s.Topology(ctx)
    if s.voters.Load() > 0 { return nil }
    if err == nil { err = errNoVoters }
    logutil.Warnf(s.log, "mongostore: voter count unavailable: %v", err)
    return store.Wrap(op, store.ErrUnavailable, err)
}

func (s *Store) Write(ctx context.Context, coll string, doc store.Document, p profile.Profile) (res store.WriteResult, err error) {
    ctx, end := tracing.StartSpan(ctx, "mongo.write", attribute.String("collection", coll), attribute.String("ack", p.WriteAck.String()))
    defer func() { end(err) }()
    if err := s.check("write"); err != nil { return res, err }
    if err := s.ensureVoters(ctx, "write", p); err != nil { return res, err }
    c, err := s.writeCollection("write", coll, p)
    if err != nil { return res, err }
    d := doc.Clone()
    if d == nil { d = store.Document{} }
    if _, ok := d["_id"]; !ok { d["_id"] = primitive.NewObjectID() }
    res.ID = idString(d["_id"])
    ctx, cancel := context.WithTimeout(ctx, p.WriteTimeout)
    defer cancel()
    if _, err := c.InsertOne(ctx, map[string]any(d)); err != nil {
        if cerr := classify("write", true, err); cerr != nil { return res, cerr }
    }
    res.Acknowledged = p.WriteAck != profile.WriteNone
    return res, nil
}

func (s *Store) Update(ctx context.Context, coll string, filter, set store.Document, p profile.Profile) (res store.WriteResult, err error) {
    ctx, end := tracing.StartSpan(ctx, "mongo.update", attribute.String("collection", coll), attribute.String("ack", p.WriteAck.String()))
    defer func() { end(err) }()
    if err := s.check("update"); err != nil { return res, err }
    if err := s.ensureVoters(ctx, "update", p); err != nil { return res, err }
    c, err := s.writeCollection("update", coll, p)
    if err != nil { return res, err }
    ctx, cancel := context.WithTimeout(ctx, p.WriteTimeout)
    defer cancel()
    ur, err := c.UpdateOne(ctx, filterOf(filter), bson.M{"$set": map[string]any(set)})
    if err != nil {
        if cerr := classify("update", true, err); cerr != nil { return res, cerr }
    }
    res.Acknowledged = p.WriteAck != profile.WriteNone
    if ur != nil { res.Matched, res.Modified = ur.MatchedCount, ur.ModifiedCount }
    return res, nil
}

func (s *Store) Read(ctx context.Context, coll string, filter store.Document, p profile.Profile) (doc store.Document, found bool, err error) {
    ctx, end := tracing.StartSpan(ctx, "mongo.read", attribute.String("collection", coll), attribute.String("route", p.ReadRoute.String()))
    defer func() { end(err) }()
    if err := s.check("read"); err != nil { return nil, false, err }
    ctx, cancel := context.WithTimeout(ctx, p.ReadTimeout)
    defer cancel()
    raw, err := s.collection(coll, p).FindOne(ctx, filterOf(filter)).Raw()
    if errors.Is(err, mongo.ErrNoDocuments) { return nil, false, nil }
    if err != nil { return nil, false, classify("read", false, err) }
    doc, err = store.DecodeBSON(raw)
    if err != nil { return nil, false, fmt.Errorf("mongostore: decode: %w", err) }
    return doc, true, nil
}

func (s *Store) Find(ctx context.Context, coll string, filter store.Document, sortField string, p profile.Profile) (docs []store.Document, err error) {
    ctx, end := tracing.StartSpan(ctx, "mongo.find", attribute.String("collection", coll), attribute.String("route", p.ReadRoute.String()))
    defer func() { end(err) }()
    if err := s.check("find"); err != nil { return nil, err }
    ctx, cancel := context.WithTimeout(ctx, p.ReadTimeout)
    defer cancel()
    fo := options.Find()
    if sortField != "" { fo.SetSort(bson.D{{Key: sortField, Value: 1}}) }
    cur, err := s.collection(coll, p).Find(ctx, filterOf(filter), fo)
    if err != nil { return nil, classify("find", false, err) }
    defer cur.Close(context.Background())
    for cur.Next(ctx) {
        d, err := store.DecodeBSON(cur.Current)
        if err != nil { return nil, fmt.Errorf("mongostore: decode: %w", err) }
        docs = append(docs, d)
    }
    if err := cur.Err(); err != nil { return nil, classify("find", false, err) }
    return docs, nil
}

// Clear deletes every document of coll under a majority write concern.
func (s *Store) Clear(ctx context.Context, coll string) error {
    if err := s.check("clear"); err != nil { return err }
    p := profile.Strong()
    ctx, cancel := context.WithTimeout(ctx, p.WriteTimeout)
    defer cancel()
    c, err := s.writeCollection("clear", coll, p)
    if err != nil { return err }
    _, err = c.DeleteMany(ctx, bson.M{})
    return classify("clear", true, err)
}

// StepDown runs replSetStepDown with force on the primary. The primary
// closes client connections while stepping down, so a network error is
// treated as success.
func (s *Store) StepDown(ctx context.Context, lease time.Duration) (err error) {
    ctx, end := tracing.StartSpan(ctx, "mongo.stepdown")
    defer func() { end(err) }()
    if err := s.check("stepdown"); err != nil { return err }
    secs := int64(lease / time.Second)
    if secs < 1 { secs = 1 }
    cmd := bson.D{{Key: "replSetStepDown", Value: secs}, {Key: "force", Value: true}}
    err = s.client.Database("admin").RunCommand(ctx, cmd, options.RunCmd().SetReadPreference(readpref.Primary())).Err()
    if err == nil || mongo.IsNetworkError(err) {
        logutil.Infof(s.log, "mongostore: step-down issued (lease %ds)", secs)
        return nil
    }
    if errors.Is(err, context.Canceled) { return err }
    return store.Wrap("stepdown", store.ErrCommand, err)
}

func (s *Store) Close(ctx context.Context) error {
    if !s.closed.CompareAndSwap(false, true) { return nil }
    return s.client.Disconnect(ctx)
}

// filterOf turns a nil filter into an empty match-all document.
func filterOf(f store.Document) bson.M {
    if f == nil { return bson.M{} }
    return bson.M(f)
}

func idString(v any) string {
    if oid, ok := v.(primitive.ObjectID); ok { return oid.Hex() }
    return fmt.Sprint(v)
}
