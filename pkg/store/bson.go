package store

import (
    "time"

    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/bson/primitive"
)

// Normalize converts values produced by the BSON decoder into plain Go
// types: embedded documents become Document, arrays []any, datetimes
// time.Time in UTC and object ids their hex form.
func Normalize(v any) any {
    switch x := v.(type) {
    case primitive.D:
        d := make(Document, len(x))
        for _, e := range x { d[e.Key] = Normalize(e.Value) }
        return d
    case primitive.M:
        return normalizeMap(x)
    case map[string]any:
        return normalizeMap(x)
    case Document:
        return normalizeMap(x)
    case primitive.A:
        return normalizeSlice(x)
    case []any:
        return normalizeSlice(x)
    case primitive.DateTime:
        return x.Time().UTC()
    case time.Time:
        return x.UTC()
    case primitive.ObjectID:
        return x.Hex()
    }
    return v
}

func normalizeMap(m map[string]any) Document {
    d := make(Document, len(m))
    for k, v := range m { d[k] = Normalize(v) }
    return d
}

func normalizeSlice(a []any) []any {
    out := make([]any, len(a))
    for i, v := range a { out[i] = Normalize(v) }
    return out
}

// NormalizeDocument applies Normalize to every field of m.
func NormalizeDocument(m map[string]any) Document {
    if m == nil { return nil }
    return normalizeMap(m)
}

// EncodeBSON marshals d with the BSON codec.
func EncodeBSON(d Document) ([]byte, error) {
    if d == nil { d = Document{} }
    return bson.Marshal(map[string]any(d))
}

// DecodeBSON reverses EncodeBSON, normalizing the decoded values.
func DecodeBSON(b []byte) (Document, error) {
    var m bson.M
    if err := bson.Unmarshal(b, &m); err != nil { return nil, err }
    return NormalizeDocument(m), nil
}
