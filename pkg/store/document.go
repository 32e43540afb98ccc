package store

import (
    "cmp"
    "fmt"
    "reflect"
    "slices"
    "time"
)

// Matches reports whether every field in expect is present in doc with an
// equal value. Numbers compare by value regardless of their Go type, so an
// int written by the harness matches the int32 or float64 a backend decodes.
func Matches(doc, expect Document) bool {
    if doc == nil { return len(expect) == 0 }
    for k, want := range expect {
        got, ok := doc[k]
        if !ok || !ValueEqual(got, want) { return false }
    }
    return true
}

// ValueEqual compares two field values with numeric normalization.
func ValueEqual(a, b any) bool {
    if fa, ok := toFloat(a); ok {
        fb, ok := toFloat(b)
        return ok && fa == fb
    }
    if ta, ok := a.(time.Time); ok {
        tb, ok := b.(time.Time)
        return ok && ta.Equal(tb)
    }
    return reflect.DeepEqual(a, b)
}

// Compare orders two field values: numbers by value, times chronologically,
// everything else by its string form. Missing values sort first.
func Compare(a, b any) int {
    switch {
    case a == nil && b == nil:
        return 0
    case a == nil:
        return -1
    case b == nil:
        return 1
    }
    if fa, ok := toFloat(a); ok {
        if fb, ok := toFloat(b); ok { return cmp.Compare(fa, fb) }
    }
    if ta, ok := a.(time.Time); ok {
        if tb, ok := b.(time.Time); ok { return ta.Compare(tb) }
    }
    return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// SortBy sorts docs ascending by field, keeping the relative order of ties.
func SortBy(docs []Document, field string) {
    if field == "" { return }
    slices.SortStableFunc(docs, func(x, y Document) int { return Compare(x[field], y[field]) })
}

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
    if d == nil { return nil }
    out := make(Document, len(d))
    for k, v := range d { out[k] = v }
    return out
}

func toFloat(v any) (float64, bool) {
    switch n := v.(type) {
    case int:
        return float64(n), true
    case int8:
        return float64(n), true
    case int16:
        return float64(n), true
    case int32:
        return float64(n), true
    case int64:
        return float64(n), true
    case uint:
        return float64(n), true
    case uint8:
        return float64(n), true
    case uint16:
        return float64(n), true
    case uint32:
        return float64(n), true
    case uint64:
        return float64(n), true
    case float32:
        return float64(n), true
    case float64:
        return n, true
    }
    return 0, false
}
