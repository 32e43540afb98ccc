package causal

import (
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/replprobe/pkg/oplog"
    "github.com/amirimatin/replprobe/pkg/store"
)

type fixture struct {
    login, profile, status, other oplog.Record
}

func newFixture() fixture {
    t0 := time.Unix(1700000000, 0)
    rec := func(action string, off time.Duration, parent *uuid.UUID) oplog.Record {
        return oplog.Record{ID: uuid.New(), Kind: oplog.KindWrite, LogicalTime: t0.Add(off), Parent: parent, Payload: store.Document{"action": action}}
    }
    f := fixture{}
    f.login = rec("login", 0, nil)
    f.other = rec("view_other_profile", 5*time.Millisecond, nil)
    f.profile = rec("view_profile", 10*time.Millisecond, &f.login.ID)
    f.status = rec("update_status", 20*time.Millisecond, &f.login.ID)
    return f
}

func describe(r oplog.Record) string { return r.Payload["action"].(string) }

func TestValidateHolds(t *testing.T) {
    f := newFixture()
    res := Validator{Describe: describe}.Validate([]oplog.Record{f.login, f.other, f.profile, f.status})
    require.True(t, res.Holds)
    require.Empty(t, res.Violations)
}

func TestValidateIgnoresConcurrentPlacement(t *testing.T) {
    f := newFixture()
    orders := [][]oplog.Record{
        {f.other, f.login, f.profile, f.status},
        {f.login, f.profile, f.other, f.status},
        {f.login, f.status, f.profile, f.other},
        {f.login, f.profile, f.status, f.other},
    }
    for _, seq := range orders {
        require.True(t, Validator{}.Validate(seq).Holds)
    }
}

func TestValidatePermutations(t *testing.T) {
    f := newFixture()
    all := []oplog.Record{f.login, f.other, f.profile, f.status}
    loginPos := func(seq []oplog.Record) int {
        for i, r := range seq { if r.ID == f.login.ID { return i } }
        return -1
    }
    var permute func([]oplog.Record, int)
    permute = func(a []oplog.Record, k int) {
        if k == len(a) {
            seq := append([]oplog.Record(nil), a...)
            lp := loginPos(seq)
            want := true
            for i, r := range seq {
                if r.HasParent() && i < lp { want = false }
            }
            require.Equal(t, want, Validator{}.Validate(seq).Holds, "order %v", seq)
            return
        }
        for i := k; i < len(a); i++ {
            a[k], a[i] = a[i], a[k]
            permute(a, k+1)
            a[k], a[i] = a[i], a[k]
        }
    }
    permute(all, 0)
}

func TestValidateReportsPositionViolation(t *testing.T) {
    f := newFixture()
    res := Validator{Describe: describe}.Validate([]oplog.Record{f.profile, f.login, f.status})
    require.False(t, res.Holds)
    require.Len(t, res.Violations, 1)
    require.Equal(t, RulePosition, res.Violations[0].Rule)
    require.Equal(t, f.profile.ID, res.Violations[0].Child)
    require.Contains(t, res.Messages()[0], "view_profile")
}

func TestValidateMissingParent(t *testing.T) {
    f := newFixture()
    res := Validator{}.Validate([]oplog.Record{f.other, f.status})
    require.False(t, res.Holds)
    require.Equal(t, RuleMissingParent, res.Violations[0].Rule)
}

func TestValidateLogicalTime(t *testing.T) {
    f := newFixture()
    skewed := f.profile
    skewed.LogicalTime = f.login.LogicalTime
    res := Validator{}.Validate([]oplog.Record{f.login, skewed})
    require.False(t, res.Holds)
    require.Len(t, res.Violations, 1)
    require.Equal(t, RuleLogicalTime, res.Violations[0].Rule)
}

func TestValidateEmpty(t *testing.T) {
    require.True(t, Validator{}.Validate(nil).Holds)
}
