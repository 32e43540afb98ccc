// Package causal checks that an observed sequence of operations respects the
// causal dependencies the operations declared when they were issued.
package causal

import (
    "fmt"
    "time"

    "github.com/google/uuid"

    "github.com/amirimatin/replprobe/pkg/oplog"
)

// Rule names the check a violation failed.
type Rule string

const (
    RuleMissingParent Rule = "missing-parent"
    RulePosition      Rule = "position"
    RuleLogicalTime   Rule = "logical-time"
)

// Violation describes one child observed out of causal order.
type Violation struct {
    Rule   Rule      `json:"rule"`
    Child  uuid.UUID `json:"child"`
    Parent uuid.UUID `json:"parent"`
    Detail string    `json:"detail"`
}

func (v Violation) String() string { return fmt.Sprintf("%s: %s", v.Rule, v.Detail) }

// Result is the verdict for one observed sequence.
type Result struct {
    Holds      bool        `json:"holds"`
    Violations []Violation `json:"violations,omitempty"`
}

// Validator is stateless. Describe, when set, renders a record in
// violation messages.
type Validator struct {
    Describe func(oplog.Record) string
}

// Validate checks every record that declares a parent: the parent must be
// present, observed at an earlier position and carry an earlier logical
// time. Records without a parent may appear anywhere.
func (v Validator) Validate(observed []oplog.Record) Result {
    pos := make(map[uuid.UUID]int, len(observed))
    for i, r := range observed {
        if _, dup := pos[r.ID]; !dup { pos[r.ID] = i }
    }
    var out []Violation
    for i, child := range observed {
        if !child.HasParent() { continue }
        pid := *child.Parent
        pi, ok := pos[pid]
        if !ok {
            out = append(out, Violation{Rule: RuleMissingParent, Child: child.ID, Parent: pid,
                Detail: fmt.Sprintf("%s observed without its parent %s", v.name(child), pid)})
            continue
        }
        parent := observed[pi]
        if pi >= i {
            out = append(out, Violation{Rule: RulePosition, Child: child.ID, Parent: pid,
                Detail: fmt.Sprintf("%s observed at %d, not after %s at %d", v.name(child), i, v.name(parent), pi)})
        }
        if !parent.LogicalTime.Before(child.LogicalTime) {
            out = append(out, Violation{Rule: RuleLogicalTime, Child: child.ID, Parent: pid,
                Detail: fmt.Sprintf("%s at %s is not after %s at %s", v.name(child), child.LogicalTime.Format(time.RFC3339Nano), v.name(parent), parent.LogicalTime.Format(time.RFC3339Nano))})
        }
    }
    return Result{Holds: len(out) == 0, Violations: out}
}

func (v Validator) name(r oplog.Record) string {
    if v.Describe != nil { return v.Describe(r) }
    return r.ID.String()
}

// Messages flattens violations into their detail strings.
func (r Result) Messages() []string {
    out := make([]string, len(r.Violations))
    for i, v := range r.Violations { out[i] = v.String() }
    return out
}
