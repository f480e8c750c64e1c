// Package kb implements the knowledge base and module manager of spec
// §3/§4.D: rule storage with a conclusion index, and a module manager with
// export/import visibility and cycle-checked imports.
package kb

import (
	"time"

	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// Aggregator enumerates the Accumulate aggregation functions of spec §3.
type Aggregator string

const (
	AggCount Aggregator = "count"
	AggSum   Aggregator = "sum"
	AggAvg   Aggregator = "avg"
	AggMin   Aggregator = "min"
	AggMax   Aggregator = "max"
	AggFirst Aggregator = "first"
	AggLast  Aggregator = "last"
)

// FieldTest is one (field, operator, expression) test inside a Pattern.
type FieldTest struct {
	Field string
	Op    value.Operator
	Expr  expr.Expr
}

// Pattern matches facts of TypeName against zero or more field tests, with
// an optional variable binding for the whole matched fact.
type Pattern struct {
	TypeName string
	Bind     string // variable bound to a record of the matched fact's fields, may be empty
	Tests    []FieldTest
}

// Condition is the closed recursive variant of spec §3's condition tree.
type Condition interface{ conditionNode() }

type CondPattern struct{ Pattern Pattern }
type CondAnd struct{ Children []Condition }
type CondOr struct{ Children []Condition }
type CondNot struct{ Child Condition }
type CondExists struct{ Pattern Pattern }
type CondForall struct{ Pattern Pattern }
type CondTest struct{ Expr expr.Expr }
type CondAccumulate struct {
	Pattern    Pattern
	Aggregator Aggregator
	BindVar    string
}

func (CondPattern) conditionNode()    {}
func (CondAnd) conditionNode()        {}
func (CondOr) conditionNode()         {}
func (CondNot) conditionNode()        {}
func (CondExists) conditionNode()     {}
func (CondForall) conditionNode()     {}
func (CondTest) conditionNode()       {}
func (CondAccumulate) conditionNode() {}

// Action is the closed set of rule consequence actions (spec §3).
type Action interface{ actionNode() }

type ActionAssignField struct {
	Target string // dotted target, e.g. "Order.discount"
	Value  expr.Expr
}

type ActionCallFunction struct {
	Name string
	Args []expr.Expr
}

type ActionAssertFact struct {
	TypeName string
	Fields   map[string]expr.Expr
}

type ActionRetractFact struct {
	HandleVar string // variable bound to the handle to retract
}

// ActionLogicalAssert creates a TMS-tracked derived fact (spec §3, §9 open
// question 1): it is asserted through the same insert_logical primitive
// used by backward chaining, so both paths arrive at one proof-graph entry.
type ActionLogicalAssert struct {
	TypeName string
	Fields   map[string]expr.Expr
}

type ActionSetWorkflowData struct {
	Key   string
	Value expr.Expr
}

type ActionFocusAgendaGroup struct{ Group string }

func (ActionAssignField) actionNode()      {}
func (ActionCallFunction) actionNode()     {}
func (ActionAssertFact) actionNode()       {}
func (ActionRetractFact) actionNode()      {}
func (ActionLogicalAssert) actionNode()    {}
func (ActionSetWorkflowData) actionNode()  {}
func (ActionFocusAgendaGroup) actionNode() {}

// Attributes holds the per-rule tuning knobs of spec §3.
type Attributes struct {
	Salience        int
	NoLoop          bool
	AgendaGroup     string
	AutoFocus       bool
	ActivationGroup string
	LockOnActive    bool
	DateEffective   *time.Time
	DateExpires     *time.Time
	Enabled         bool
}

// DefaultAttributes returns spec §3's documented defaults.
func DefaultAttributes() Attributes {
	return Attributes{AgendaGroup: "MAIN", Enabled: true}
}

// Rule is a named condition/actions/attributes record (spec §3).
type Rule struct {
	Name        string
	Description string
	Module      string
	Attributes  Attributes
	Condition   Condition
	Actions     []Action
}

// IsActiveAt reports whether the rule's date window and enabled flag permit
// firing at instant t.
func (r *Rule) IsActiveAt(t time.Time) bool {
	if !r.Attributes.Enabled {
		return false
	}
	if r.Attributes.DateEffective != nil && t.Before(*r.Attributes.DateEffective) {
		return false
	}
	if r.Attributes.DateExpires != nil && t.After(*r.Attributes.DateExpires) {
		return false
	}
	return true
}
