// Package backward implements the goal-driven (backward-chaining) search of
// spec §4.H: given a goal expression and the current facts, it proves or
// refutes the goal by combining direct fact matches, proof-graph cache
// hits, and recursive rule-candidate unification driven by the knowledge
// base's conclusion index.
package backward

import (
	"time"

	"github.com/KSD-CO/rule-engine-go/internal/bindings"
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
)

// Strategy selects the search frontier discipline (spec §4.H / GRL
// "strategy:" query attribute); all three prove the same goal semantics and
// differ only in exploration order.
type Strategy string

const (
	DepthFirst      Strategy = "depth-first"
	BreadthFirst    Strategy = "breadth-first"
	IterativeDeepen Strategy = "iterative"
)

// Goal is the closed recursive goal-expression tree a query proves,
// mirroring kb.Condition's shape but adding GoalWhere for nested WHERE
// sub-goals and GoalAggregate for the aggregation step of spec §4.H.5.
type Goal interface{ goalNode() }

type GoalPattern struct{ Pattern kb.Pattern }
type GoalAnd struct{ Children []Goal }
type GoalOr struct{ Children []Goal }
type GoalNot struct{ Child Goal }
type GoalTest struct{ Expr expr.Expr }
type GoalExists struct{ Pattern kb.Pattern }
type GoalForall struct{ Pattern kb.Pattern }

// GoalWhere proves Where first, threading its bindings into Pattern's match
// (spec §4.H.4).
type GoalWhere struct {
	Pattern kb.Pattern
	Where   Goal
}

// GoalAggregate enumerates every solution of Pattern (subject to Filters),
// folds by Aggregator, and binds the result to BindVar in the parent scope
// (spec §4.H.5).
type GoalAggregate struct {
	Pattern    kb.Pattern
	Aggregator kb.Aggregator
	BindVar    string
	Filters    []expr.Expr
}

func (GoalPattern) goalNode()   {}
func (GoalAnd) goalNode()       {}
func (GoalOr) goalNode()        {}
func (GoalNot) goalNode()       {}
func (GoalWhere) goalNode()     {}
func (GoalAggregate) goalNode() {}
func (GoalTest) goalNode()      {}
func (GoalExists) goalNode()    {}
func (GoalForall) goalNode()    {}

// Status is a goal's current proof state (spec §3's Goal record).
type Status int

const (
	Pending Status = iota
	InProgress
	Proven
	Unprovable
)

// Query is a named, parameterized backward-chaining request (spec §3/§6).
type Query struct {
	Name               string
	Goal               Goal
	Strategy           Strategy
	MaxDepth           int
	MaxSolutions       int
	EnableMemoization  bool
	EnableOptimization bool
	OnSuccess          []kb.Action
	OnFailure          []kb.Action
	OnMissing          []kb.Action
}

// DefaultQuery returns spec §6's documented query attribute defaults.
func DefaultQuery(goal Goal) Query {
	return Query{
		Goal:              goal,
		Strategy:          DepthFirst,
		MaxDepth:          10,
		MaxSolutions:      1,
		EnableMemoization: true,
	}
}

// Stats accumulates search-effort counters for one Prove call (spec §6).
type Stats struct {
	GoalsExplored   int
	RulesEvaluated  int
	FactsChecked    int
	MaxDepthReached int
	CacheHits       int
	CacheMisses     int
	Duration        time.Duration
}

// ProofNode is one node of the rendered proof tree (spec §6's Explanation
// JSON schema): a goal, whether it was proven, what kind of step proved or
// failed it, and (for rule steps) the rule name.
type ProofNode struct {
	Goal     string
	Proven   bool
	NodeType string // "Fact" | "Rule" | "Negation" | "Failed"
	RuleName string
	Children []*ProofNode
}

// QueryResult is the outcome of proving a query's goal (spec §6).
type QueryResult struct {
	TraceID      string // unique per Prove invocation, for correlating explanation exports
	Provable     bool
	Solutions    []bindings.Bindings
	Bindings     bindings.Bindings
	ProofTrace   *ProofNode
	MissingFacts []string
	Stats        Stats
}
