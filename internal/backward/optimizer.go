package backward

import (
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// optimize reorders a goal's conjunctions ascending by estimated selectivity
// while preserving data-dependency order, per spec §4.I. Disjunctions and
// negations are recursed into but never reordered, since their branch order
// carries short-circuit/closed-world meaning rather than a free commutative
// choice.
func optimize(g Goal) Goal {
	switch n := g.(type) {
	case GoalAnd:
		children := make([]Goal, len(n.Children))
		for i, c := range n.Children {
			children[i] = optimize(c)
		}
		return GoalAnd{Children: reorderConjuncts(children)}
	case GoalOr:
		children := make([]Goal, len(n.Children))
		for i, c := range n.Children {
			children[i] = optimize(c)
		}
		return GoalOr{Children: children}
	case GoalNot:
		return GoalNot{Child: optimize(n.Child)}
	case GoalWhere:
		return GoalWhere{Pattern: n.Pattern, Where: optimize(n.Where)}
	default:
		return g
	}
}

// reorderConjuncts greedily picks, at each step, the not-yet-placed conjunct
// with the lowest selectivity among those whose required variables are
// already bound by conjuncts placed so far. A conjunct with no candidate
// ready (a forward reference, which a well-formed query shouldn't produce)
// is placed in its original relative order rather than blocking progress.
func reorderConjuncts(goals []Goal) []Goal {
	remaining := append([]Goal(nil), goals...)
	bound := map[string]bool{}
	ordered := make([]Goal, 0, len(goals))
	for len(remaining) > 0 {
		best := -1
		bestSel := 2.0
		for i, gl := range remaining {
			if !readyFor(gl, bound) {
				continue
			}
			if sel := selectivity(gl); best == -1 || sel < bestSel {
				best, bestSel = i, sel
			}
		}
		if best == -1 {
			best = 0
		}
		chosen := remaining[best]
		ordered = append(ordered, chosen)
		for _, v := range boundVars(chosen) {
			bound[v] = true
		}
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return ordered
}

func readyFor(g Goal, bound map[string]bool) bool {
	for _, v := range requiredVars(g) {
		if !bound[v] {
			return false
		}
	}
	return true
}

// selectivity estimates how restrictive a goal is (lower = fewer matches
// expected), per spec §4.I's heuristic table.
func selectivity(g Goal) float64 {
	switch n := g.(type) {
	case GoalPattern:
		return patternSelectivity(n.Pattern)
	case GoalWhere:
		return patternSelectivity(n.Pattern)
	case GoalExists:
		return patternSelectivity(n.Pattern)
	case GoalNot:
		return 0.2
	case GoalTest:
		return 0.3
	case GoalForall, GoalAggregate, GoalAnd, GoalOr:
		return 0.7
	default:
		return 0.7
	}
}

func patternSelectivity(p kb.Pattern) float64 {
	if len(p.Tests) == 0 {
		return 0.7
	}
	best := 1.0
	for _, t := range p.Tests {
		var s float64
		switch t.Op {
		case value.OpEq:
			s = 0.05
		case value.OpLt, value.OpLte, value.OpGt, value.OpGte:
			s = 0.3
		default:
			s = 0.7
		}
		if s < best {
			best = s
		}
	}
	return best
}

// requiredVars returns the variable names a goal must find already bound in
// order to be evaluated (as opposed to variables it introduces itself).
func requiredVars(g Goal) []string {
	switch n := g.(type) {
	case GoalPattern:
		return testVars(n.Pattern)
	case GoalWhere:
		out := testVars(n.Pattern)
		return append(out, requiredVars(n.Where)...)
	case GoalExists:
		return testVars(n.Pattern)
	case GoalForall:
		return testVars(n.Pattern)
	case GoalTest:
		return expr.ExtractVariables(n.Expr)
	case GoalAggregate:
		out := testVars(n.Pattern)
		for _, f := range n.Filters {
			out = append(out, expr.ExtractVariables(f)...)
		}
		return out
	case GoalNot:
		return requiredVars(n.Child)
	case GoalAnd:
		var out []string
		for _, c := range n.Children {
			out = append(out, requiredVars(c)...)
		}
		return out
	case GoalOr:
		var out []string
		for _, c := range n.Children {
			out = append(out, requiredVars(c)...)
		}
		return out
	default:
		return nil
	}
}

func testVars(p kb.Pattern) []string {
	var out []string
	for _, t := range p.Tests {
		out = append(out, expr.ExtractVariables(t.Expr)...)
	}
	return out
}

// boundVars returns the variable names a goal introduces once proven, which
// later conjuncts may then depend on.
func boundVars(g Goal) []string {
	switch n := g.(type) {
	case GoalPattern:
		if n.Pattern.Bind != "" {
			return []string{n.Pattern.Bind}
		}
	case GoalWhere:
		out := boundVars(n.Where)
		if n.Pattern.Bind != "" {
			out = append(out, n.Pattern.Bind)
		}
		return out
	case GoalAggregate:
		if n.BindVar != "" {
			return []string{n.BindVar}
		}
	}
	return nil
}
