package rete

import "github.com/KSD-CO/rule-engine-go/internal/kb"

// flattenToBranches expands a condition tree into disjunctive normal form: a
// list of branches, each an ordered list of leaf conditions (CondPattern,
// CondNot, CondExists, CondForall, CondTest, CondAccumulate) that must all
// hold together. CondAnd concatenates its children's branches pairwise
// (cross product); CondOr appends its children's branches as alternatives.
// Each resulting branch compiles into one Chain sharing alpha nodes with
// every other chain in the network (spec §4.F).
func flattenToBranches(c kb.Condition) [][]kb.Condition {
	switch n := c.(type) {
	case kb.CondAnd:
		combos := [][]kb.Condition{{}}
		for _, child := range n.Children {
			childBranches := flattenToBranches(child)
			var next [][]kb.Condition
			for _, combo := range combos {
				for _, cb := range childBranches {
					merged := make([]kb.Condition, 0, len(combo)+len(cb))
					merged = append(merged, combo...)
					merged = append(merged, cb...)
					next = append(next, merged)
				}
			}
			combos = next
		}
		return combos

	case kb.CondOr:
		var out [][]kb.Condition
		for _, child := range n.Children {
			out = append(out, flattenToBranches(child)...)
		}
		return out

	default:
		return [][]kb.Condition{{c}}
	}
}

// collectPatterns walks a condition tree and returns every Pattern it
// references, so the network can ensure an alpha node exists for each one
// before any chain tries to evaluate it.
func collectPatterns(c kb.Condition) []kb.Pattern {
	switch n := c.(type) {
	case kb.CondPattern:
		return []kb.Pattern{n.Pattern}
	case kb.CondAnd:
		var out []kb.Pattern
		for _, child := range n.Children {
			out = append(out, collectPatterns(child)...)
		}
		return out
	case kb.CondOr:
		var out []kb.Pattern
		for _, child := range n.Children {
			out = append(out, collectPatterns(child)...)
		}
		return out
	case kb.CondNot:
		return collectPatterns(n.Child)
	case kb.CondExists:
		return []kb.Pattern{n.Pattern}
	case kb.CondForall:
		return []kb.Pattern{n.Pattern}
	case kb.CondAccumulate:
		return []kb.Pattern{n.Pattern}
	case kb.CondTest:
		return nil
	}
	return nil
}
