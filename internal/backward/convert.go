package backward

import "github.com/KSD-CO/rule-engine-go/internal/kb"

// conditionToGoal translates a rule's forward-chaining condition tree into
// the equivalent goal expression, so a rule candidate's body can be proved
// by the same proveGoal recursion used for the query's own goal (spec
// §4.H.6: "recursively prove the rule's condition tree").
func conditionToGoal(c kb.Condition) Goal {
	switch n := c.(type) {
	case kb.CondPattern:
		return GoalPattern{Pattern: n.Pattern}
	case kb.CondAnd:
		children := make([]Goal, len(n.Children))
		for i, ch := range n.Children {
			children[i] = conditionToGoal(ch)
		}
		return GoalAnd{Children: children}
	case kb.CondOr:
		children := make([]Goal, len(n.Children))
		for i, ch := range n.Children {
			children[i] = conditionToGoal(ch)
		}
		return GoalOr{Children: children}
	case kb.CondNot:
		return GoalNot{Child: conditionToGoal(n.Child)}
	case kb.CondExists:
		return GoalExists{Pattern: n.Pattern}
	case kb.CondForall:
		return GoalForall{Pattern: n.Pattern}
	case kb.CondTest:
		return GoalTest{Expr: n.Expr}
	case kb.CondAccumulate:
		return GoalAggregate{Pattern: n.Pattern, Aggregator: n.Aggregator, BindVar: n.BindVar}
	default:
		return GoalAnd{} // empty conjunction, vacuously true; unreachable for well-formed rules
	}
}
