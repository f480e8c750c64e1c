package rete

import (
	"fmt"
	"strings"

	"github.com/KSD-CO/rule-engine-go/internal/bindings"
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// alphaKey identifies an alpha node for sharing purposes: two patterns with
// the same type name and textually identical tests (order-independent) match
// exactly the same facts, so they can share one memory (spec §4.F node
// sharing requirement).
func alphaKey(p kb.Pattern) string {
	parts := make([]string, len(p.Tests))
	for i, t := range p.Tests {
		parts[i] = fmt.Sprintf("%s%s%s", t.Field, t.Op, expr.String(t.Expr))
	}
	// Order-independent: sort so {a,b} and {b,a} share a node.
	sorted := append([]string(nil), parts...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return p.TypeName + "|" + strings.Join(sorted, "|")
}

// AlphaNode holds the current set of facts of one type that satisfy one
// pattern's field tests, independent of any other pattern in any rule. Its
// memory is consulted directly by every chain that references this pattern
// shape, rather than pushing deltas onward node-by-node.
type AlphaNode struct {
	pattern kb.Pattern
	funcs   expr.Funcs
	matches map[facts.FactHandle]facts.TypedFacts
}

func newAlphaNode(p kb.Pattern, funcs expr.Funcs) *AlphaNode {
	return &AlphaNode{
		pattern: p,
		funcs:   funcs,
		matches: make(map[facts.FactHandle]facts.TypedFacts),
	}
}

// test reports whether data satisfies every field test of the node's pattern.
func (a *AlphaNode) test(data facts.TypedFacts) (bool, error) {
	for _, ft := range a.pattern.Tests {
		fieldVal, ok := data.Get(ft.Field)
		if !ok {
			return false, nil
		}
		rhs, err := expr.Evaluate(ft.Expr, data, bindings.New(), a.funcs)
		if err != nil {
			return false, err
		}
		result, err := value.Compare(fieldVal, ft.Op, rhs)
		if err != nil {
			return false, err
		}
		truthy, err := result.Truthy()
		if err != nil {
			return false, err
		}
		if !truthy {
			return false, nil
		}
	}
	return true, nil
}

// onInsertOrUpdate re-tests the fact and adds or removes it from the node's
// memory.
func (a *AlphaNode) onInsertOrUpdate(h facts.FactHandle, typeName string, data facts.TypedFacts) error {
	if typeName != a.pattern.TypeName {
		return nil
	}
	matched, err := a.test(data)
	if err != nil {
		return err
	}
	if matched {
		a.matches[h] = data
	} else {
		delete(a.matches, h)
	}
	return nil
}

func (a *AlphaNode) onRetract(h facts.FactHandle, typeName string) {
	if typeName != a.pattern.TypeName {
		return
	}
	delete(a.matches, h)
}

// bindingsFor returns the bindings contributed by matching h against this
// node's pattern: the pattern's Bind variable (if any) bound to a record of
// the matched fact's own fields, so later Test expressions can navigate it
// as ?bindvar.Field (spec §3). The fact handle itself is tracked separately
// on the Token for ActionRetractFact, not through Bindings.
func (a *AlphaNode) bindingsFor(data facts.TypedFacts) bindings.Bindings {
	b := bindings.New()
	if a.pattern.Bind != "" {
		b[a.pattern.Bind] = value.NewMap(map[string]value.Value(data))
	}
	return b
}
