package backward

import (
	"github.com/KSD-CO/rule-engine-go/internal/bindings"
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// testFields reports whether data satisfies every field-test of p, the same
// check internal/rete's alpha nodes perform; kept as a standalone copy here
// since backward chaining scans working memory directly rather than through
// a compiled discrimination network.
func testFields(p kb.Pattern, data facts.TypedFacts, funcs expr.Funcs) (bool, error) {
	for _, t := range p.Tests {
		fv, ok := data.Get(t.Field)
		if !ok {
			return false, nil
		}
		rhs, err := expr.Evaluate(t.Expr, data, bindings.New(), funcs)
		if err != nil {
			return false, err
		}
		result, err := value.Compare(fv, t.Op, rhs)
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

// matchPattern scans wm for every live fact of p.TypeName that satisfies
// p's field tests, returning one extended Bindings per match with p.Bind
// (if set) bound to a record of the fact's fields, consistent with
// internal/rete's binding convention for dotted navigation.
func matchPattern(p kb.Pattern, wm *facts.WorkingMemory, b bindings.Bindings, funcs expr.Funcs) ([]facts.FactHandle, []bindings.Bindings, error) {
	var handles []facts.FactHandle
	var outs []bindings.Bindings
	for _, h := range wm.GetByType(p.TypeName) {
		_, data, ok := wm.Get(h)
		if !ok {
			continue
		}
		matched, err := testFields(p, data, funcs)
		if err != nil {
			return nil, nil, err
		}
		if !matched {
			continue
		}
		merged := b
		if p.Bind != "" {
			extra := bindings.Bindings{p.Bind: value.NewMap(map[string]value.Value(data))}
			m, ok := bindings.Merge(b, extra)
			if !ok {
				continue
			}
			merged = m
		}
		handles = append(handles, h)
		outs = append(outs, merged)
	}
	return handles, outs, nil
}
