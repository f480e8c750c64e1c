package rete

import (
	"github.com/KSD-CO/rule-engine-go/internal/bindings"
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// chain is one compiled branch (one DNF term) of one rule's condition tree:
// an ordered pipeline of leaves, each consuming the token set produced by
// the previous leaf and producing the token set consumed by the next.
type chain struct {
	ruleName string
	branch   int
	leaves   []kb.Condition
	types    map[string]bool // every TypeName any leaf in this chain references
}

// typesOf collects every pattern TypeName a condition leaf touches,
// including nested patterns of Not/Exists/Forall/Accumulate.
func typesOf(c kb.Condition) []string {
	switch n := c.(type) {
	case kb.CondPattern:
		return []string{n.Pattern.TypeName}
	case kb.CondNot:
		return typesOf(n.Child)
	case kb.CondExists:
		return []string{n.Pattern.TypeName}
	case kb.CondForall:
		return []string{n.Pattern.TypeName}
	case kb.CondAccumulate:
		return []string{n.Pattern.TypeName}
	case kb.CondTest:
		return nil
	}
	return nil
}

// evaluate recomputes the full set of complete tokens for this chain from
// the network's current alpha-node memories and the working memory (for the
// global-scan semantics of Forall and Accumulate).
func (ch *chain) evaluate(net *Network, wm *facts.WorkingMemory) ([]Token, error) {
	tokens := []Token{newToken()}
	for _, leaf := range ch.leaves {
		next, err := net.applyLeaf(leaf, tokens, wm)
		if err != nil {
			return nil, err
		}
		tokens = next
		if len(tokens) == 0 {
			return nil, nil
		}
	}
	return tokens, nil
}

// applyLeaf dispatches one condition leaf against the current token set.
func (n *Network) applyLeaf(leaf kb.Condition, in []Token, wm *facts.WorkingMemory) ([]Token, error) {
	switch c := leaf.(type) {
	case kb.CondPattern:
		return n.applyPattern(c.Pattern, in)
	case kb.CondNot:
		return n.applyNot(c.Child, in, wm)
	case kb.CondExists:
		return n.applyExists(c.Pattern, in)
	case kb.CondForall:
		return n.applyForall(c.Pattern, in, wm)
	case kb.CondTest:
		return n.applyTest(c.Expr, in)
	case kb.CondAccumulate:
		return n.applyAccumulate(c, in, wm)
	case kb.CondAnd:
		cur := in
		for _, child := range c.Children {
			next, err := n.applyLeaf(child, cur, wm)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur, nil
	case kb.CondOr:
		var out []Token
		for _, child := range c.Children {
			sub, err := n.applyLeaf(child, in, wm)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	default:
		return in, nil
	}
}

func (n *Network) applyPattern(p kb.Pattern, in []Token) ([]Token, error) {
	alpha := n.alphaNodes[alphaKey(p)]
	if alpha == nil {
		return nil, nil
	}
	var out []Token
	for _, tok := range in {
		for h, data := range alpha.matches {
			extra := alpha.bindingsFor(data)
			joined, ok := tok.extend(h, p.Bind, extra)
			if !ok {
				continue
			}
			out = append(out, joined)
		}
	}
	return out, nil
}

func (n *Network) applyTest(e expr.Expr, in []Token) ([]Token, error) {
	var out []Token
	for _, tok := range in {
		ok, err := expr.IsSatisfied(e, facts.TypedFacts{}, tok.Bindings, n.funcs)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (n *Network) applyNot(child kb.Condition, in []Token, wm *facts.WorkingMemory) ([]Token, error) {
	var out []Token
	for _, tok := range in {
		sub, err := n.applyLeaf(child, []Token{tok}, wm)
		if err != nil {
			return nil, err
		}
		if len(sub) == 0 {
			out = append(out, tok)
		}
	}
	return out, nil
}

// applyExists keeps a token iff at least one fact in the pattern's alpha
// memory extends its bindings consistently, without binding that fact into
// the token (existential quantification tests presence only).
func (n *Network) applyExists(p kb.Pattern, in []Token) ([]Token, error) {
	alpha := n.alphaNodes[alphaKey(p)]
	var out []Token
	for _, tok := range in {
		satisfied := false
		if alpha != nil {
			for _, data := range alpha.matches {
				if _, ok := bindings.Merge(tok.Bindings, alpha.bindingsFor(data)); ok {
					satisfied = true
					break
				}
			}
		}
		if satisfied {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (n *Network) applyForall(p kb.Pattern, in []Token, wm *facts.WorkingMemory) ([]Token, error) {
	alpha := n.alphaNodes[alphaKey(p)]
	handles := wm.GetByType(p.TypeName)
	var out []Token
	for _, tok := range in {
		allSatisfy := true
		for _, h := range handles {
			if alpha == nil {
				allSatisfy = false
				break
			}
			if _, ok := alpha.matches[h]; !ok {
				allSatisfy = false
				break
			}
		}
		if allSatisfy {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (n *Network) applyAccumulate(c kb.CondAccumulate, in []Token, wm *facts.WorkingMemory) ([]Token, error) {
	alpha := n.alphaNodes[alphaKey(c.Pattern)]
	var out []Token
	for _, tok := range in {
		var values []value.Value
		for _, data := range alphaMatchesOrEmpty(alpha) {
			extra := alpha.bindingsFor(data)
			merged, ok := bindings.Merge(tok.Bindings, extra)
			if !ok {
				continue
			}
			if c.Pattern.Bind != "" {
				if v, ok := merged.Get(c.Pattern.Bind); ok {
					values = append(values, v)
					continue
				}
			}
			values = append(values, value.NewMap(map[string]value.Value(data)))
		}
		agg, err := aggregate(c.Aggregator, values)
		if err != nil {
			return nil, err
		}
		if agg == nil {
			continue // aggregation over empty set with a non-count aggregator fails the branch
		}
		extra := bindings.New()
		if c.BindVar != "" {
			extra[c.BindVar] = *agg
		}
		joined, ok := tok.withBindings(extra)
		if !ok {
			continue
		}
		out = append(out, joined)
	}
	return out, nil
}

func alphaMatchesOrEmpty(a *AlphaNode) map[facts.FactHandle]facts.TypedFacts {
	if a == nil {
		return nil
	}
	return a.matches
}
