// Package rete implements the forward-chaining discrimination network of
// spec §4.F: alpha nodes filter single-pattern fact matches, beta nodes join
// and negate across patterns, and terminal nodes emit one Activation per
// complete, consistent match of a rule's condition tree.
//
// The network is updated incrementally rather than re-matched from scratch:
// Network.Update consumes the working memory's drained Change batch, updates
// only the alpha nodes of the touched types, and re-evaluates in full only
// the chains that reference a touched type, diffing their token sets against
// the previous evaluation. This is the same "only re-derive what a change
// could affect" discipline the teacher's DifferentialEngine applies at the
// stratum level (internal/mangle/differential.go), here applied to alpha
// memories and per-chain token sets instead of Datalog strata.
package rete

import (
	"github.com/KSD-CO/rule-engine-go/internal/bindings"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
)

// Token is a partial or complete match: the ordered set of fact handles
// bound by each pattern matched so far, the variable bindings those patterns
// and any Test conditions have accumulated (a pattern's Bind variable
// resolves to a record of the matched fact's fields, so "?c.Age" navigates
// into it), and a parallel HandleVars map recording which bind variable
// names refer to which live fact handle, consulted by ActionRetractFact.
type Token struct {
	Handles    []facts.FactHandle
	Bindings   bindings.Bindings
	HandleVars map[string]facts.FactHandle
}

func newToken() Token {
	return Token{Bindings: bindings.New(), HandleVars: make(map[string]facts.FactHandle)}
}

// extend returns a new token with an additional handle and merged bindings.
// ok is false if extra conflicts with an existing binding under the same name.
func (t Token) extend(h facts.FactHandle, bindVar string, extra bindings.Bindings) (Token, bool) {
	merged, ok := bindings.Merge(t.Bindings, extra)
	if !ok {
		return Token{}, false
	}
	handles := make([]facts.FactHandle, len(t.Handles)+1)
	copy(handles, t.Handles)
	handles[len(t.Handles)] = h

	handleVars := make(map[string]facts.FactHandle, len(t.HandleVars)+1)
	for k, v := range t.HandleVars {
		handleVars[k] = v
	}
	if bindVar != "" {
		handleVars[bindVar] = h
	}
	return Token{Handles: handles, Bindings: merged, HandleVars: handleVars}, true
}

// withBindings returns a copy of t with extra merged in but no new handle
// appended, used by Test/Accumulate nodes that don't bind a fact of their own.
func (t Token) withBindings(extra bindings.Bindings) (Token, bool) {
	merged, ok := bindings.Merge(t.Bindings, extra)
	if !ok {
		return Token{}, false
	}
	return Token{Handles: t.Handles, Bindings: merged, HandleVars: t.HandleVars}, true
}
