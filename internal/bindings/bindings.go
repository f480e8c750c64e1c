// Package bindings implements the variable-binding context threaded through
// expression evaluation, RETE joins, and backward-chaining unification
// (spec §3 "Bindings"): an immutable-by-convention mapping from variable
// name to Value, extended but never overwritten with a conflicting value.
package bindings

import "github.com/KSD-CO/rule-engine-go/internal/value"

// Bindings maps variable name (without its ?/$ sigil) to its bound Value.
type Bindings map[string]value.Value

// New returns an empty binding context.
func New() Bindings { return make(Bindings) }

// Get looks up a variable's binding.
func (b Bindings) Get(name string) (value.Value, bool) {
	v, ok := b[name]
	return v, ok
}

// Clone returns an independent copy, so extending it never mutates a
// binding context still held by another in-flight match.
func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Extend returns a new Bindings with name bound to v. If name is already
// bound, the existing binding must be structurally equal to v (a repeated
// occurrence of a variable is a constraint, not a rebinding, per spec §3);
// ok is false when the new value conflicts with the existing one.
func (b Bindings) Extend(name string, v value.Value) (Bindings, bool) {
	if existing, present := b[name]; present {
		if !existing.Equal(v) {
			return b, false
		}
		return b, true
	}
	out := b.Clone()
	out[name] = v
	return out, true
}

// Merge combines two binding contexts, failing if they disagree on any
// shared variable. Used when joining two beta-node tokens (spec §4.F).
func Merge(a, b Bindings) (Bindings, bool) {
	out := a.Clone()
	for k, v := range b {
		if existing, present := out[k]; present {
			if !existing.Equal(v) {
				return nil, false
			}
			continue
		}
		out[k] = v
	}
	return out, true
}
