// Package proof implements the proof graph / truth maintenance system of
// spec §4.J: every derived (as opposed to directly-asserted) fact is
// identified by a content fingerprint independent of its working-memory
// handle, tracked with the justification(s) that produced it and the set of
// other derived facts that in turn depend on it, so that retracting one
// premise correctly cascades through everything built on top of it.
//
// The BFS invalidation walk is grounded on the teacher's
// internal/core/mangle_watcher.go visited-set traversal idiom (internal/kb
// reuses the same shape for import-cycle detection); the justification
// record shape is grounded on internal/mangle/proof_tree.go's
// DerivationNode (ParentID/RuleName/Source), generalized from a single
// parent to a set of premise keys since a rule can have several conditions.
package proof

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
)

// FactKey is a content fingerprint for a derived fact: its type name plus a
// canonical, sorted rendering of its fields. Two derivations that produce
// structurally equal facts collapse onto one node.
type FactKey string

// KeyOf computes the canonical FactKey for a (typeName, data) pair.
func KeyOf(typeName string, data facts.TypedFacts) FactKey {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(typeName)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		v, _ := data.Get(k)
		fmt.Fprintf(&sb, "%s=%s", k, v.String())
	}
	sb.WriteByte('}')
	return FactKey(sb.String())
}

// Justification records one rule firing (or query success) that derived a
// node's fact from a set of premise facts.
type Justification struct {
	RuleName string
	Premises []FactKey
	TraceID  string
}

// Node is one tracked derived fact.
type Node struct {
	Key            FactKey
	TypeName       string
	Handle         facts.FactHandle
	Justifications []Justification
	Dependents     map[FactKey]struct{} // facts whose justifications cite this node's key as a premise
	Valid          bool
}

// Stats tracks proof-graph activity for diagnostics (spec §4.J).
type Stats struct {
	Hits                int // Lookup of a valid node, or re-derivation of one
	Misses              int // Lookup of a missing/invalid node, or a first derivation
	Invalidations       int // nodes retracted by cascade
	TotalJustifications int // justifications recorded across the graph's lifetime
}

// HitRate returns Hits / (Hits + Misses), or 0 if nothing has been looked up
// or derived yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Graph is the truth-maintenance store: every derived fact currently backed
// by at least one justification, plus the dependency edges needed to
// cascade a retraction.
type Graph struct {
	mu    sync.RWMutex
	nodes map[FactKey]*Node
	stats Stats
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[FactKey]*Node)}
}

// InsertLogical asserts a derived fact into wm if it is not already a valid
// node, recording the justification either way; re-deriving an
// already-valid fact from a different justification adds an alternative
// justification rather than a duplicate working-memory fact (spec §4.J: a
// fact remains valid as long as at least one justification holds).
//
// This is the single entry point used by both the forward engine's
// LogicalAssert action and backward chaining's rule-success path, per the
// Open Question 1 resolution: one primitive, one proof-graph entry,
// regardless of which direction derived the fact.
func (g *Graph) InsertLogical(wm *facts.WorkingMemory, typeName string, data facts.TypedFacts, ruleName string, premises []FactKey) (facts.FactHandle, error) {
	key := KeyOf(typeName, data)
	g.mu.Lock()
	defer g.mu.Unlock()

	just := Justification{RuleName: ruleName, Premises: premises, TraceID: uuid.NewString()}

	if n, ok := g.nodes[key]; ok {
		n.Justifications = append(n.Justifications, just)
		g.stats.TotalJustifications++
		for _, p := range premises {
			if pn, ok := g.nodes[p]; ok {
				pn.Dependents[key] = struct{}{}
			}
		}
		if n.Valid {
			g.stats.Hits++
			return n.Handle, nil
		}
		// Reviving a previously invalidated node (spec §4.J: invalidation
		// never removes a node; a later re-proof restores it rather than
		// starting a fresh one, so its prior justifications and dependents
		// survive alongside the new one).
		n.Handle = wm.Insert(typeName, data)
		n.Valid = true
		g.stats.Misses++
		return n.Handle, nil
	}

	h := wm.Insert(typeName, data)
	n := &Node{
		Key:            key,
		TypeName:       typeName,
		Handle:         h,
		Justifications: []Justification{just},
		Dependents:     make(map[FactKey]struct{}),
		Valid:          true,
	}
	g.nodes[key] = n
	for _, p := range premises {
		if pn, ok := g.nodes[p]; ok {
			pn.Dependents[key] = struct{}{}
		}
	}
	g.stats.Misses++
	g.stats.TotalJustifications++
	return h, nil
}

// Retract invalidates the node for key and every node that transitively
// depends on it, retracting each from wm via a breadth-first walk over the
// dependency edges recorded at insertion time.
func (g *Graph) Retract(wm *facts.WorkingMemory, key FactKey) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	root, ok := g.nodes[key]
	if !ok || !root.Valid {
		return rerr.New(rerr.KindUnknownField, "no proof-graph node for key %q", key)
	}

	visited := map[FactKey]bool{key: true}
	queue := []FactKey{key}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		n := g.nodes[cur]
		if n == nil || !n.Valid {
			continue
		}
		n.Valid = false
		if err := wm.Retract(n.Handle); err != nil {
			return err
		}
		g.stats.Invalidations++
		for dep := range n.Dependents {
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return nil
}

// Lookup returns the node for key iff it exists and is valid, incrementing
// the graph's hit counter on success and its miss counter otherwise (spec
// §4.J).
func (g *Graph) Lookup(key FactKey) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[key]
	if !ok || !n.Valid {
		g.stats.Misses++
		return nil, false
	}
	g.stats.Hits++
	return n, true
}

// Stats returns a snapshot of hit/miss/invalidation counters.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stats
}

// Clear discards every tracked node and resets the stats counters, without
// touching working memory (spec §6's clear_proof_cache host operation).
// Facts the graph had derived remain in working memory as plain facts;
// only the justification/dependency bookkeeping is dropped, so a
// subsequent re-derivation starts as a fresh node rather than reviving one.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[FactKey]*Node)
	g.stats = Stats{}
}
