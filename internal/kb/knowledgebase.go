package kb

import (
	"sort"
	"strings"
	"sync"

	"github.com/KSD-CO/rule-engine-go/internal/rerr"
)

// KnowledgeBase is an ordered collection of rules indexed by unique name,
// with a conclusion index rebuilt on every mutation (spec §3, §4.D).
//
// The teacher's internal/core/rule_court.go RatifyRule builds a scratch
// instance to check a rule before it joins the live knowledge base; AddRule
// here checks only that the rule's name is unused and installs its
// condition/action trees as given, without validating them.
type KnowledgeBase struct {
	mu              sync.RWMutex
	rules           map[string]*Rule
	order           []string // insertion order, for deterministic iteration
	conclusionIndex map[string]map[string]struct{}
}

func New() *KnowledgeBase {
	return &KnowledgeBase{
		rules:           make(map[string]*Rule),
		conclusionIndex: make(map[string]map[string]struct{}),
	}
}

// AddRule installs a new rule. Rule names are unique; adding a rule whose
// name already exists is a ValidationError (rename is unsupported — spec
// §4.D says remove+re-add only).
func (kb *KnowledgeBase) AddRule(r *Rule) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.rules[r.Name]; exists {
		return rerr.ValidationError("rule %q already exists", r.Name)
	}
	kb.rules[r.Name] = r
	kb.order = append(kb.order, r.Name)
	kb.rebuildIndexLocked()
	return nil
}

// RemoveRule deletes a rule by name.
func (kb *KnowledgeBase) RemoveRule(name string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.rules[name]; !exists {
		return rerr.UnknownRule(name)
	}
	delete(kb.rules, name)
	for i, n := range kb.order {
		if n == name {
			kb.order = append(kb.order[:i], kb.order[i+1:]...)
			break
		}
	}
	kb.rebuildIndexLocked()
	return nil
}

func (kb *KnowledgeBase) setEnabled(name string, enabled bool) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	r, ok := kb.rules[name]
	if !ok {
		return rerr.UnknownRule(name)
	}
	r.Attributes.Enabled = enabled
	kb.rebuildIndexLocked()
	return nil
}

func (kb *KnowledgeBase) EnableRule(name string) error  { return kb.setEnabled(name, true) }
func (kb *KnowledgeBase) DisableRule(name string) error { return kb.setEnabled(name, false) }

// Get returns the rule by name.
func (kb *KnowledgeBase) Get(name string) (*Rule, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	r, ok := kb.rules[name]
	return r, ok
}

// ListRules returns rule names in insertion order.
func (kb *KnowledgeBase) ListRules() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]string, len(kb.order))
	copy(out, kb.order)
	return out
}

// All returns every rule, in insertion order.
func (kb *KnowledgeBase) All() []*Rule {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]*Rule, 0, len(kb.order))
	for _, n := range kb.order {
		out = append(out, kb.rules[n])
	}
	return out
}

// ConclusionCandidates returns the names of enabled rules whose actions
// could write the given field, including dotted-prefix matches (spec §4.D:
// "Customer.IsVIP" registers both "Customer.IsVIP" and "Customer").
func (kb *KnowledgeBase) ConclusionCandidates(field string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	set := kb.conclusionIndex[field]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// rebuildIndexLocked recomputes the conclusion index from scratch (spec
// I4: the index must cover exactly the fields enabled rules write).
func (kb *KnowledgeBase) rebuildIndexLocked() {
	idx := make(map[string]map[string]struct{})
	for _, name := range kb.order {
		r := kb.rules[name]
		if !r.Attributes.Enabled {
			continue
		}
		for _, a := range r.Actions {
			field := writeTarget(a)
			if field == "" {
				continue
			}
			for _, key := range dottedPrefixes(field) {
				if idx[key] == nil {
					idx[key] = make(map[string]struct{})
				}
				idx[key][name] = struct{}{}
			}
		}
	}
	kb.conclusionIndex = idx
}

func writeTarget(a Action) string {
	switch n := a.(type) {
	case ActionAssignField:
		return n.Target
	case ActionAssertFact:
		return n.TypeName
	case ActionLogicalAssert:
		return n.TypeName
	}
	return ""
}

// dottedPrefixes returns field and every dotted prefix of it, e.g.
// "Customer.Address.City" -> ["Customer.Address.City", "Customer.Address", "Customer"].
func dottedPrefixes(field string) []string {
	parts := strings.Split(field, ".")
	out := make([]string, 0, len(parts))
	for i := len(parts); i > 0; i-- {
		out = append(out, strings.Join(parts[:i], "."))
	}
	return out
}
