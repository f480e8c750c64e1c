// Package facts implements the typed-fact model and working memory of spec
// §3/§4.A/§4.E: FactValue (the RETE-path value union, losslessly convertible
// with internal/value.Value), TypedFacts records, opaque FactHandles, and
// the indexed working-memory store with modification tracking for the RETE
// layer.
package facts

import (
	"fmt"
	"sync"

	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// FactValue is the value union used on the RETE path. It is defined as the
// same type as value.Value (spec §3 permits, but does not require, a
// distinct variant set; we use one type to make the boundary between the
// backward and forward engines lossless by construction rather than by a
// conversion layer that could drift).
type FactValue = value.Value

// TypedFacts maps field name to FactValue. Dotted names (Customer.Address.City)
// are opaque keys here; dots carry no hierarchy semantics at this layer.
type TypedFacts map[string]FactValue

// Get returns the value bound to field, and whether it was present. Per
// spec §4.A, an absent field is a distinct outcome from a present null.
func (t TypedFacts) Get(field string) (FactValue, bool) {
	v, ok := t[field]
	return v, ok
}

// Clone returns a shallow copy safe for independent mutation of the map
// itself (values are immutable).
func (t TypedFacts) Clone() TypedFacts {
	out := make(TypedFacts, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// FactHandle is an opaque, engine-assigned, globally unique identifier
// issued on insertion. It is comparable and hashable, survives updates, and
// becomes invalid after retraction (spec §3).
type FactHandle uint64

func (h FactHandle) String() string { return fmt.Sprintf("#%d", uint64(h)) }

// entry binds a handle to its (type, data) pair inside one store.
type entry struct {
	typeName string
	data     TypedFacts
	version  uint64
}

// Change describes one fact mutation surfaced to the RETE layer since the
// last propagation pass (spec §4.E).
type ChangeKind int

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeRetract
)

type Change struct {
	Kind     ChangeKind
	Handle   FactHandle
	TypeName string
}

// WorkingMemory is the indexed store of currently-asserted facts. It is
// indexed by type name for O(1) "all facts of type T" lookups, and tracks
// pending changes for the RETE layer to drain.
//
// The staged-mutate-then-notify discipline below is grounded on
// internal/mangle/engine.go's AddFacts/ReplaceFactsForFile in the teacher:
// mutate the store under the lock, then let the caller (there: autoEval;
// here: RETE propagation) run against the now-consistent state.
type WorkingMemory struct {
	mu       sync.RWMutex
	nextID   uint64
	entries  map[FactHandle]*entry
	byType   map[string]map[FactHandle]struct{}
	pending  []Change
	version  uint64
	templates map[string]*Template
}

func NewWorkingMemory() *WorkingMemory {
	return &WorkingMemory{
		entries:   make(map[FactHandle]*entry),
		byType:    make(map[string]map[FactHandle]struct{}),
		templates: make(map[string]*Template),
	}
}

// Version returns the engine-maintained mutation counter (spec §9,
// "Memoization correctness"): callers stamp cached entries with this value
// and treat a cache entry whose stamp is older as stale.
func (wm *WorkingMemory) Version() uint64 {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.version
}

// RegisterTemplate installs a named schema used by InsertWithTemplate.
func (wm *WorkingMemory) RegisterTemplate(t *Template) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.templates[t.Name] = t
}

// Insert asserts a new fact of the given type, returning its handle.
func (wm *WorkingMemory) Insert(typeName string, data TypedFacts) FactHandle {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.insertLocked(typeName, data)
}

func (wm *WorkingMemory) insertLocked(typeName string, data TypedFacts) FactHandle {
	wm.nextID++
	h := FactHandle(wm.nextID)
	wm.version++
	wm.entries[h] = &entry{typeName: typeName, data: data.Clone(), version: wm.version}
	if wm.byType[typeName] == nil {
		wm.byType[typeName] = make(map[FactHandle]struct{})
	}
	wm.byType[typeName][h] = struct{}{}
	wm.pending = append(wm.pending, Change{Kind: ChangeInsert, Handle: h, TypeName: typeName})
	return h
}

// InsertWithTemplate validates data against the named template before
// inserting. See Template.Validate for the coercion rules (spec §9, open
// question 2).
func (wm *WorkingMemory) InsertWithTemplate(templateName string, data TypedFacts) (FactHandle, error) {
	wm.mu.Lock()
	tmpl, ok := wm.templates[templateName]
	wm.mu.Unlock()
	if !ok {
		return 0, rerr.ValidationError("no such template: %s", templateName)
	}
	coerced, err := tmpl.Validate(data)
	if err != nil {
		return 0, err
	}
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.insertLocked(tmpl.Name, coerced), nil
}

// Update replaces the data bound to handle, keeping type and handle fixed.
func (wm *WorkingMemory) Update(h FactHandle, data TypedFacts) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	e, ok := wm.entries[h]
	if !ok {
		return rerr.UnknownHandle(uint64(h))
	}
	wm.version++
	e.data = data.Clone()
	e.version = wm.version
	wm.pending = append(wm.pending, Change{Kind: ChangeUpdate, Handle: h, TypeName: e.typeName})
	return nil
}

// Retract removes a fact. After Retract, h never resolves again and is
// never reissued (spec I1).
func (wm *WorkingMemory) Retract(h FactHandle) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	e, ok := wm.entries[h]
	if !ok {
		return rerr.UnknownHandle(uint64(h))
	}
	wm.version++
	delete(wm.entries, h)
	if set, ok := wm.byType[e.typeName]; ok {
		delete(set, h)
	}
	wm.pending = append(wm.pending, Change{Kind: ChangeRetract, Handle: h, TypeName: e.typeName})
	return nil
}

// Get resolves a handle to its (type, data) pair.
func (wm *WorkingMemory) Get(h FactHandle) (string, TypedFacts, bool) {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	e, ok := wm.entries[h]
	if !ok {
		return "", nil, false
	}
	return e.typeName, e.data.Clone(), true
}

// GetByType returns every live handle of the given type.
func (wm *WorkingMemory) GetByType(typeName string) []FactHandle {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	set := wm.byType[typeName]
	out := make([]FactHandle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}

// DrainChanges returns and clears the set of changes since the last drain,
// for the RETE layer to propagate (spec §4.E).
func (wm *WorkingMemory) DrainChanges() []Change {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	out := wm.pending
	wm.pending = nil
	return out
}

// Len returns the number of live facts, mostly for diagnostics/stats.
func (wm *WorkingMemory) Len() int {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return len(wm.entries)
}
