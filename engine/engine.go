// Package engine is the public Host API of spec §6: it wires together the
// knowledge base, module manager, working memory, RETE network, agenda,
// backward-chaining search, proof graph and GRL front-end behind the single
// facade the language-neutral host operations (new_forward, fire_all,
// query, proof_graph_stats, ...) describe.
//
// Grounded on the teacher's internal/core.RealKernel (internal/core/kernel_types.go):
// a mutex-guarded struct wiring each subsystem together behind one type,
// with construction, Close, and a handful of top-level operations as the
// only exported surface.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/KSD-CO/rule-engine-go/internal/agenda"
	"github.com/KSD-CO/rule-engine-go/internal/backward"
	"github.com/KSD-CO/rule-engine-go/internal/explain"
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/grl"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/proof"
	"github.com/KSD-CO/rule-engine-go/internal/rconfig"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/rete"
	"github.com/KSD-CO/rule-engine-go/internal/rlog"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// Stats reports the engine's runtime counters (spec §6's EngineStats).
type Stats struct {
	Rules        int
	Facts        int
	ProofGraph   proof.Stats
	WorkflowData map[string]value.Value
	CurrentFocus string
}

// Engine is the language-neutral host facade of spec §6. One instance owns
// its working memory, RETE network, agenda and proof graph exclusively;
// spec §5 forbids concurrent host access to a single instance, so every
// exported method takes Engine's own mutex rather than relying on the
// finer-grained locks already held by its subsystems.
type Engine struct {
	mu sync.Mutex

	cfg *rconfig.Config

	kbase   *kb.KnowledgeBase
	modules *kb.ModuleManager
	wm      *facts.WorkingMemory
	network *rete.Network
	ag      *agenda.Agenda
	proofs  *proof.Graph
	search  *backward.Search
	funcs   expr.Funcs

	watcher *grl.Watcher

	traceEnabled bool
	lastTrace    *explain.Trace
}

// NewForward constructs an engine for forward chaining (spec §6's
// new_forward()): an empty knowledge base, working memory, RETE network and
// agenda, using the default configuration.
func NewForward() *Engine {
	return NewBackward(kb.New())
}

// NewBackward constructs an engine sharing an existing knowledge base (spec
// §6's new_backward(kb)): rules already loaded into base are visible to both
// forward firing and backward search, since both read the same
// KnowledgeBase and write the same WorkingMemory/ProofGraph.
func NewBackward(base *kb.KnowledgeBase) *Engine {
	e := &Engine{
		cfg:     rconfig.DefaultConfig(),
		kbase:   base,
		modules: kb.NewModuleManager(base),
		wm:      facts.NewWorkingMemory(),
		proofs:  proof.NewGraph(),
		funcs:   BuiltinFuncs(),
	}
	e.rebuildLocked()
	rlog.Get(rlog.CategoryEngine).Infow("engine constructed", "rules", len(base.All()))
	return e
}

// WithConfig applies cfg to the engine (spec §6's with_config(cfg)),
// rebuilding the agenda's cycle bound and the backward search's default
// query attributes from it. Returns the engine for chaining, mirroring the
// host-API's fluent construction style.
func (e *Engine) WithConfig(cfg *rconfig.Config) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg == nil {
		cfg = rconfig.DefaultConfig()
	}
	e.cfg = cfg
	e.rebuildLocked()
	return e
}

// Config returns the engine's current configuration.
func (e *Engine) Config() *rconfig.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// rebuildLocked rebuilds the RETE network and agenda from the current
// knowledge base and configuration. Callers must hold e.mu.
func (e *Engine) rebuildLocked() {
	e.network = rete.Build(e.kbase, e.funcs)
	e.ag = agenda.New(e.network, e.wm, e.kbase, e.proofs, e.funcs, e.cfg.Engine.MaxCycles, nil)
	e.search = backward.New(e.kbase, e.wm, e.proofs, e.funcs)
}

// RegisterFunc installs or replaces a host function callable from rule and
// query expressions (spec §4.B's host-function table). Rebuilds the RETE
// network and search afresh so the new registry takes effect immediately.
func (e *Engine) RegisterFunc(name string, fn expr.HostFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.funcs == nil {
		e.funcs = expr.Funcs{}
	}
	e.funcs[name] = fn
	e.rebuildLocked()
}

// --- Rule loading (spec §6) ---

// LoadRulesFromText parses and installs GRL source, returning any queries
// it declared.
func (e *Engine) LoadRulesFromText(source string) ([]grl.QueryDecl, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	queries, err := grl.LoadSource(source, e.kbase, e.modules)
	if err != nil {
		return nil, err
	}
	e.rebuildLocked()
	return queries, nil
}

// LoadRulesFromPath reads and installs a .grl file from disk.
func (e *Engine) LoadRulesFromPath(path string) ([]grl.QueryDecl, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	queries, err := grl.LoadFile(path, e.kbase, e.modules)
	if err != nil {
		return nil, err
	}
	e.rebuildLocked()
	return queries, nil
}

// WatchRulesDir starts hot-reloading .grl files from dir (spec §6's
// rules.watch_for_changes), rebuilding the network after every reload.
func (e *Engine) WatchRulesDir(ctx context.Context, dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		e.watcher.Stop()
	}
	w, err := grl.NewWatcher(dir, e.kbase, e.modules, func(path string, _ []grl.QueryDecl, err error) {
		if err != nil {
			return
		}
		e.mu.Lock()
		e.rebuildLocked()
		e.mu.Unlock()
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	e.watcher = w
	return nil
}

// StopWatching stops the rule-directory watcher, if one is running.
func (e *Engine) StopWatching() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		e.watcher.Stop()
		e.watcher = nil
	}
}

// AddRule installs a single already-built rule.
func (e *Engine) AddRule(rule *kb.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.kbase.AddRule(rule); err != nil {
		return err
	}
	e.rebuildLocked()
	return nil
}

// RemoveRule removes a rule by name.
func (e *Engine) RemoveRule(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.kbase.RemoveRule(name); err != nil {
		return err
	}
	e.rebuildLocked()
	return nil
}

// EnableRule re-enables a previously disabled rule.
func (e *Engine) EnableRule(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.kbase.EnableRule(name); err != nil {
		return err
	}
	e.rebuildLocked()
	return nil
}

// DisableRule disables a rule without removing it from the knowledge base.
func (e *Engine) DisableRule(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.kbase.DisableRule(name); err != nil {
		return err
	}
	e.rebuildLocked()
	return nil
}

// ListRules returns every rule name currently in the knowledge base.
func (e *Engine) ListRules() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kbase.ListRules()
}

// GetRule returns the named rule.
func (e *Engine) GetRule(name string) (*kb.Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kbase.Get(name)
}

// --- Working memory (spec §6) ---

// Insert adds a fact of typeName to working memory, returning its handle.
func (e *Engine) Insert(typeName string, data facts.TypedFacts) facts.FactHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wm.Insert(typeName, data)
}

// InsertWithTemplate validates data against a registered template before
// inserting it.
func (e *Engine) InsertWithTemplate(templateName string, data facts.TypedFacts) (facts.FactHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wm.InsertWithTemplate(templateName, data)
}

// RegisterTemplate installs a fact template used by InsertWithTemplate.
func (e *Engine) RegisterTemplate(t *facts.Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wm.RegisterTemplate(t)
}

// Update replaces the data of an existing fact.
func (e *Engine) Update(h facts.FactHandle, data facts.TypedFacts) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wm.Update(h, data)
}

// Retract removes a fact from working memory.
func (e *Engine) Retract(h facts.FactHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wm.Retract(h)
}

// Get returns a fact's type and data.
func (e *Engine) Get(h facts.FactHandle) (string, facts.TypedFacts, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wm.Get(h)
}

// GetByType returns every live handle of the given type.
func (e *Engine) GetByType(typeName string) []facts.FactHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wm.GetByType(typeName)
}

// --- Execution (spec §6, §4.G) ---

// FireAll runs the forward-chaining cycle to quiescence, syncing the RETE
// network against pending working-memory changes first.
func (e *Engine) FireAll() ([]agenda.FireResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ag.FireAll()
}

// FireOne executes a single forward-chaining cycle.
func (e *Engine) FireOne() (agenda.FireResult, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ag.FireOne()
}

// Reset clears the agenda and per-focus-period firing records without
// discarding working memory or the network (spec §4.G).
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ag.Reset()
}

// Stats reports the engine's current counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Rules:        len(e.kbase.All()),
		Facts:        e.wm.Len(),
		ProofGraph:   e.proofs.Stats(),
		WorkflowData: e.ag.WorkflowData(),
		CurrentFocus: e.ag.CurrentGroup(),
	}
}

// PushFocus pushes an agenda group onto the focus stack.
func (e *Engine) PushFocus(group string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ag.PushFocus(group)
}

// PopFocus pops the current focused agenda group.
func (e *Engine) PopFocus() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ag.PopFocus()
}

// --- Backward queries (spec §6, §4.H) ---

// Query parses goalText as a standalone GRL query block (`query "ad-hoc" {
// goal: ... }`) and proves it, applying the engine's configured backward
// defaults to any attribute the query text leaves unset.
func (e *Engine) Query(goalText string) (backward.QueryResult, error) {
	res, err := grl.Parse(wrapAdHocQuery(goalText))
	if err != nil {
		return backward.QueryResult{}, err
	}
	if len(res.Queries) != 1 {
		return backward.QueryResult{}, rerr.New(rerr.KindParseError, "query text must declare exactly one query block")
	}
	return e.QueryParsed(res.Queries[0].Query)
}

// QueryParsed proves an already-built backward.Query (spec §6's
// query_parsed), recording a trace if EnableTrace was called.
func (e *Engine) QueryParsed(q backward.Query) (backward.QueryResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.applyBackwardDefaultsLocked(&q)
	result, err := e.search.Prove(q)
	if err != nil {
		return result, err
	}
	if e.traceEnabled {
		e.lastTrace = explain.FromQueryResult(result)
	}
	return result, nil
}

// applyBackwardDefaultsLocked fills in query attributes the GRL source left
// at their zero value with the engine's configured defaults. Callers must
// hold e.mu.
func (e *Engine) applyBackwardDefaultsLocked(q *backward.Query) {
	def := e.cfg.Backward
	if q.MaxDepth == 0 {
		q.MaxDepth = def.MaxDepth
	}
	if q.MaxSolutions == 0 {
		q.MaxSolutions = def.MaxSolutions
	}
}

func wrapAdHocQuery(goalText string) string {
	return fmt.Sprintf("query \"adhoc\" {\n    goal: %s\n}\n", goalText)
}

// --- Proof cache (spec §6, §4.J) ---

// ProofGraphStats reports the proof graph's hit/miss/invalidation counters.
func (e *Engine) ProofGraphStats() proof.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proofs.Stats()
}

// ClearProofCache discards every tracked proof-graph node, leaving
// previously derived facts in working memory as plain, untracked facts.
func (e *Engine) ClearProofCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proofs.Clear()
}

// --- Explanation (spec §6, §4.K) ---

// EnableTrace turns explanation-trace capture on or off for subsequent
// QueryParsed/Query calls.
func (e *Engine) EnableTrace(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traceEnabled = on
	if !on {
		e.lastTrace = nil
	}
}

// LastTrace returns the proof tree captured by the most recent traced
// query, or nil if tracing is off or no query has run yet.
func (e *Engine) LastTrace() *explain.Trace {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTrace
}

// Modules returns the names of every declared module.
func (e *Engine) Modules() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modules.Modules()
}

// ModuleManager exposes the underlying module manager for hosts that need
// export/import/focus operations beyond the facade above.
func (e *Engine) ModuleManager() *kb.ModuleManager {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modules
}

// KnowledgeBase exposes the underlying knowledge base, e.g. so a host can
// build a second Engine with NewBackward sharing the same rules.
func (e *Engine) KnowledgeBase() *kb.KnowledgeBase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kbase
}

// Close stops any running watcher. Safe to call on an engine with no
// watcher running.
func (e *Engine) Close() {
	e.StopWatching()
}
