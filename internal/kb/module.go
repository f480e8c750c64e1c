package kb

import (
	"sort"
	"sync"

	"github.com/KSD-CO/rule-engine-go/internal/rerr"
)

// ModuleManager tracks rule modules, their exported rule sets, their import
// graph, and the current focus stack consulted for agenda-group visibility
// (spec §3, §4.D).
//
// The cycle check on ImportFrom walks the whole would-be import graph with a
// breadth-first visited set before committing the new edge, the same
// look-before-you-leap idiom the teacher's internal/core/mangle_watcher.go
// uses to detect duplicate/looping file-watch subscriptions before
// registering a new one.
type ModuleManager struct {
	mu         sync.RWMutex
	kb         *KnowledgeBase
	modules    map[string]*moduleInfo
	focusOrder []string // most-recently created module names, for default focus
}

type moduleInfo struct {
	name     string
	exported map[string]struct{} // rule names exported from this module
	imports  map[string]struct{} // module names this module imports from
}

func NewModuleManager(base *KnowledgeBase) *ModuleManager {
	mm := &ModuleManager{
		kb:      base,
		modules: make(map[string]*moduleInfo),
	}
	mm.modules["MAIN"] = &moduleInfo{
		name:     "MAIN",
		exported: make(map[string]struct{}),
		imports:  make(map[string]struct{}),
	}
	mm.focusOrder = []string{"MAIN"}
	return mm
}

// CreateModule registers a new, empty module. Creating a module that
// already exists is a no-op (modules are idempotent containers).
func (mm *ModuleManager) CreateModule(name string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, ok := mm.modules[name]; ok {
		return
	}
	mm.modules[name] = &moduleInfo{
		name:     name,
		exported: make(map[string]struct{}),
		imports:  make(map[string]struct{}),
	}
	mm.focusOrder = append(mm.focusOrder, name)
}

// Export marks a rule (already belonging to the module, by Rule.Module) as
// visible to importers.
func (mm *ModuleManager) Export(module, ruleName string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mi, ok := mm.modules[module]
	if !ok {
		return rerr.ValidationError("unknown module %q", module)
	}
	mi.exported[ruleName] = struct{}{}
	return nil
}

// ImportFrom makes every rule exported by `from` visible to `into`. It
// refuses to create a cycle in the module import graph: before committing
// the edge it walks breadth-first from `from` and rejects if `into` is
// reachable (which would close a loop once the edge is added).
func (mm *ModuleManager) ImportFrom(into, from string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if into == from {
		return rerr.CyclicImport([]string{into, from})
	}
	if _, ok := mm.modules[into]; !ok {
		return rerr.ValidationError("unknown module %q", into)
	}
	if _, ok := mm.modules[from]; !ok {
		return rerr.ValidationError("unknown module %q", from)
	}

	if chain, cyclic := mm.wouldCycleLocked(into, from); cyclic {
		return rerr.CyclicImport(chain)
	}

	mm.modules[into].imports[from] = struct{}{}
	return nil
}

// wouldCycleLocked reports whether adding the edge into->from would create a
// cycle, by checking whether into is reachable from from in the existing
// import graph. mm.mu must be held.
func (mm *ModuleManager) wouldCycleLocked(into, from string) ([]string, bool) {
	visited := map[string]bool{from: true}
	queue := []string{from}
	parent := map[string]string{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == into {
			chain := []string{into}
			for n := cur; n != from; {
				p := parent[n]
				chain = append(chain, p)
				n = p
			}
			return chain, true
		}
		mi, ok := mm.modules[cur]
		if !ok {
			continue
		}
		for next := range mi.imports {
			if !visited[next] {
				visited[next] = true
				parent[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil, false
}

// GetImportGraph returns the current module->imported-modules adjacency map.
func (mm *ModuleManager) GetImportGraph() map[string][]string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := make(map[string][]string, len(mm.modules))
	for name, mi := range mm.modules {
		deps := make([]string, 0, len(mi.imports))
		for d := range mi.imports {
			deps = append(deps, d)
		}
		sort.Strings(deps)
		out[name] = deps
	}
	return out
}

// GetVisibleRules returns every rule name visible from module, meaning rules
// native to module plus every rule exported by a (transitively) imported
// module.
func (mm *ModuleManager) GetVisibleRules(module string) ([]string, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if _, ok := mm.modules[module]; !ok {
		return nil, rerr.ValidationError("unknown module %q", module)
	}

	seen := map[string]struct{}{}
	visitedModules := map[string]bool{module: true}
	queue := []string{module}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		mi := mm.modules[cur]
		if cur == module {
			for _, r := range mm.kb.ListRules() {
				if rule, ok := mm.kb.Get(r); ok && rule.Module == module {
					seen[r] = struct{}{}
				}
			}
		}
		for imported := range mi.imports {
			impInfo, ok := mm.modules[imported]
			if !ok {
				continue
			}
			for r := range impInfo.exported {
				seen[r] = struct{}{}
			}
			if !visitedModules[imported] {
				visitedModules[imported] = true
				queue = append(queue, imported)
			}
		}
	}

	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

// SetFocus returns a ValidationError if module is unknown and otherwise does
// nothing; the agenda-group focus stack (spec §3's auto-focus / set_focus
// semantics) lives in internal/agenda.
func (mm *ModuleManager) SetFocus(module string) error {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if _, ok := mm.modules[module]; !ok {
		return rerr.ValidationError("unknown module %q", module)
	}
	return nil
}

// Modules returns every registered module name.
func (mm *ModuleManager) Modules() []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := make([]string, 0, len(mm.modules))
	for n := range mm.modules {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
