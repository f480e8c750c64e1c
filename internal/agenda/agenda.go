// Package agenda implements the forward-chaining execution engine of spec
// §4.G: a per-agenda-group priority queue of rule activations, a focus
// stack selecting which group fires next, and the salience / no-loop /
// agenda-group / auto-focus / activation-group / lock-on-active semantics
// that govern which activation fires and when.
package agenda

import (
	"time"

	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/proof"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/rete"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

const mainGroup = "MAIN"

// groupState is the per-agenda-group runtime state.
type groupState struct {
	queue            *groupQueue
	lockedRules      map[string]int // rule name -> focus-period id it was locked under
	firedActivations map[string]bool
}

func newGroupState() *groupState {
	return &groupState{
		queue:            newGroupQueue(),
		lockedRules:      make(map[string]int),
		firedActivations: make(map[string]bool),
	}
}

// FireResult reports the outcome of one rule firing, for CLI/host reporting.
type FireResult struct {
	RuleName string
	Token    rete.Token
}

// Agenda is the forward-chaining engine: it keeps the RETE network's
// activation set in sync with working memory, and fires activations one at
// a time from whichever agenda group currently has focus.
type Agenda struct {
	network *rete.Network
	wm      *facts.WorkingMemory
	kbase   *kb.KnowledgeBase
	proofs  *proof.Graph
	funcs   expr.Funcs

	groups      map[string]*groupState
	focusStack  []string
	focusPeriod map[string]int // agenda group -> current focus-period id

	firingNow map[string]bool // rule name -> currently executing (for no-loop)
	workflow  map[string]value.Value

	seq       int64
	cycles    int
	maxCycles int

	now func() time.Time
}

// New builds an Agenda wired to net/wm/kbase/proofs. nowFn overrides the
// clock used for date-effective/date-expires checks (tests inject a fixed
// time); pass nil to use time.Now.
func New(net *rete.Network, wm *facts.WorkingMemory, kbase *kb.KnowledgeBase, proofs *proof.Graph, funcs expr.Funcs, maxCycles int, nowFn func() time.Time) *Agenda {
	if nowFn == nil {
		nowFn = time.Now
	}
	a := &Agenda{
		network:     net,
		wm:          wm,
		kbase:       kbase,
		proofs:      proofs,
		funcs:       funcs,
		groups:      make(map[string]*groupState),
		focusPeriod: make(map[string]int),
		firingNow:   make(map[string]bool),
		workflow:    make(map[string]value.Value),
		maxCycles:   maxCycles,
		now:         nowFn,
	}
	a.focusStack = []string{mainGroup}
	a.groupFor(mainGroup)
	return a
}

func (a *Agenda) groupFor(name string) *groupState {
	g, ok := a.groups[name]
	if !ok {
		g = newGroupState()
		a.groups[name] = g
	}
	return g
}

// CurrentGroup returns the agenda group on top of the focus stack.
func (a *Agenda) CurrentGroup() string {
	return a.focusStack[len(a.focusStack)-1]
}

// PushFocus makes group the focus group (spec §3 set_focus / auto-focus). A
// fresh focus period begins only when the group was not already the current
// top of stack, per Open Question 3's resolution: re-entering the same
// group without an intervening pop does not reset its lock-on-active state.
func (a *Agenda) PushFocus(group string) {
	a.groupFor(group)
	if a.CurrentGroup() == group {
		return
	}
	a.focusStack = append(a.focusStack, group)
}

// PopFocus pops the current focus group, ending its focus period: any
// lock-on-active rules in it unlock the next time it regains focus.
func (a *Agenda) PopFocus() {
	if len(a.focusStack) <= 1 {
		return
	}
	popped := a.CurrentGroup()
	a.focusStack = a.focusStack[:len(a.focusStack)-1]
	a.focusPeriod[popped]++
}

// Reset clears all agenda state (queues, locks, focus stack) without
// touching working memory.
func (a *Agenda) Reset() {
	a.groups = make(map[string]*groupState)
	a.focusStack = []string{mainGroup}
	a.focusPeriod = make(map[string]int)
	a.firingNow = make(map[string]bool)
	a.cycles = 0
	a.groupFor(mainGroup)
}

// Rebuild recompiles the RETE network from the current knowledge base state
// (after a rule add/remove/enable/disable) and clears stale queued
// activations, since every chain's identity may have changed.
func (a *Agenda) Rebuild() error {
	if err := a.network.Rebuild(a.kbase, a.wm); err != nil {
		return err
	}
	for _, gs := range a.groups {
		gs.queue = newGroupQueue()
	}
	return nil
}

// sync drains the RETE network's activation deltas and updates every
// affected group's queue, respecting lock-on-active and the rule's
// date-effective/date-expires window.
func (a *Agenda) sync() error {
	deltas, err := a.network.Update(a.wm)
	if err != nil {
		return err
	}
	for _, d := range deltas {
		rule := d.Activation.Rule
		group := rule.Attributes.AgendaGroup
		if group == "" {
			group = mainGroup
		}
		gs := a.groupFor(group)

		if !d.Added {
			continue // a removed activation simply isn't re-queued; stale queued entries are filtered at fire time.
		}
		if !rule.IsActiveAt(a.now()) {
			continue
		}
		if a.firingNow[rule.Name] && rule.Attributes.NoLoop {
			continue
		}
		if rule.Attributes.LockOnActive {
			if lockedPeriod, locked := gs.lockedRules[rule.Name]; locked && lockedPeriod == a.focusPeriod[group] {
				continue
			}
		}
		if rule.Attributes.AutoFocus {
			a.PushFocus(group)
		}

		a.seq++
		gs.queue.push(&entry{activation: d.Activation, seq: a.seq})
	}
	return nil
}

// FireOne fires the single highest-priority activation in the current focus
// group, returning ok=false if nothing is eligible to fire (the engine is
// quiescent for that group).
func (a *Agenda) FireOne() (result FireResult, ok bool, err error) {
	if err := a.sync(); err != nil {
		return FireResult{}, false, err
	}

	group := a.CurrentGroup()
	gs := a.groupFor(group)

	var chosen *entry
	for gs.queue.len() > 0 {
		e := gs.queue.popBest()
		rule := e.activation.Rule
		if rule.Attributes.ActivationGroup != "" && gs.firedActivations[rule.Attributes.ActivationGroup] {
			continue
		}
		chosen = e
		break
	}
	if chosen == nil {
		return FireResult{}, false, nil
	}

	a.cycles++
	if a.maxCycles > 0 && a.cycles > a.maxCycles {
		return FireResult{}, false, rerr.MaxCyclesExceeded(a.maxCycles)
	}

	rule := chosen.activation.Rule
	if rule.Attributes.ActivationGroup != "" {
		gs.firedActivations[rule.Attributes.ActivationGroup] = true
		gs.queue.removeAllForActivationGroup(rule.Attributes.ActivationGroup)
	}
	if rule.Attributes.LockOnActive {
		gs.lockedRules[rule.Name] = a.focusPeriod[group]
	}

	a.firingNow[rule.Name] = true
	execErr := a.executeActions(rule, chosen.activation.Token)
	if execErr == nil {
		// Drain the firing's own changes while the rule is still marked as
		// firing, so sync drops a no-loop rule's self-re-activation.
		execErr = a.sync()
	}
	delete(a.firingNow, rule.Name)
	if execErr != nil {
		return FireResult{}, false, execErr
	}

	return FireResult{RuleName: rule.Name, Token: chosen.activation.Token}, true, nil
}

// FireAll repeatedly fires activations across the whole focus stack (not
// just the top group) until every group is quiescent or maxCycles is
// exceeded, returning every rule fired in order.
func (a *Agenda) FireAll() ([]FireResult, error) {
	var fired []FireResult
	for {
		progressed := false
		for i := len(a.focusStack) - 1; i >= 0; i-- {
			group := a.focusStack[i]
			for {
				if a.CurrentGroup() != group {
					break // a nested auto-focus changed the top of stack; restart outer loop
				}
				res, ok, err := a.FireOne()
				if err != nil {
					return fired, err
				}
				if !ok {
					break
				}
				fired = append(fired, res)
				progressed = true
			}
		}
		if !progressed {
			return fired, nil
		}
	}
}

// WorkflowData returns the current engine-wide workflow data map set by
// ActionSetWorkflowData (spec §3), readable by host functions and explain.
func (a *Agenda) WorkflowData() map[string]value.Value {
	out := make(map[string]value.Value, len(a.workflow))
	for k, v := range a.workflow {
		out[k] = v
	}
	return out
}
