package agenda

import (
	"strings"

	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/proof"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/rete"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// executeActions runs rule's RHS in order against the bindings captured by
// tok, the single point where a firing rule touches working memory, the
// proof graph, host functions, workflow data, or agenda focus (spec §3).
func (a *Agenda) executeActions(rule *kb.Rule, tok rete.Token) error {
	for _, act := range rule.Actions {
		if err := a.executeAction(rule, tok, act); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agenda) executeAction(rule *kb.Rule, tok rete.Token, act kb.Action) error {
	switch n := act.(type) {
	case kb.ActionAssignField:
		return a.execAssignField(tok, n)

	case kb.ActionCallFunction:
		_, err := a.evalCall(tok, n)
		return err

	case kb.ActionAssertFact:
		data, err := a.evalFields(tok, n.Fields)
		if err != nil {
			return err
		}
		a.wm.Insert(n.TypeName, data)
		return nil

	case kb.ActionRetractFact:
		h, ok := tok.HandleVars[n.HandleVar]
		if !ok {
			return rerr.UnboundVariable(n.HandleVar)
		}
		return a.wm.Retract(h)

	case kb.ActionLogicalAssert:
		data, err := a.evalFields(tok, n.Fields)
		if err != nil {
			return err
		}
		premises := premiseKeysOf(a.wm, tok)
		_, err = a.proofs.InsertLogical(a.wm, n.TypeName, data, rule.Name, premises)
		return err

	case kb.ActionSetWorkflowData:
		v, err := expr.Evaluate(n.Value, facts.TypedFacts{}, tok.Bindings, a.funcs)
		if err != nil {
			return err
		}
		a.workflow[n.Key] = v
		return nil

	case kb.ActionFocusAgendaGroup:
		a.PushFocus(n.Group)
		return nil

	default:
		return rerr.Internal("unknown action node %T", act)
	}
}

// execAssignField evaluates n.Value and writes it back into the fact bound
// by the leading component of the dotted target (a bind variable, or the
// type name of one of tok's facts), re-inserting the modified record via
// WorkingMemory.Update (spec §3 modify).
func (a *Agenda) execAssignField(tok rete.Token, n kb.ActionAssignField) error {
	head, field := n.Target, ""
	if i := strings.IndexByte(n.Target, '.'); i >= 0 {
		head, field = n.Target[:i], n.Target[i+1:]
	}
	h, ok := tok.HandleVars[head]
	if !ok {
		// The GRL parser rewrites "$var.Field" to "TypeName.Field"; resolve a
		// type-name head to the first fact of that type in tok.
		for _, bh := range tok.Handles {
			if typeName, _, live := a.wm.Get(bh); live && typeName == head {
				h, ok = bh, true
				break
			}
		}
	}
	if !ok {
		return rerr.UnboundVariable(head)
	}
	v, err := expr.Evaluate(n.Value, facts.TypedFacts{}, tok.Bindings, a.funcs)
	if err != nil {
		return err
	}
	_, data, ok := a.wm.Get(h)
	if !ok {
		return rerr.New(rerr.KindUnknownHandle, "handle %v no longer live", h)
	}
	if field == "" {
		field = n.Target
	}
	data[field] = v
	return a.wm.Update(h, data)
}

func (a *Agenda) evalCall(tok rete.Token, n kb.ActionCallFunction) (value.Value, error) {
	fn, ok := a.funcs[n.Name]
	if !ok {
		return value.Value{}, rerr.New(rerr.KindInternalError, "unknown host function %q", n.Name)
	}
	args := make([]value.Value, len(n.Args))
	for i, ae := range n.Args {
		v, err := expr.Evaluate(ae, facts.TypedFacts{}, tok.Bindings, a.funcs)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}
	return fn(args)
}

// evalFields evaluates every expression in fields against tok's bindings,
// producing the TypedFacts record for an asserted or logically-asserted
// fact.
func (a *Agenda) evalFields(tok rete.Token, fields map[string]expr.Expr) (facts.TypedFacts, error) {
	data := make(facts.TypedFacts, len(fields))
	for name, e := range fields {
		v, err := expr.Evaluate(e, facts.TypedFacts{}, tok.Bindings, a.funcs)
		if err != nil {
			return nil, err
		}
		data[name] = v
	}
	return data, nil
}

// premiseKeysOf computes the proof-graph FactKey of every fact bound in
// tok's handles, the premise set recorded against a new logical assertion.
func premiseKeysOf(wm *facts.WorkingMemory, tok rete.Token) []proof.FactKey {
	keys := make([]proof.FactKey, 0, len(tok.Handles))
	for _, h := range tok.Handles {
		typeName, data, ok := wm.Get(h)
		if !ok {
			continue
		}
		keys = append(keys, proof.KeyOf(typeName, data))
	}
	return keys
}
