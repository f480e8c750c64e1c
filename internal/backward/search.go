package backward

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/KSD-CO/rule-engine-go/internal/bindings"
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/proof"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// Search is the backward-chaining engine of spec §4.H: it proves a goal
// against a knowledge base and working memory, consulting the proof graph
// as a cache and, on a cache miss, trying rule candidates drawn from the
// knowledge base's conclusion index.
type Search struct {
	kbase  *kb.KnowledgeBase
	wm     *facts.WorkingMemory
	proofs *proof.Graph
	funcs  expr.Funcs
	sf     singleflight.Group
}

// New builds a Search over kbase/wm/proofs, consulting funcs for any host
// function calls reached during proving.
func New(kbase *kb.KnowledgeBase, wm *facts.WorkingMemory, proofs *proof.Graph, funcs expr.Funcs) *Search {
	return &Search{kbase: kbase, wm: wm, proofs: proofs, funcs: funcs}
}

// proveState carries the mutable search-wide bookkeeping threaded through
// one Prove call's recursion: effort counters, the in-progress cycle guard,
// and the set of fields referenced but absent from facts.
type proveState struct {
	maxDepth     int
	maxSolutions int
	funcs        expr.Funcs
	inProgress   map[string]bool
	stats        Stats
	missing      map[string]bool
}

// Prove proves query's goal, returning every solution up to
// query.MaxSolutions and a rendered proof trace for the first one. Identical
// concurrent Prove calls for the same goal and query name collapse onto one
// search via singleflight, per query.EnableMemoization (spec §4.H grounded
// on the teacher's stated goal of not redoing in-flight evaluation work).
func (s *Search) Prove(q Query) (QueryResult, error) {
	start := time.Now()
	if q.MaxDepth <= 0 {
		q.MaxDepth = 10
	}
	if q.MaxSolutions <= 0 {
		q.MaxSolutions = 1
	}
	if q.EnableOptimization {
		q.Goal = optimize(q.Goal)
	}

	run := func() (any, error) {
		st := &proveState{
			maxDepth:     q.MaxDepth,
			maxSolutions: q.MaxSolutions,
			funcs:        s.funcs,
			inProgress:   make(map[string]bool),
			missing:      make(map[string]bool),
		}
		sols, trace, err := s.proveGoal(st, q.Goal, bindings.New(), 0)
		if err != nil {
			return nil, err
		}
		return &QueryResult{
			Provable:     len(sols) > 0,
			Solutions:    sols,
			Bindings:     firstOrEmpty(sols),
			ProofTrace:   trace,
			MissingFacts: sortedKeys(st.missing),
			Stats:        st.stats,
		}, nil
	}

	var res any
	var err error
	if q.EnableMemoization {
		key := fmt.Sprintf("%s|%s", q.Name, goalSignature(q.Goal))
		res, err, _ = s.sf.Do(key, run)
	} else {
		res, err = run()
	}
	if err != nil {
		return QueryResult{}, err
	}
	qr := *res.(*QueryResult)
	qr.Stats.Duration = time.Since(start)
	qr.TraceID = uuid.NewString()
	return qr, nil
}

func firstOrEmpty(sols []bindings.Bindings) bindings.Bindings {
	if len(sols) == 0 {
		return bindings.New()
	}
	return sols[0]
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// proveGoal is the recursive core of spec §4.H's algorithm, dispatching on
// goal shape and bounding both recursion depth and solution count.
func (s *Search) proveGoal(st *proveState, g Goal, b bindings.Bindings, depth int) ([]bindings.Bindings, *ProofNode, error) {
	st.stats.GoalsExplored++
	if depth > st.stats.MaxDepthReached {
		st.stats.MaxDepthReached = depth
	}
	if depth > st.maxDepth {
		return nil, &ProofNode{Goal: goalSignature(g), NodeType: "Failed"}, nil
	}

	sig := goalSignature(g) + "@" + bindingsSignature(b)
	if st.inProgress[sig] {
		return nil, &ProofNode{Goal: goalSignature(g), NodeType: "Failed"}, nil
	}
	st.inProgress[sig] = true
	defer delete(st.inProgress, sig)

	switch n := g.(type) {
	case GoalPattern:
		return s.provePattern(st, n.Pattern, b, depth)

	case GoalAnd:
		return s.proveAnd(st, n.Children, b, depth)

	case GoalOr:
		return s.proveOr(st, n.Children, b, depth)

	case GoalNot:
		// Closed-world negation: a fresh bindings scope, so any bindings the
		// inner proof would have produced never leak out (spec §4.H.3).
		inner, _, err := s.proveGoal(st, n.Child, bindings.New(), depth+1)
		if err != nil {
			return nil, nil, err
		}
		if len(inner) > 0 {
			return nil, &ProofNode{Goal: goalSignature(g), NodeType: "Negation", Proven: false}, nil
		}
		return []bindings.Bindings{b}, &ProofNode{Goal: goalSignature(g), NodeType: "Negation", Proven: true}, nil

	case GoalWhere:
		whereSols, whereTrace, err := s.proveGoal(st, n.Where, b, depth+1)
		if err != nil {
			return nil, nil, err
		}
		var out []bindings.Bindings
		var children []*ProofNode
		for _, wb := range whereSols {
			if len(out) >= st.maxSolutions {
				break
			}
			_, patSols, err := matchPattern(n.Pattern, s.wm, wb, st.funcs)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, patSols...)
		}
		if whereTrace != nil {
			children = append(children, whereTrace)
		}
		node := &ProofNode{Goal: goalSignature(g), Proven: len(out) > 0, NodeType: "Fact", Children: children}
		return out, node, nil

	case GoalExists:
		handles, _, err := matchPattern(n.Pattern, s.wm, b, st.funcs)
		if err != nil {
			return nil, nil, err
		}
		st.stats.FactsChecked += len(handles)
		node := &ProofNode{Goal: goalSignature(g), Proven: len(handles) > 0, NodeType: "Fact"}
		if len(handles) > 0 {
			return []bindings.Bindings{b}, node, nil
		}
		return nil, node, nil

	case GoalForall:
		live := s.wm.GetByType(n.Pattern.TypeName)
		handles, _, err := matchPattern(n.Pattern, s.wm, b, st.funcs)
		if err != nil {
			return nil, nil, err
		}
		st.stats.FactsChecked += len(live)
		node := &ProofNode{Goal: goalSignature(g), Proven: len(handles) == len(live), NodeType: "Fact"}
		if len(handles) == len(live) {
			return []bindings.Bindings{b}, node, nil
		}
		return nil, node, nil

	case GoalTest:
		ok, err := expr.IsSatisfied(n.Expr, facts.TypedFacts{}, b, st.funcs)
		if err != nil {
			return nil, nil, err
		}
		node := &ProofNode{Goal: goalSignature(g), Proven: ok, NodeType: "Fact"}
		if ok {
			return []bindings.Bindings{b}, node, nil
		}
		return nil, node, nil

	case GoalAggregate:
		return s.proveAggregate(st, n, b)

	default:
		return nil, nil, rerr.Internal("unknown goal node %T", g)
	}
}

// provePattern implements spec §4.H.1 and §4.H.6: a direct fact match short
// circuits the search; failing that, a fully-ground pattern is checked
// against the proof-graph cache; failing that, candidate rules are tried.
func (s *Search) provePattern(st *proveState, p kb.Pattern, b bindings.Bindings, depth int) ([]bindings.Bindings, *ProofNode, error) {
	live := s.wm.GetByType(p.TypeName)
	st.stats.FactsChecked += len(live)

	_, matchSols, err := matchPattern(p, s.wm, b, st.funcs)
	if err != nil {
		return nil, nil, err
	}
	if len(matchSols) > 0 {
		if len(matchSols) > st.maxSolutions {
			matchSols = matchSols[:st.maxSolutions]
		}
		return matchSols, &ProofNode{Goal: p.TypeName, Proven: true, NodeType: "Fact"}, nil
	}

	// Proof-graph cache check (spec §4.H.1): only meaningful for a fully
	// ground pattern, since a FactKey fingerprints concrete field values.
	// Any fact the cache holds is already live in working memory (insertion
	// and invalidation keep the two in lockstep), so this step only affects
	// the reported hit/miss statistics, not whether the goal is proven.
	if key, ok := groundKey(p); ok {
		if _, found := s.proofs.Lookup(key); found {
			st.stats.CacheHits++
		} else {
			st.stats.CacheMisses++
		}
	}

	for _, field := range referencedFields(p) {
		st.missing[field] = true
	}

	candidates := s.kbase.ConclusionCandidates(p.TypeName)
	var out []bindings.Bindings
	var children []*ProofNode
	for _, ruleName := range candidates {
		if len(out) >= st.maxSolutions {
			break
		}
		rule, ok := s.kbase.Get(ruleName)
		if !ok || !rule.Attributes.Enabled {
			continue
		}
		st.stats.RulesEvaluated++

		bodySols, bodyTrace, err := s.proveGoal(st, conditionToGoal(rule.Condition), bindings.New(), depth+1)
		if err != nil {
			return nil, nil, err
		}
		ruleNode := &ProofNode{Goal: ruleName, NodeType: "Rule", RuleName: ruleName, Proven: len(bodySols) > 0}
		if bodyTrace != nil {
			ruleNode.Children = []*ProofNode{bodyTrace}
		}
		children = append(children, ruleNode)
		if len(bodySols) == 0 {
			continue
		}

		premises := premiseKeysFromHandles(matchHandlesForCondition(s.wm, rule.Condition, bodySols[0]))
		if err := s.fireRule(rule, bodySols[0], premises); err != nil {
			return nil, nil, err
		}

		_, newSols, err := matchPattern(p, s.wm, b, st.funcs)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, newSols...)
	}

	node := &ProofNode{Goal: p.TypeName, Proven: len(out) > 0, NodeType: "Fact", Children: children}
	if len(out) > st.maxSolutions {
		out = out[:st.maxSolutions]
	}
	return out, node, nil
}

// fireRule executes the derivation-relevant actions of a candidate rule
// whose condition tree is fully proven, recording the result in the proof
// graph under premises (spec §4.H.6). Only ActionAssertFact and
// ActionLogicalAssert can produce the goal's conclusion fact; the other
// action kinds have no bearing on provability and are skipped here (they
// still run when the same rule fires through the forward-chaining agenda).
func (s *Search) fireRule(rule *kb.Rule, b bindings.Bindings, premises []proof.FactKey) error {
	for _, act := range rule.Actions {
		switch n := act.(type) {
		case kb.ActionAssertFact:
			data, err := evalFields(n.Fields, b, s.funcs)
			if err != nil {
				return err
			}
			s.wm.Insert(n.TypeName, data)
		case kb.ActionLogicalAssert:
			data, err := evalFields(n.Fields, b, s.funcs)
			if err != nil {
				return err
			}
			if _, err := s.proofs.InsertLogical(s.wm, n.TypeName, data, rule.Name, premises); err != nil {
				return err
			}
		}
	}
	return nil
}

func evalFields(fields map[string]expr.Expr, b bindings.Bindings, funcs expr.Funcs) (facts.TypedFacts, error) {
	data := make(facts.TypedFacts, len(fields))
	for name, e := range fields {
		v, err := expr.Evaluate(e, facts.TypedFacts{}, b, funcs)
		if err != nil {
			return nil, err
		}
		data[name] = v
	}
	return data, nil
}

func (s *Search) proveAnd(st *proveState, children []Goal, b bindings.Bindings, depth int) ([]bindings.Bindings, *ProofNode, error) {
	cur := []bindings.Bindings{b}
	var nodes []*ProofNode
	for _, child := range children {
		var next []bindings.Bindings
		for _, cb := range cur {
			if len(next) >= st.maxSolutions {
				break
			}
			sols, node, err := s.proveGoal(st, child, cb, depth+1)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, node)
			next = append(next, sols...)
		}
		cur = next
		if len(cur) == 0 {
			return nil, &ProofNode{Goal: "and", NodeType: "Failed", Children: nodes}, nil
		}
	}
	if len(cur) > st.maxSolutions {
		cur = cur[:st.maxSolutions]
	}
	return cur, &ProofNode{Goal: "and", Proven: true, NodeType: "Fact", Children: nodes}, nil
}

func (s *Search) proveOr(st *proveState, children []Goal, b bindings.Bindings, depth int) ([]bindings.Bindings, *ProofNode, error) {
	var out []bindings.Bindings
	var nodes []*ProofNode
	for _, child := range children {
		if len(out) >= st.maxSolutions {
			break
		}
		sols, node, err := s.proveGoal(st, child, b, depth+1)
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, node)
		out = append(out, sols...)
	}
	if len(out) > st.maxSolutions {
		out = out[:st.maxSolutions]
	}
	return out, &ProofNode{Goal: "or", Proven: len(out) > 0, NodeType: "Fact", Children: nodes}, nil
}

func (s *Search) proveAggregate(st *proveState, n GoalAggregate, b bindings.Bindings) ([]bindings.Bindings, *ProofNode, error) {
	_, matchSols, err := matchPattern(n.Pattern, s.wm, b, st.funcs)
	if err != nil {
		return nil, nil, err
	}
	var values []value.Value
	for _, mb := range matchSols {
		keep := true
		for _, f := range n.Filters {
			ok, err := expr.IsSatisfied(f, facts.TypedFacts{}, mb, st.funcs)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		if n.Pattern.Bind != "" {
			if v, ok := mb.Get(n.Pattern.Bind); ok {
				values = append(values, v)
			}
		}
	}
	result, err := aggregate(n.Aggregator, values)
	if err != nil {
		return nil, nil, err
	}
	if result == nil {
		return nil, &ProofNode{Goal: "accumulate", NodeType: "Failed"}, nil
	}
	extra := bindings.Bindings{n.BindVar: *result}
	merged, ok := bindings.Merge(b, extra)
	if !ok {
		return nil, &ProofNode{Goal: "accumulate", NodeType: "Failed"}, nil
	}
	return []bindings.Bindings{merged}, &ProofNode{Goal: "accumulate", Proven: true, NodeType: "Fact"}, nil
}

// groundKey computes the proof-graph FactKey a pattern would match if every
// field test is a literal equality, so the pattern fully determines the
// fact's content. Returns ok=false for any pattern with a non-equality test
// or a non-literal right-hand side, since those don't pin down one key.
func groundKey(p kb.Pattern) (proof.FactKey, bool) {
	data := make(facts.TypedFacts, len(p.Tests))
	for _, t := range p.Tests {
		if t.Op != value.OpEq {
			return "", false
		}
		lit, ok := t.Expr.(expr.Literal)
		if !ok {
			return "", false
		}
		data[t.Field] = lit.Value
	}
	return proof.KeyOf(p.TypeName, data), true
}

// referencedFields returns every field name a pattern's tests reference,
// for missing-fact reporting when the pattern has no direct support (spec
// §4.H.8).
func referencedFields(p kb.Pattern) []string {
	out := make([]string, len(p.Tests))
	for i, t := range p.Tests {
		out[i] = p.TypeName + "." + t.Field
	}
	return out
}

// premiseKeysFromHandles converts fact handles into their proof-graph keys.
func premiseKeysFromHandles(handles []struct {
	typeName string
	data     facts.TypedFacts
}) []proof.FactKey {
	keys := make([]proof.FactKey, 0, len(handles))
	for _, h := range handles {
		keys = append(keys, proof.KeyOf(h.typeName, h.data))
	}
	return keys
}

// matchHandlesForCondition re-collects the (type, data) pairs a proven
// condition tree actually matched, for premise bookkeeping; it walks the
// condition's patterns and re-resolves each against the solution bindings
// used to prove it.
func matchHandlesForCondition(wm *facts.WorkingMemory, c kb.Condition, b bindings.Bindings) []struct {
	typeName string
	data     facts.TypedFacts
} {
	var out []struct {
		typeName string
		data     facts.TypedFacts
	}
	for _, p := range patternsOf(c) {
		if p.Bind == "" {
			continue
		}
		v, ok := b.Get(p.Bind)
		if !ok || v.Kind() != value.Map {
			continue
		}
		out = append(out, struct {
			typeName string
			data     facts.TypedFacts
		}{typeName: p.TypeName, data: facts.TypedFacts(v.AsMap())})
	}
	return out
}

func patternsOf(c kb.Condition) []kb.Pattern {
	switch n := c.(type) {
	case kb.CondPattern:
		return []kb.Pattern{n.Pattern}
	case kb.CondAnd:
		var out []kb.Pattern
		for _, ch := range n.Children {
			out = append(out, patternsOf(ch)...)
		}
		return out
	case kb.CondOr:
		var out []kb.Pattern
		for _, ch := range n.Children {
			out = append(out, patternsOf(ch)...)
		}
		return out
	case kb.CondNot:
		return patternsOf(n.Child)
	case kb.CondExists:
		return []kb.Pattern{n.Pattern}
	case kb.CondForall:
		return []kb.Pattern{n.Pattern}
	case kb.CondAccumulate:
		return []kb.Pattern{n.Pattern}
	}
	return nil
}

// goalSignature renders a goal to a stable string for cycle detection and
// memoization keys.
func goalSignature(g Goal) string {
	var sb strings.Builder
	writeGoalSig(&sb, g)
	return sb.String()
}

func writeGoalSig(sb *strings.Builder, g Goal) {
	switch n := g.(type) {
	case GoalPattern:
		sb.WriteString("pattern:" + patternSig(n.Pattern))
	case GoalAnd:
		sb.WriteString("and(")
		for i, c := range n.Children {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeGoalSig(sb, c)
		}
		sb.WriteByte(')')
	case GoalOr:
		sb.WriteString("or(")
		for i, c := range n.Children {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeGoalSig(sb, c)
		}
		sb.WriteByte(')')
	case GoalNot:
		sb.WriteString("not(")
		writeGoalSig(sb, n.Child)
		sb.WriteByte(')')
	case GoalWhere:
		sb.WriteString("where(" + patternSig(n.Pattern) + ",")
		writeGoalSig(sb, n.Where)
		sb.WriteByte(')')
	case GoalExists:
		sb.WriteString("exists:" + patternSig(n.Pattern))
	case GoalForall:
		sb.WriteString("forall:" + patternSig(n.Pattern))
	case GoalTest:
		sb.WriteString("test:" + expr.String(n.Expr))
	case GoalAggregate:
		sb.WriteString(fmt.Sprintf("accumulate:%s:%s:%s", patternSig(n.Pattern), n.Aggregator, n.BindVar))
	}
}

func patternSig(p kb.Pattern) string {
	parts := make([]string, len(p.Tests))
	for i, t := range p.Tests {
		parts[i] = fmt.Sprintf("%s%s%s", t.Field, t.Op, expr.String(t.Expr))
	}
	sort.Strings(parts)
	return p.TypeName + "[" + strings.Join(parts, ",") + "]"
}

func bindingsSignature(b bindings.Bindings) string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		v, _ := b.Get(k)
		fmt.Fprintf(&sb, "%s=%s;", k, v.String())
	}
	return sb.String()
}
