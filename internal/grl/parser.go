package grl

import (
	"strconv"
	"strings"
	"time"

	"github.com/KSD-CO/rule-engine-go/internal/backward"
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// RuleDecl is one parsed "rule" block, module-unassigned until AssignModules
// (folded into Parse) fills in Module by comment proximity.
type RuleDecl struct {
	Name        string
	Description string
	Line        int
	Attrs       kb.Attributes
	Condition   kb.Condition
	Actions     []kb.Action
	Module      string
}

// QueryDecl is one parsed "query" block (spec §4.C/§6).
type QueryDecl struct {
	Name  string
	Line  int
	Query backward.Query
}

// ModuleDecl is one parsed "defmodule" block.
type ModuleDecl struct {
	Name    string
	Line    int
	Exports []string
	Imports []string
}

// ParseResult is everything one GRL source document produces.
type ParseResult struct {
	Rules   []RuleDecl
	Queries []QueryDecl
	Modules []ModuleDecl
}

type parser struct {
	lex      *lexer
	cur      token
	src      []rune
	varTypes map[string]string // current rule's bound-variable -> pattern type name
}

// Parse parses a GRL source document (spec §4.C grammar) and assigns each
// rule's Module field by the `;; MODULE: NAME` comment-proximity convention.
func Parse(source string) (*ParseResult, error) {
	p := &parser{lex: newLexer(source), src: []rune(source)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	res := &ParseResult{}
	for p.cur.kind != tokEOF {
		switch {
		case p.isIdent("defmodule"):
			md, err := p.parseModuleDef()
			if err != nil {
				return nil, err
			}
			res.Modules = append(res.Modules, md)
		case p.isIdent("rule"):
			rd, err := p.parseRule()
			if err != nil {
				return nil, err
			}
			res.Rules = append(res.Rules, rd)
		case p.isIdent("query"):
			qd, err := p.parseQuery()
			if err != nil {
				return nil, err
			}
			res.Queries = append(res.Queries, qd)
		default:
			return nil, rerr.ParseError(p.cur.pos, p.window(), "expected 'rule', 'query', or 'defmodule', got %q", p.cur.text)
		}
	}

	assignModules(source, res.Rules)
	return res, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) isPunct(s string) bool { return p.cur.kind == tokPunct && p.cur.text == s }
func (p *parser) isIdent(s string) bool { return p.cur.kind == tokIdent && p.cur.text == s }

func (p *parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return rerr.ParseError(p.cur.pos, p.window(), "expected %q, got %q", s, p.cur.text)
	}
	return p.advance()
}

func (p *parser) expectIdent(s string) error {
	if !p.isIdent(s) {
		return rerr.ParseError(p.cur.pos, p.window(), "expected %q, got %q", s, p.cur.text)
	}
	return p.advance()
}

func (p *parser) expectString() (string, error) {
	if p.cur.kind != tokString {
		return "", rerr.ParseError(p.cur.pos, p.window(), "expected string literal, got %q", p.cur.text)
	}
	s := p.cur.text
	return s, p.advance()
}

func (p *parser) expectInt() (int, error) {
	if p.cur.kind != tokNumber {
		return 0, rerr.ParseError(p.cur.pos, p.window(), "expected integer, got %q", p.cur.text)
	}
	n, err := strconv.Atoi(p.cur.text)
	if err != nil {
		return 0, rerr.ParseError(p.cur.pos, p.window(), "invalid integer %q", p.cur.text)
	}
	return n, p.advance()
}

func (p *parser) expectBool() (bool, error) {
	if p.cur.kind != tokIdent || (p.cur.text != "true" && p.cur.text != "false") {
		return false, rerr.ParseError(p.cur.pos, p.window(), "expected boolean, got %q", p.cur.text)
	}
	b := p.cur.text == "true"
	return b, p.advance()
}

func (p *parser) window() string {
	return windowAt(p.src, p.cur.pos)
}

func windowAt(src []rune, pos int) string {
	lo := pos - 16
	if lo < 0 {
		lo = 0
	}
	hi := pos + 16
	if hi > len(src) {
		hi = len(src)
	}
	return string(src[lo:hi])
}

// ---- defmodule ----

func (p *parser) parseModuleDef() (ModuleDecl, error) {
	line := p.cur.line
	if err := p.advance(); err != nil { // consume 'defmodule'
		return ModuleDecl{}, err
	}
	if p.cur.kind != tokIdent {
		return ModuleDecl{}, rerr.ParseError(p.cur.pos, p.window(), "expected module name")
	}
	name := p.cur.text
	if err := p.advance(); err != nil {
		return ModuleDecl{}, err
	}
	if err := p.expectPunct("{"); err != nil {
		return ModuleDecl{}, err
	}

	md := ModuleDecl{Name: name, Line: line}
	for !p.isPunct("}") {
		switch {
		case p.isIdent("export"):
			if err := p.advance(); err != nil {
				return ModuleDecl{}, err
			}
			if err := p.expectPunct(":"); err != nil {
				return ModuleDecl{}, err
			}
			for {
				s, err := p.expectString()
				if err != nil {
					return ModuleDecl{}, err
				}
				md.Exports = append(md.Exports, s)
				if p.isPunct(",") {
					if err := p.advance(); err != nil {
						return ModuleDecl{}, err
					}
					continue
				}
				break
			}
			if err := p.expectPunct(";"); err != nil {
				return ModuleDecl{}, err
			}
		case p.isIdent("import"):
			if err := p.advance(); err != nil {
				return ModuleDecl{}, err
			}
			if err := p.expectPunct(":"); err != nil {
				return ModuleDecl{}, err
			}
			if p.cur.kind != tokIdent {
				return ModuleDecl{}, rerr.ParseError(p.cur.pos, p.window(), "expected module name in import list")
			}
			md.Imports = append(md.Imports, p.cur.text)
			if err := p.advance(); err != nil {
				return ModuleDecl{}, err
			}
			if err := p.expectPunct(";"); err != nil {
				return ModuleDecl{}, err
			}
		default:
			return ModuleDecl{}, rerr.ParseError(p.cur.pos, p.window(), "expected 'export:' or 'import:' in module body")
		}
	}
	if err := p.advance(); err != nil { // consume '}'
		return ModuleDecl{}, err
	}
	return md, nil
}

// ---- rule ----

func (p *parser) parseRule() (RuleDecl, error) {
	line := p.cur.line
	if err := p.advance(); err != nil { // consume 'rule'
		return RuleDecl{}, err
	}
	name, err := p.expectString()
	if err != nil {
		return RuleDecl{}, err
	}

	rd := RuleDecl{Name: name, Line: line, Attrs: kb.DefaultAttributes()}

	if p.cur.kind == tokString {
		rd.Description = p.cur.text
		if err := p.advance(); err != nil {
			return RuleDecl{}, err
		}
	}

	for !p.isPunct("{") {
		if err := p.parseRuleAttr(&rd); err != nil {
			return RuleDecl{}, err
		}
	}
	if err := p.expectPunct("{"); err != nil {
		return RuleDecl{}, err
	}
	if err := p.expectIdent("when"); err != nil {
		return RuleDecl{}, err
	}

	cond, err := p.parseCondOr()
	if err != nil {
		return RuleDecl{}, err
	}
	rd.Condition = cond
	p.varTypes = collectVarTypes(cond)

	if err := p.expectIdent("then"); err != nil {
		return RuleDecl{}, err
	}
	actions, err := p.parseActions()
	if err != nil {
		return RuleDecl{}, err
	}
	rd.Actions = actions
	p.varTypes = nil

	if err := p.expectPunct("}"); err != nil {
		return RuleDecl{}, err
	}
	return rd, nil
}

func (p *parser) parseRuleAttr(rd *RuleDecl) error {
	switch {
	case p.isIdent("salience"):
		if err := p.advance(); err != nil {
			return err
		}
		n, err := p.expectInt()
		if err != nil {
			return err
		}
		rd.Attrs.Salience = n
	case p.isIdent("no-loop"):
		if err := p.advance(); err != nil {
			return err
		}
		b, err := p.expectBool()
		if err != nil {
			return err
		}
		rd.Attrs.NoLoop = b
	case p.isIdent("agenda-group"):
		if err := p.advance(); err != nil {
			return err
		}
		s, err := p.expectString()
		if err != nil {
			return err
		}
		rd.Attrs.AgendaGroup = s
	case p.isIdent("activation-group"):
		if err := p.advance(); err != nil {
			return err
		}
		s, err := p.expectString()
		if err != nil {
			return err
		}
		rd.Attrs.ActivationGroup = s
	case p.isIdent("lock-on-active"):
		if err := p.advance(); err != nil {
			return err
		}
		b, err := p.expectBool()
		if err != nil {
			return err
		}
		rd.Attrs.LockOnActive = b
	case p.isIdent("auto-focus"):
		if err := p.advance(); err != nil {
			return err
		}
		b, err := p.expectBool()
		if err != nil {
			return err
		}
		rd.Attrs.AutoFocus = b
	case p.isIdent("date-effective"):
		if err := p.advance(); err != nil {
			return err
		}
		s, err := p.expectString()
		if err != nil {
			return err
		}
		t, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			return rerr.ParseError(p.cur.pos, p.window(), "invalid date-effective %q: %v", s, perr)
		}
		rd.Attrs.DateEffective = &t
	case p.isIdent("date-expires"):
		if err := p.advance(); err != nil {
			return err
		}
		s, err := p.expectString()
		if err != nil {
			return err
		}
		t, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			return rerr.ParseError(p.cur.pos, p.window(), "invalid date-expires %q: %v", s, perr)
		}
		rd.Attrs.DateExpires = &t
	default:
		return rerr.ParseError(p.cur.pos, p.window(), "unexpected rule attribute %q", p.cur.text)
	}
	return nil
}

// ---- condition tree (when) ----

func (p *parser) parseCondOr() (kb.Condition, error) {
	left, err := p.parseCondAnd()
	if err != nil {
		return nil, err
	}
	children := []kb.Condition{left}
	for p.isPunct("||") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseCondAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return kb.CondOr{Children: children}, nil
}

func (p *parser) parseCondAnd() (kb.Condition, error) {
	left, err := p.parseCondNot()
	if err != nil {
		return nil, err
	}
	children := []kb.Condition{left}
	for p.isPunct("&&") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseCondNot()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return kb.CondAnd{Children: children}, nil
}

func (p *parser) parseCondNot() (kb.Condition, error) {
	if p.isPunct("!") || p.isIdent("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseCondPrimary()
		if err != nil {
			return nil, err
		}
		return kb.CondNot{Child: inner}, nil
	}
	return p.parseCondPrimary()
}

func (p *parser) parseCondPrimary() (kb.Condition, error) {
	switch {
	case p.isPunct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseCondOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil

	case p.isIdent("exists"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return kb.CondExists{Pattern: pat}, nil

	case p.isIdent("forall"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return kb.CondForall{Pattern: pat}, nil

	case p.isIdent("test"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		e, err := p.captureExpr(stopAtCloseParen)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return kb.CondTest{Expr: e}, nil

	case p.isIdent("accumulate"):
		return p.parseCondAccumulate()

	case p.cur.kind == tokIdent:
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		return kb.CondPattern{Pattern: pat}, nil

	default:
		return nil, rerr.ParseError(p.cur.pos, p.window(), "unexpected token %q in condition", p.cur.text)
	}
}

func (p *parser) parseCondAccumulate() (kb.Condition, error) {
	if err := p.advance(); err != nil { // consume 'accumulate'
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	pat, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	agg, err := p.expectAggregator()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectIdent("as"); err != nil {
		return nil, err
	}
	bindVar, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	return kb.CondAccumulate{Pattern: pat, Aggregator: agg, BindVar: bindVar}, nil
}

var aggKeywords = map[string]kb.Aggregator{
	"count": kb.AggCount, "sum": kb.AggSum, "avg": kb.AggAvg,
	"min": kb.AggMin, "max": kb.AggMax, "first": kb.AggFirst, "last": kb.AggLast,
}

func (p *parser) expectAggregator() (kb.Aggregator, error) {
	if p.cur.kind != tokIdent {
		return "", rerr.ParseError(p.cur.pos, p.window(), "expected aggregator name")
	}
	agg, ok := aggKeywords[p.cur.text]
	if !ok {
		return "", rerr.ParseError(p.cur.pos, p.window(), "unknown aggregator %q", p.cur.text)
	}
	return agg, p.advance()
}

func (p *parser) expectVariable() (string, error) {
	if p.cur.kind != tokVariable {
		return "", rerr.ParseError(p.cur.pos, p.window(), "expected variable, got %q", p.cur.text)
	}
	v := p.cur.text
	return v, p.advance()
}

// ---- pattern ----

var patternCompareOps = map[string]value.Operator{
	"==": value.OpEq, "!=": value.OpNeq, "<": value.OpLt, "<=": value.OpLte,
	">": value.OpGt, ">=": value.OpGte,
}

var patternCompareIdents = map[string]value.Operator{
	"contains": value.OpContains, "startsWith": value.OpStartsWith,
	"endsWith": value.OpEndsWith, "matches": value.OpMatches, "in": value.OpIn,
}

func (p *parser) parsePattern() (kb.Pattern, error) {
	if p.cur.kind != tokIdent {
		return kb.Pattern{}, rerr.ParseError(p.cur.pos, p.window(), "expected type name in pattern, got %q", p.cur.text)
	}
	typeName := p.cur.text
	if err := p.advance(); err != nil {
		return kb.Pattern{}, err
	}
	if err := p.expectPunct("("); err != nil {
		return kb.Pattern{}, err
	}

	var tests []kb.FieldTest
	for !p.isPunct(")") {
		ft, err := p.parseFieldTest()
		if err != nil {
			return kb.Pattern{}, err
		}
		tests = append(tests, ft)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return kb.Pattern{}, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return kb.Pattern{}, err
	}

	pat := kb.Pattern{TypeName: typeName, Tests: tests}
	if p.isIdent("as") {
		if err := p.advance(); err != nil {
			return kb.Pattern{}, err
		}
		v, err := p.expectVariable()
		if err != nil {
			return kb.Pattern{}, err
		}
		pat.Bind = v
	}
	return pat, nil
}

func (p *parser) parseFieldTest() (kb.FieldTest, error) {
	if p.cur.kind != tokIdent {
		return kb.FieldTest{}, rerr.ParseError(p.cur.pos, p.window(), "expected field name, got %q", p.cur.text)
	}
	field := p.cur.text
	if err := p.advance(); err != nil {
		return kb.FieldTest{}, err
	}

	var op value.Operator
	switch {
	case p.cur.kind == tokPunct:
		o, ok := patternCompareOps[p.cur.text]
		if !ok {
			return kb.FieldTest{}, rerr.ParseError(p.cur.pos, p.window(), "expected comparison operator, got %q", p.cur.text)
		}
		op = o
	case p.cur.kind == tokIdent:
		o, ok := patternCompareIdents[p.cur.text]
		if !ok {
			return kb.FieldTest{}, rerr.ParseError(p.cur.pos, p.window(), "expected comparison operator, got %q", p.cur.text)
		}
		op = o
	default:
		return kb.FieldTest{}, rerr.ParseError(p.cur.pos, p.window(), "expected comparison operator, got %q", p.cur.text)
	}
	if err := p.advance(); err != nil {
		return kb.FieldTest{}, err
	}

	e, err := p.captureExpr(stopAtCommaOrCloseParen)
	if err != nil {
		return kb.FieldTest{}, err
	}
	return kb.FieldTest{Field: field, Op: op, Expr: e}, nil
}

// ---- actions (then) ----

func (p *parser) parseActions() ([]kb.Action, error) {
	var actions []kb.Action
	for !p.isPunct("}") {
		a, err := p.parseAction()
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

func (p *parser) parseActionBlock() ([]kb.Action, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	actions, err := p.parseActions()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return actions, nil
}

func (p *parser) parseAction() (kb.Action, error) {
	switch {
	case p.isIdent("retract"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		v, err := p.expectVariable()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return kb.ActionRetractFact{HandleVar: v}, nil

	case p.isIdent("assert"), p.isIdent("assert_logical"):
		logical := p.isIdent("assert_logical")
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.kind != tokIdent {
			return nil, rerr.ParseError(p.cur.pos, p.window(), "expected type name after 'assert'")
		}
		typeName := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		fields, err := p.parseFieldAssignList()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		if logical {
			return kb.ActionLogicalAssert{TypeName: typeName, Fields: fields}, nil
		}
		return kb.ActionAssertFact{TypeName: typeName, Fields: fields}, nil

	case p.isIdent("set"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		key, err := p.expectString()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		e, err := p.captureExpr(stopAtSemicolon)
		if err != nil {
			return nil, err
		}
		return kb.ActionSetWorkflowData{Key: key, Value: e}, nil

	case p.isIdent("focus"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		g, err := p.expectString()
		if err != nil {
			return nil, err
		}
		return kb.ActionFocusAgendaGroup{Group: g}, nil

	case p.cur.kind == tokVariable:
		target := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		e, err := p.captureExpr(stopAtSemicolon)
		if err != nil {
			return nil, err
		}
		return kb.ActionAssignField{Target: p.resolveTarget(target), Value: e}, nil

	case p.cur.kind == tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var args []expr.Expr
		for !p.isPunct(")") {
			e, err := p.captureExpr(stopAtCommaOrCloseParen)
			if err != nil {
				return nil, err
			}
			args = append(args, e)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return kb.ActionCallFunction{Name: name, Args: args}, nil

	default:
		return nil, rerr.ParseError(p.cur.pos, p.window(), "unexpected token %q in action", p.cur.text)
	}
}

func (p *parser) parseFieldAssignList() (map[string]expr.Expr, error) {
	fields := make(map[string]expr.Expr)
	for !p.isPunct(")") {
		if p.cur.kind != tokIdent {
			return nil, rerr.ParseError(p.cur.pos, p.window(), "expected field name")
		}
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		e, err := p.captureExpr(stopAtCommaOrCloseParen)
		if err != nil {
			return nil, err
		}
		fields[name] = e
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return fields, nil
}

// resolveTarget turns a parsed "$var.Field" assignment target into the
// conclusion index's dotted "TypeName.Field" form, per spec §4.D, using the
// bound-variable->type map collected from the rule's own condition tree. A
// variable the condition never bound (or a bare dotted identifier) passes
// through unchanged.
func (p *parser) resolveTarget(varText string) string {
	name, field, ok := strings.Cut(varText, ".")
	if !ok {
		return varText
	}
	if typeName, found := p.varTypes[name]; found && typeName != "" {
		return typeName + "." + field
	}
	return varText
}

func collectVarTypes(c kb.Condition) map[string]string {
	out := map[string]string{}
	var walk func(kb.Condition)
	walk = func(c kb.Condition) {
		switch n := c.(type) {
		case kb.CondPattern:
			if n.Pattern.Bind != "" {
				out[n.Pattern.Bind] = n.Pattern.TypeName
			}
		case kb.CondExists:
			if n.Pattern.Bind != "" {
				out[n.Pattern.Bind] = n.Pattern.TypeName
			}
		case kb.CondForall:
			if n.Pattern.Bind != "" {
				out[n.Pattern.Bind] = n.Pattern.TypeName
			}
		case kb.CondAccumulate:
			if n.BindVar != "" {
				out[n.BindVar] = n.Pattern.TypeName
			}
		case kb.CondAnd:
			for _, ch := range n.Children {
				walk(ch)
			}
		case kb.CondOr:
			for _, ch := range n.Children {
				walk(ch)
			}
		case kb.CondNot:
			walk(n.Child)
		}
	}
	walk(c)
	return out
}

// ---- query ----

func (p *parser) parseQuery() (QueryDecl, error) {
	line := p.cur.line
	if err := p.advance(); err != nil { // consume 'query'
		return QueryDecl{}, err
	}
	name, err := p.expectString()
	if err != nil {
		return QueryDecl{}, err
	}
	if err := p.expectPunct("{"); err != nil {
		return QueryDecl{}, err
	}
	if err := p.expectIdent("goal"); err != nil {
		return QueryDecl{}, err
	}
	if err := p.expectPunct(":"); err != nil {
		return QueryDecl{}, err
	}

	goal, err := p.parseGoalOr()
	if err != nil {
		return QueryDecl{}, err
	}

	q := backward.DefaultQuery(goal)
	q.Name = name
	for !p.isPunct("}") {
		if err := p.parseQueryAttr(&q); err != nil {
			return QueryDecl{}, err
		}
	}
	if err := p.expectPunct("}"); err != nil {
		return QueryDecl{}, err
	}
	return QueryDecl{Name: name, Line: line, Query: q}, nil
}

func (p *parser) parseGoalOr() (backward.Goal, error) {
	left, err := p.parseGoalAnd()
	if err != nil {
		return nil, err
	}
	children := []backward.Goal{left}
	for p.isIdent("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseGoalAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return backward.GoalOr{Children: children}, nil
}

func (p *parser) parseGoalAnd() (backward.Goal, error) {
	left, err := p.parseGoalAtom()
	if err != nil {
		return nil, err
	}
	children := []backward.Goal{left}
	for p.isIdent("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseGoalAtom()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return backward.GoalAnd{Children: children}, nil
}

func (p *parser) parseGoalAtom() (backward.Goal, error) {
	switch {
	case p.isIdent("NOT"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseGoalAtom()
		if err != nil {
			return nil, err
		}
		return backward.GoalNot{Child: inner}, nil

	case p.isPunct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseGoalOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil

	case p.isIdent("exists"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return backward.GoalExists{Pattern: pat}, nil

	case p.isIdent("forall"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return backward.GoalForall{Pattern: pat}, nil

	case p.isIdent("test"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		e, err := p.captureExpr(stopAtCloseParen)
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return backward.GoalTest{Expr: e}, nil

	case p.isIdent("accumulate"):
		return p.parseGoalAccumulate()

	case p.cur.kind == tokIdent:
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		if p.isIdent("WHERE") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			where, err := p.parseGoalOr()
			if err != nil {
				return nil, err
			}
			return backward.GoalWhere{Pattern: pat, Where: where}, nil
		}
		return backward.GoalPattern{Pattern: pat}, nil

	default:
		return nil, rerr.ParseError(p.cur.pos, p.window(), "unexpected token %q in goal", p.cur.text)
	}
}

func (p *parser) parseGoalAccumulate() (backward.Goal, error) {
	if err := p.advance(); err != nil { // consume 'accumulate'
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	pat, err := p.parsePattern()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	agg, err := p.expectAggregator()
	if err != nil {
		return nil, err
	}
	var filters []expr.Expr
	for p.isPunct(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		f, err := p.captureExpr(stopAtCommaOrCloseParen)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectIdent("as"); err != nil {
		return nil, err
	}
	bindVar, err := p.expectVariable()
	if err != nil {
		return nil, err
	}
	return backward.GoalAggregate{Pattern: pat, Aggregator: agg, BindVar: bindVar, Filters: filters}, nil
}

func (p *parser) parseQueryAttr(q *backward.Query) error {
	switch {
	case p.isIdent("strategy"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		s, err := p.expectString()
		if err != nil {
			return err
		}
		q.Strategy = backward.Strategy(s)

	case p.isIdent("max-depth"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		n, err := p.expectInt()
		if err != nil {
			return err
		}
		q.MaxDepth = n

	case p.isIdent("max-solutions"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		n, err := p.expectInt()
		if err != nil {
			return err
		}
		q.MaxSolutions = n

	case p.isIdent("enable-memoization"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		b, err := p.expectBool()
		if err != nil {
			return err
		}
		q.EnableMemoization = b

	case p.isIdent("enable-optimization"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		b, err := p.expectBool()
		if err != nil {
			return err
		}
		q.EnableOptimization = b

	case p.isIdent("on-success"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		actions, err := p.parseActionBlock()
		if err != nil {
			return err
		}
		q.OnSuccess = actions

	case p.isIdent("on-failure"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		actions, err := p.parseActionBlock()
		if err != nil {
			return err
		}
		q.OnFailure = actions

	case p.isIdent("on-missing"):
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		actions, err := p.parseActionBlock()
		if err != nil {
			return err
		}
		q.OnMissing = actions

	default:
		return rerr.ParseError(p.cur.pos, p.window(), "unknown query attribute %q", p.cur.text)
	}
	return nil
}

// ---- expression capture ----

// stopPredicate decides whether the parser has reached the end of an
// embedded expression, given the lookahead token and the current
// parenthesis depth relative to where capture began.
type stopPredicate func(t token, depth int) bool

func stopAtCloseParen(t token, depth int) bool {
	return depth == 0 && t.kind == tokPunct && t.text == ")"
}

func stopAtCommaOrCloseParen(t token, depth int) bool {
	return depth == 0 && t.kind == tokPunct && (t.text == "," || t.text == ")")
}

func stopAtSemicolon(t token, depth int) bool {
	return depth == 0 && t.kind == tokPunct && t.text == ";"
}

// captureExpr consumes tokens up to (not including) the first token at
// bracket-depth 0 that stop accepts, then hands the covered source span to
// internal/expr.Parse. This reuses expr's full operator-precedence parser
// for every inline expression GRL embeds, instead of re-implementing
// precedence climbing a second time in this package.
func (p *parser) captureExpr(stop stopPredicate) (expr.Expr, error) {
	start := p.cur.pos
	depth := 0
	for p.cur.kind != tokEOF && !stop(p.cur, depth) {
		if p.cur.kind == tokPunct {
			switch p.cur.text {
			case "(":
				depth++
			case ")":
				if depth > 0 {
					depth--
				}
			}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	end := p.cur.pos
	if p.cur.kind == tokEOF {
		end = len(p.src)
	}
	text := strings.TrimSpace(string(p.src[start:end]))
	if text == "" {
		return nil, rerr.ParseError(start, windowAt(p.src, start), "expected expression")
	}
	return expr.Parse(text)
}
