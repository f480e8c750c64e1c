package expr

import (
	"strconv"

	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

type parser struct {
	lex  *lexer
	cur  token
	text string
}

// Parse parses a boolean/arithmetic expression per spec §4.B.
func Parse(text string) (Expr, error) {
	p := &parser{lex: newLexer(text), text: text}
	if err := p.advance(); err != nil {
		return nil, err
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, rerr.ParseError(p.cur.pos, p.lex.window(p.cur.pos), "unexpected trailing token %q", p.cur.text)
	}
	return e, nil
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

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isPunct("||") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.isPunct("&&") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

var comparisonPuncts = map[string]value.Operator{
	"==": value.OpEq, "!=": value.OpNeq, "<": value.OpLt, "<=": value.OpLte,
	">": value.OpGt, ">=": value.OpGte,
}

var comparisonIdents = map[string]value.Operator{
	"contains": value.OpContains, "startsWith": value.OpStartsWith,
	"endsWith": value.OpEndsWith, "matches": value.OpMatches, "in": value.OpIn,
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokPunct {
		if op, ok := comparisonPuncts[p.cur.text]; ok {
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return Comparison{Op: op, Left: left, Right: right}, nil
		}
	}
	if p.cur.kind == tokIdent {
		if op, ok := comparisonIdents[p.cur.text]; ok {
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return Comparison{Op: op, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = Arithmetic{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Arithmetic{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.isPunct("!") || p.isIdent("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Operand: operand}, nil
	}
	if p.isPunct("-") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryMinus{Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	switch {
	case p.isPunct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.isPunct(")") {
			return nil, rerr.ParseError(p.cur.pos, p.lex.window(p.cur.pos), "expected ')'")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return e, nil

	case p.cur.kind == tokVariable:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Variable{Name: name}, nil

	case p.cur.kind == tokString:
		s := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Literal{Value: value.NewString(s)}, nil

	case p.cur.kind == tokNumber:
		text := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Literal{Value: value.NewInt(i)}, nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, rerr.ParseError(p.cur.pos, p.lex.window(p.cur.pos), "invalid numeric literal %q", text)
		}
		return Literal{Value: value.NewFloat(f)}, nil

	case p.cur.kind == tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch name {
		case "true":
			return Literal{Value: value.NewBool(true)}, nil
		case "false":
			return Literal{Value: value.NewBool(false)}, nil
		case "null":
			return Literal{Value: value.NewNull()}, nil
		}
		if p.isPunct("(") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			var args []Expr
			for !p.isPunct(")") {
				arg, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.isPunct(",") {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			if !p.isPunct(")") {
				return nil, rerr.ParseError(p.cur.pos, p.lex.window(p.cur.pos), "expected ')' to close call to %s", name)
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			return Call{Name: name, Args: args}, nil
		}
		return FieldRef{Name: name}, nil

	default:
		return nil, rerr.ParseError(p.cur.pos, p.lex.window(p.cur.pos), "unexpected token %q", p.cur.text)
	}
}
