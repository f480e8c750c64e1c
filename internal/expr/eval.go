package expr

import (
	"strings"

	"github.com/KSD-CO/rule-engine-go/internal/bindings"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// HostFunc is a host-registered function callable from expressions (the
// extension hook of spec §9).
type HostFunc func(args []value.Value) (value.Value, error)

// Funcs is the host function registry consulted by Call nodes.
type Funcs map[string]HostFunc

// Evaluate evaluates expr against facts and bindings, per spec §4.B.
// Variables resolve against bindings first, then facts; a dotted field
// reference resolves directly against facts (dots are opaque keys, spec §3).
func Evaluate(e Expr, f facts.TypedFacts, b bindings.Bindings, funcs Funcs) (value.Value, error) {
	switch n := e.(type) {
	case Literal:
		return n.Value, nil

	case FieldRef:
		v, ok := f.Get(n.Name)
		if !ok {
			return value.Value{}, rerr.FieldNotFound(n.Name)
		}
		return v, nil

	case Variable:
		head, rest := n.Name, ""
		if i := strings.IndexByte(n.Name, '.'); i >= 0 {
			head, rest = n.Name[:i], n.Name[i+1:]
		}
		if v, ok := b.Get(head); ok {
			if rest == "" {
				return v, nil
			}
			return navigateDotted(v, rest)
		}
		if v, ok := f.Get(n.Name); ok {
			return v, nil
		}
		return value.Value{}, rerr.UnboundVariable(n.Name)

	case Not:
		v, err := Evaluate(n.Operand, f, b, funcs)
		if err != nil {
			return value.Value{}, err
		}
		truthy, err := v.Truthy()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBool(!truthy), nil

	case UnaryMinus:
		v, err := Evaluate(n.Operand, f, b, funcs)
		if err != nil {
			return value.Value{}, err
		}
		switch v.Kind() {
		case value.Int:
			return value.NewInt(-v.AsInt()), nil
		case value.Float:
			return value.NewFloat(-v.AsFloat()), nil
		default:
			return value.Value{}, rerr.TypeMismatch("unary minus requires a numeric operand, got %s", v.Kind())
		}

	case Logical:
		left, err := Evaluate(n.Left, f, b, funcs)
		if err != nil {
			return value.Value{}, err
		}
		leftTruthy, err := left.Truthy()
		if err != nil {
			return value.Value{}, err
		}
		// Short-circuit: spec §4.B.
		if n.Op == "&&" && !leftTruthy {
			return value.NewBool(false), nil
		}
		if n.Op == "||" && leftTruthy {
			return value.NewBool(true), nil
		}
		right, err := Evaluate(n.Right, f, b, funcs)
		if err != nil {
			return value.Value{}, err
		}
		rightTruthy, err := right.Truthy()
		if err != nil {
			return value.Value{}, err
		}
		return value.NewBool(rightTruthy), nil

	case Comparison:
		left, err := Evaluate(n.Left, f, b, funcs)
		if err != nil {
			return value.Value{}, err
		}
		right, err := Evaluate(n.Right, f, b, funcs)
		if err != nil {
			return value.Value{}, err
		}
		return value.Compare(left, n.Op, right)

	case Arithmetic:
		left, err := Evaluate(n.Left, f, b, funcs)
		if err != nil {
			return value.Value{}, err
		}
		right, err := Evaluate(n.Right, f, b, funcs)
		if err != nil {
			return value.Value{}, err
		}
		return value.Arithmetic(left, n.Op, right)

	case Call:
		fn, ok := funcs[n.Name]
		if !ok {
			return value.Value{}, rerr.New(rerr.KindInternalError, "unknown host function %q", n.Name)
		}
		args := make([]value.Value, len(n.Args))
		for i, a := range n.Args {
			v, err := Evaluate(a, f, b, funcs)
			if err != nil {
				return value.Value{}, err
			}
			args[i] = v
		}
		return fn(args)

	default:
		return value.Value{}, rerr.Internal("unknown expression node %T", e)
	}
}

// navigateDotted resolves a dotted field path ("Address.City") against a
// variable already bound to a record (Map-kind Value), per spec §3's
// dotted-field-reference convention.
func navigateDotted(v value.Value, path string) (value.Value, error) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		if cur.Kind() != value.Map {
			return value.Value{}, rerr.TypeMismatch("cannot navigate field %q on non-record value", part)
		}
		m := cur.AsMap()
		next, ok := m[part]
		if !ok {
			return value.Value{}, rerr.FieldNotFound(part)
		}
		cur = next
	}
	return cur, nil
}

// IsSatisfied reports whether expr evaluates to boolean true.
func IsSatisfied(e Expr, f facts.TypedFacts, b bindings.Bindings, funcs Funcs) (bool, error) {
	v, err := Evaluate(e, f, b, funcs)
	if err != nil {
		return false, err
	}
	if v.Kind() != value.Bool {
		return false, nil
	}
	return v.AsBool(), nil
}

// ExtractFields returns every field name referenced anywhere in expr.
func ExtractFields(e Expr) []string {
	var out []string
	walk(e, func(n Expr) {
		if fr, ok := n.(FieldRef); ok {
			out = append(out, fr.Name)
		}
	})
	return out
}

// ExtractVariables returns every variable name referenced anywhere in expr.
func ExtractVariables(e Expr) []string {
	var out []string
	walk(e, func(n Expr) {
		if v, ok := n.(Variable); ok {
			out = append(out, v.Name)
		}
	})
	return out
}

func walk(e Expr, visit func(Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch n := e.(type) {
	case Comparison:
		walk(n.Left, visit)
		walk(n.Right, visit)
	case Logical:
		walk(n.Left, visit)
		walk(n.Right, visit)
	case Arithmetic:
		walk(n.Left, visit)
		walk(n.Right, visit)
	case Not:
		walk(n.Operand, visit)
	case UnaryMinus:
		walk(n.Operand, visit)
	case Call:
		for _, a := range n.Args {
			walk(a, visit)
		}
	}
}

// String renders expr back to GRL-ish source text, used for round-tripping
// (spec R1) and diagnostics.
func String(e Expr) string {
	var sb strings.Builder
	writeExpr(&sb, e)
	return sb.String()
}

func writeExpr(sb *strings.Builder, e Expr) {
	switch n := e.(type) {
	case Literal:
		sb.WriteString(n.Value.String())
	case FieldRef:
		sb.WriteString(n.Name)
	case Variable:
		sb.WriteString("?" + n.Name)
	case Not:
		sb.WriteString("!")
		writeExpr(sb, n.Operand)
	case UnaryMinus:
		sb.WriteString("-")
		writeExpr(sb, n.Operand)
	case Logical:
		sb.WriteString("(")
		writeExpr(sb, n.Left)
		sb.WriteString(" " + n.Op + " ")
		writeExpr(sb, n.Right)
		sb.WriteString(")")
	case Comparison:
		sb.WriteString("(")
		writeExpr(sb, n.Left)
		sb.WriteString(" " + string(n.Op) + " ")
		writeExpr(sb, n.Right)
		sb.WriteString(")")
	case Arithmetic:
		sb.WriteString("(")
		writeExpr(sb, n.Left)
		sb.WriteString(" " + n.Op + " ")
		writeExpr(sb, n.Right)
		sb.WriteString(")")
	case Call:
		sb.WriteString(n.Name + "(")
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeExpr(sb, a)
		}
		sb.WriteString(")")
	}
}
