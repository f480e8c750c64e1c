// Package expr implements the expression AST and evaluator of spec §4.B:
// a recursive-descent parser with the operator-precedence ladder
// `||` < `&&` < comparisons < additive < multiplicative < unary, and an
// evaluator that short-circuits && / || and widens int->float on mixed
// arithmetic.
//
// The parser shape (rune scanner, token peek/next, precedence-climbing
// binary parsing) is grounded on internal/mangle/grammar.go in the teacher,
// generalized from Mangle/Datalog clause syntax to this engine's boolean/
// arithmetic expression language.
package expr

import "github.com/KSD-CO/rule-engine-go/internal/value"

// Expr is the closed set of expression AST node kinds (spec §3, §9:
// "model as a tagged variant over the closed set").
type Expr interface{ exprNode() }

// Literal is a constant value.
type Literal struct{ Value value.Value }

// FieldRef is a (possibly dotted) field reference, evaluated against facts.
type FieldRef struct{ Name string }

// Variable is a `?name` or `$name` reference, evaluated against bindings
// first and facts second (spec §4.B).
type Variable struct{ Name string }

// Comparison is a binary comparison producing a boolean.
type Comparison struct {
	Op          value.Operator
	Left, Right Expr
}

// Logical is `&&` or `||`.
type Logical struct {
	Op          string // "&&" or "||"
	Left, Right Expr
}

// Not is unary boolean negation.
type Not struct{ Operand Expr }

// Arithmetic is `+ - * / %`.
type Arithmetic struct {
	Op          string
	Left, Right Expr
}

// UnaryMinus is unary numeric negation.
type UnaryMinus struct{ Operand Expr }

// Call is a host function invocation, the extension hook of spec §9.
type Call struct {
	Name string
	Args []Expr
}

func (Literal) exprNode()    {}
func (FieldRef) exprNode()   {}
func (Variable) exprNode()   {}
func (Comparison) exprNode() {}
func (Logical) exprNode()   {}
func (Not) exprNode()        {}
func (Arithmetic) exprNode() {}
func (UnaryMinus) exprNode() {}
func (Call) exprNode()       {}
