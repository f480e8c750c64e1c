// Package value implements the dynamic Value kind used across the
// expression evaluator and knowledge base (spec §3, §4.A): a tagged union
// over string, int64, float64, bool, array, map, and null, with widening
// numeric comparison and structural equality.
//
// The coercion heuristics below (string-to-number-aware comparisons, a
// strict-typed fast path with a fallback) are grounded on
// internal/mangle/engine.go's convertValueToTypedTerm in the teacher repo.
package value

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/KSD-CO/rule-engine-go/internal/rerr"
)

// Kind identifies which variant of the union a Value holds.
type Kind int

const (
	Null Kind = iota
	String
	Int
	Float
	Bool
	Array
	Map
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Array:
		return "array"
	case Map:
		return "map"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged union. Zero value is Null.
type Value struct {
	kind Kind
	str  string
	i    int64
	f    float64
	b    bool
	arr  []Value
	m    map[string]Value
}

func NewNull() Value             { return Value{kind: Null} }
func NewString(s string) Value   { return Value{kind: String, str: s} }
func NewInt(i int64) Value       { return Value{kind: Int, i: i} }
func NewFloat(f float64) Value   { return Value{kind: Float, f: f} }
func NewBool(b bool) Value       { return Value{kind: Bool, b: b} }
func NewArray(vs []Value) Value  { return Value{kind: Array, arr: vs} }
func NewMap(m map[string]Value) Value {
	return Value{kind: Map, m: m}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == Null }
func (v Value) String() string {
	switch v.kind {
	case Null:
		return "null"
	case String:
		return v.str
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(v.b)
	case Array:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Map:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, v.m[k].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return ""
	}
}

// AsString returns the raw string, valid only for Kind()==String.
func (v Value) AsString() string { return v.str }

// AsInt returns the raw int64, valid only for Kind()==Int.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the raw float64, valid only for Kind()==Float.
func (v Value) AsFloat() float64 { return v.f }

// AsBool returns the raw bool, valid only for Kind()==Bool.
func (v Value) AsBool() bool { return v.b }

// AsArray returns the element slice, valid only for Kind()==Array.
func (v Value) AsArray() []Value { return v.arr }

// AsMap returns the field map, valid only for Kind()==Map.
func (v Value) AsMap() map[string]Value { return v.m }

// Truthy implements spec §4.A: booleans are strict. Null coerces to false;
// every other non-bool kind is a TypeMismatch, not a silent truthiness
// heuristic.
func (v Value) Truthy() (bool, error) {
	switch v.kind {
	case Bool:
		return v.b, nil
	case Null:
		return false, nil
	default:
		return false, rerr.TypeMismatch("value of kind %s has no truthiness", v.kind)
	}
}

// Equal implements structural equality; null equals only null.
func (v Value) Equal(other Value) bool {
	if v.kind == Null || other.kind == Null {
		return v.kind == Null && other.kind == Null
	}
	if isNumeric(v.kind) && isNumeric(other.kind) {
		af, _ := asFloat(v)
		bf, _ := asFloat(other)
		return af == bf
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case String:
		return v.str == other.str
	case Bool:
		return v.b == other.b
	case Array:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case Map:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, mv := range v.m {
			ov, ok := other.m[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

func isNumeric(k Kind) bool { return k == Int || k == Float }

func asFloat(v Value) (float64, bool) {
	switch v.kind {
	case Int:
		return float64(v.i), true
	case Float:
		return v.f, true
	default:
		return 0, false
	}
}

// Operator enumerates the field-test / comparison operators of spec §3/§4.A.
type Operator string

const (
	OpEq         Operator = "=="
	OpNeq        Operator = "!="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpMatches    Operator = "matches"
	OpIn         Operator = "in"
)

var regexCache = struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compileCached(pattern string) (*regexp.Regexp, error) {
	regexCache.mu.RLock()
	if re, ok := regexCache.m[pattern]; ok {
		regexCache.mu.RUnlock()
		return re, nil
	}
	regexCache.mu.RUnlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.mu.Lock()
	regexCache.m[pattern] = re
	regexCache.mu.Unlock()
	return re, nil
}

// Compare evaluates `v <op> other` and returns the boolean result as a
// Value. Numeric comparisons widen int to float when kinds differ; string
// supports lexicographic ordering; boolean equality only; arrays/maps
// support equality and contains.
func Compare(v Value, op Operator, other Value) (Value, error) {
	switch op {
	case OpEq:
		return NewBool(v.Equal(other)), nil
	case OpNeq:
		return NewBool(!v.Equal(other)), nil
	case OpLt, OpLte, OpGt, OpGte:
		return compareOrdered(v, op, other)
	case OpContains:
		return compareContains(v, other)
	case OpStartsWith:
		if v.kind != String || other.kind != String {
			return Value{}, rerr.TypeMismatch("startsWith requires strings, got %s/%s", v.kind, other.kind)
		}
		return NewBool(strings.HasPrefix(v.str, other.str)), nil
	case OpEndsWith:
		if v.kind != String || other.kind != String {
			return Value{}, rerr.TypeMismatch("endsWith requires strings, got %s/%s", v.kind, other.kind)
		}
		return NewBool(strings.HasSuffix(v.str, other.str)), nil
	case OpMatches:
		if v.kind != String || other.kind != String {
			return Value{}, rerr.TypeMismatch("matches requires strings, got %s/%s", v.kind, other.kind)
		}
		re, err := compileCached(other.str)
		if err != nil {
			return Value{}, rerr.RegexFailure(other.str, err)
		}
		return NewBool(re.MatchString(v.str)), nil
	case OpIn:
		if other.kind != Array {
			return Value{}, rerr.TypeMismatch("in requires an array operand, got %s", other.kind)
		}
		for _, e := range other.arr {
			if v.Equal(e) {
				return NewBool(true), nil
			}
		}
		return NewBool(false), nil
	default:
		return Value{}, rerr.TypeMismatch("unknown operator %q", op)
	}
}

func compareOrdered(v Value, op Operator, other Value) (Value, error) {
	var cmp int
	switch {
	case isNumeric(v.kind) && isNumeric(other.kind):
		af, _ := asFloat(v)
		bf, _ := asFloat(other)
		switch {
		case af < bf:
			cmp = -1
		case af > bf:
			cmp = 1
		default:
			cmp = 0
		}
	case v.kind == String && other.kind == String:
		cmp = strings.Compare(v.str, other.str)
	default:
		return Value{}, rerr.TypeMismatch("cannot order kind %s against %s", v.kind, other.kind)
	}

	switch op {
	case OpLt:
		return NewBool(cmp < 0), nil
	case OpLte:
		return NewBool(cmp <= 0), nil
	case OpGt:
		return NewBool(cmp > 0), nil
	case OpGte:
		return NewBool(cmp >= 0), nil
	}
	return Value{}, rerr.Internal("compareOrdered: unreachable operator %q", op)
}

func compareContains(v Value, other Value) (Value, error) {
	switch v.kind {
	case Array:
		for _, e := range v.arr {
			if e.Equal(other) {
				return NewBool(true), nil
			}
		}
		return NewBool(false), nil
	case String:
		if other.kind != String {
			return Value{}, rerr.TypeMismatch("contains on a string requires a string operand, got %s", other.kind)
		}
		return NewBool(strings.Contains(v.str, other.str)), nil
	case Map:
		_, ok := v.m[other.String()]
		return NewBool(ok), nil
	default:
		return Value{}, rerr.TypeMismatch("contains is not defined for kind %s", v.kind)
	}
}

// Arithmetic applies +,-,*,/,% with integer->float widening on mixed
// operands, per spec §4.B.
func Arithmetic(a Value, op string, b Value) (Value, error) {
	if !isNumeric(a.kind) || !isNumeric(b.kind) {
		return Value{}, rerr.TypeMismatch("arithmetic requires numeric operands, got %s/%s", a.kind, b.kind)
	}
	if a.kind == Int && b.kind == Int {
		switch op {
		case "+":
			return NewInt(a.i + b.i), nil
		case "-":
			return NewInt(a.i - b.i), nil
		case "*":
			return NewInt(a.i * b.i), nil
		case "/":
			if b.i == 0 {
				return Value{}, rerr.DivisionByZero()
			}
			if a.i%b.i == 0 {
				return NewInt(a.i / b.i), nil
			}
			return NewFloat(float64(a.i) / float64(b.i)), nil
		case "%":
			if b.i == 0 {
				return Value{}, rerr.DivisionByZero()
			}
			return NewInt(a.i % b.i), nil
		}
		return Value{}, rerr.TypeMismatch("unknown arithmetic operator %q", op)
	}

	af, _ := asFloat(a)
	bf, _ := asFloat(b)
	switch op {
	case "+":
		return NewFloat(af + bf), nil
	case "-":
		return NewFloat(af - bf), nil
	case "*":
		return NewFloat(af * bf), nil
	case "/":
		if bf == 0 {
			return Value{}, rerr.DivisionByZero()
		}
		return NewFloat(af / bf), nil
	case "%":
		if bf == 0 {
			return Value{}, rerr.DivisionByZero()
		}
		return NewFloat(float64(int64(af) % int64(bf))), nil
	}
	return Value{}, rerr.TypeMismatch("unknown arithmetic operator %q", op)
}
