// Package rerr defines the error taxonomy shared by every inference-core
// component (spec §6). Errors are always typed return values, never panics.
package rerr

import "fmt"

// Kind identifies which entry of the error taxonomy an Error represents.
type Kind string

const (
	KindParseError          Kind = "ParseError"
	KindUnknownRule         Kind = "UnknownRule"
	KindUnknownHandle       Kind = "UnknownHandle"
	KindUnknownField        Kind = "UnknownField"
	KindValidationError     Kind = "ValidationError"
	KindCyclicImport        Kind = "CyclicImport"
	KindTypeMismatch        Kind = "TypeMismatch"
	KindFieldNotFound       Kind = "FieldNotFound"
	KindUnboundVariable     Kind = "UnboundVariable"
	KindDivisionByZero      Kind = "DivisionByZero"
	KindRegexFailure        Kind = "RegexFailure"
	KindMaxCyclesExceeded   Kind = "MaxCyclesExceeded"
	KindMaxDepthExceeded    Kind = "MaxDepthExceeded"
	KindUnprovable          Kind = "Unprovable"
	KindCancelledByHost     Kind = "CancelledByHost"
	KindInternalError       Kind = "InternalError"
)

// Error is the concrete type returned for every taxonomy entry. Callers that
// need to branch on kind use errors.As and inspect Kind; callers that only
// want a message can treat it as a plain error.
type Error struct {
	Kind    Kind
	Message string
	// Context carries kind-specific diagnostic data: a source position for
	// ParseError, a handle for UnknownHandle, an import chain for
	// CyclicImport, and so on. Left untyped so every component can attach
	// what's useful without a combinatorial explosion of Error subtypes.
	Context map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func new_(kind Kind, msg string, ctx map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Context: ctx}
}

func New(kind Kind, format string, args ...any) *Error {
	return new_(kind, fmt.Sprintf(format, args...), nil)
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	e := new_(kind, fmt.Sprintf(format, args...), nil)
	e.Wrapped = err
	return e
}

func WithContext(kind Kind, ctx map[string]any, format string, args ...any) *Error {
	return new_(kind, fmt.Sprintf(format, args...), ctx)
}

// ParseError builds a §4.B/§4.C parse error carrying position and a window
// of surrounding source, as required by spec §7.
func ParseError(pos int, window, format string, args ...any) *Error {
	return WithContext(KindParseError, map[string]any{
		"position": pos,
		"context":  window,
	}, format, args...)
}

func TypeMismatch(format string, args ...any) *Error {
	return New(KindTypeMismatch, format, args...)
}

func FieldNotFound(field string) *Error {
	return WithContext(KindFieldNotFound, map[string]any{"field": field}, "field not found: %s", field)
}

func UnboundVariable(name string) *Error {
	return WithContext(KindUnboundVariable, map[string]any{"variable": name}, "unbound variable: %s", name)
}

func DivisionByZero() *Error {
	return New(KindDivisionByZero, "division by zero")
}

func RegexFailure(pattern string, err error) *Error {
	return Wrap(KindRegexFailure, err, "invalid regular expression %q", pattern)
}

func UnknownHandle(handle uint64) *Error {
	return WithContext(KindUnknownHandle, map[string]any{"handle": handle}, "unknown fact handle: %d", handle)
}

func UnknownRule(name string) *Error {
	return WithContext(KindUnknownRule, map[string]any{"rule": name}, "unknown rule: %s", name)
}

func UnknownField(name string) *Error {
	return WithContext(KindUnknownField, map[string]any{"field": name}, "unknown field: %s", name)
}

func ValidationError(format string, args ...any) *Error {
	return New(KindValidationError, format, args...)
}

func CyclicImport(chain []string) *Error {
	return WithContext(KindCyclicImport, map[string]any{"chain": chain}, "cyclic import: %v", chain)
}

func MaxCyclesExceeded(cycles int) *Error {
	return WithContext(KindMaxCyclesExceeded, map[string]any{"cycles": cycles}, "max cycles exceeded: %d", cycles)
}

func MaxDepthExceeded(depth int) *Error {
	return WithContext(KindMaxDepthExceeded, map[string]any{"depth": depth}, "max depth exceeded: %d", depth)
}

func Unprovable(goal string) *Error {
	return WithContext(KindUnprovable, map[string]any{"goal": goal}, "goal unprovable: %s", goal)
}

func CancelledByHost(reason string) *Error {
	return New(KindCancelledByHost, "cancelled by host: %s", reason)
}

func Internal(format string, args ...any) *Error {
	return New(KindInternalError, format, args...)
}
