package engine

import (
	"strings"
	"time"

	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/rerr"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// BuiltinFuncs returns the small set of host functions every engine starts
// with, callable from GRL rule actions and query filters (spec §4.B's
// host-function table). Hosts add domain-specific functions on top via
// Engine.RegisterFunc; these cover the generic string/time helpers GRL rule
// bodies reach for (e.g. "set \"label\" = upper($c.Name)").
func BuiltinFuncs() expr.Funcs {
	return expr.Funcs{
		"len":   builtinLen,
		"upper": builtinUpper,
		"lower": builtinLower,
		"now":   builtinNow,
	}
}

func builtinLen(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, rerr.New(rerr.KindTypeMismatch, "len() takes exactly 1 argument, got %d", len(args))
	}
	switch args[0].Kind() {
	case value.String:
		return value.NewInt(int64(len(args[0].AsString()))), nil
	case value.Array:
		return value.NewInt(int64(len(args[0].AsArray()))), nil
	case value.Map:
		return value.NewInt(int64(len(args[0].AsMap()))), nil
	default:
		return value.Value{}, rerr.TypeMismatch("len() expects a string, array or map, got %s", args[0].Kind())
	}
}

func builtinUpper(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind() != value.String {
		return value.Value{}, rerr.TypeMismatch("upper() expects a single string argument")
	}
	return value.NewString(strings.ToUpper(args[0].AsString())), nil
}

func builtinLower(args []value.Value) (value.Value, error) {
	if len(args) != 1 || args[0].Kind() != value.String {
		return value.Value{}, rerr.TypeMismatch("lower() expects a single string argument")
	}
	return value.NewString(strings.ToLower(args[0].AsString())), nil
}

func builtinNow(args []value.Value) (value.Value, error) {
	if len(args) != 0 {
		return value.Value{}, rerr.New(rerr.KindTypeMismatch, "now() takes no arguments, got %d", len(args))
	}
	return value.NewString(time.Now().UTC().Format(time.RFC3339)), nil
}
