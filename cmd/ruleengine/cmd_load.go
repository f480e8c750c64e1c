package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KSD-CO/rule-engine-go/engine"
	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/grl"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

// loadCmd loads --rules files and reports how many rules/queries were
// installed, without firing anything.
var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load GRL rule files and report what was installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, queries, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		fmt.Printf("rules loaded: %d\n", len(e.ListRules()))
		for _, name := range e.ListRules() {
			fmt.Printf("  - %s\n", name)
		}
		fmt.Printf("queries declared: %d\n", len(queries))
		for _, q := range queries {
			fmt.Printf("  - %s\n", q.Name)
		}
		fmt.Printf("modules: %v\n", e.Modules())
		return nil
	},
}

// buildEngine constructs an engine.Engine from the global --config/--rules
// flags and inserts any --facts, the shared bootstrap every subcommand
// performs.
func buildEngine() (*engine.Engine, []grl.QueryDecl, error) {
	e := engine.NewForward().WithConfig(cfg)

	var queries []grl.QueryDecl
	for _, path := range rulesPaths {
		qs, err := e.LoadRulesFromPath(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load %s: %w", path, err)
		}
		queries = append(queries, qs...)
	}

	if factsPath != "" {
		if err := insertFactsFromFile(e, factsPath); err != nil {
			return nil, nil, err
		}
	}

	return e, queries, nil
}

// insertFactsFromFile reads a JSON document of the shape
// [{"type": "Customer", "fields": {"TotalSpend": 1500}}, ...] and inserts
// each record into the engine's working memory.
func insertFactsFromFile(e *engine.Engine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read facts file: %w", err)
	}

	var records []struct {
		Type   string         `json:"type"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse facts file: %w", err)
	}

	for _, rec := range records {
		e.Insert(rec.Type, jsonToTypedFacts(rec.Fields))
	}
	return nil
}

func jsonToTypedFacts(m map[string]any) facts.TypedFacts {
	out := make(facts.TypedFacts, len(m))
	for k, v := range m {
		out[k] = jsonToValue(v)
	}
	return out
}

func jsonToValue(v any) value.Value {
	switch t := v.(type) {
	case nil:
		return value.NewNull()
	case bool:
		return value.NewBool(t)
	case string:
		return value.NewString(t)
	case float64:
		if t == float64(int64(t)) {
			return value.NewInt(int64(t))
		}
		return value.NewFloat(t)
	case []any:
		vs := make([]value.Value, len(t))
		for i, elem := range t {
			vs[i] = jsonToValue(elem)
		}
		return value.NewArray(vs)
	case map[string]any:
		vm := make(map[string]value.Value, len(t))
		for k, elem := range t {
			vm[k] = jsonToValue(elem)
		}
		return value.NewMap(vm)
	default:
		return value.NewString(fmt.Sprintf("%v", t))
	}
}
