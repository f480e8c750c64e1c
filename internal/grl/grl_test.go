package grl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KSD-CO/rule-engine-go/internal/backward"
	"github.com/KSD-CO/rule-engine-go/internal/expr"
	"github.com/KSD-CO/rule-engine-go/internal/kb"
)

const sampleSource = `
;; MODULE: Sales

rule "VIPDiscount" "flags VIP customers for a discount"
salience 10
{
    when
        Customer(TotalSpend >= 1000) as $c
    then
        $c.IsVIP = true;
}

query "FindVIP" {
    goal: Customer(IsVIP == true) as $c
    max-depth: 5
    max-solutions: 3
}
`

func TestParse_RuleAndQuery(t *testing.T) {
	res, err := Parse(sampleSource)
	require.NoError(t, err)
	require.Len(t, res.Rules, 1)
	require.Len(t, res.Queries, 1)

	rule := res.Rules[0]
	assert.Equal(t, "VIPDiscount", rule.Name)
	assert.Equal(t, "flags VIP customers for a discount", rule.Description)
	assert.Equal(t, "Sales", rule.Module)
	assert.Equal(t, 10, rule.Attrs.Salience)

	pat, ok := rule.Condition.(kb.CondPattern)
	require.True(t, ok)
	assert.Equal(t, "Customer", pat.Pattern.TypeName)
	assert.Equal(t, "c", pat.Pattern.Bind)
	require.Len(t, pat.Pattern.Tests, 1)
	assert.Equal(t, "TotalSpend", pat.Pattern.Tests[0].Field)

	require.Len(t, rule.Actions, 1)
	assign, ok := rule.Actions[0].(kb.ActionAssignField)
	require.True(t, ok)
	assert.Equal(t, "Customer.IsVIP", assign.Target)

	q := res.Queries[0]
	assert.Equal(t, "FindVIP", q.Name)
	assert.Equal(t, 5, q.Query.MaxDepth)
	assert.Equal(t, 3, q.Query.MaxSolutions)
	assert.Equal(t, backward.DepthFirst, q.Query.Strategy)
	assert.True(t, q.Query.EnableMemoization)

	goalWhere, ok := q.Query.Goal.(backward.GoalPattern)
	require.True(t, ok)
	assert.Equal(t, "Customer", goalWhere.Pattern.TypeName)
}

func TestParse_RuleWithoutModuleMarkerDefaultsToMAIN(t *testing.T) {
	res, err := Parse(`
rule "Simple" {
    when
        Order(Total > 0) as $o
    then
        approve($o);
}
`)
	require.NoError(t, err)
	require.Len(t, res.Rules, 1)
	assert.Equal(t, "MAIN", res.Rules[0].Module)

	call, ok := res.Rules[0].Actions[0].(kb.ActionCallFunction)
	require.True(t, ok)
	assert.Equal(t, "approve", call.Name)
	require.Len(t, call.Args, 1)
	_, ok = call.Args[0].(expr.Variable)
	assert.True(t, ok)
}

func TestParse_CompoundConditionAndNot(t *testing.T) {
	res, err := Parse(`
rule "Compound" {
    when
        Order(Total > 100) as $o && !Customer(Blacklisted == true)
    then
        set "flagged" = true;
}
`)
	require.NoError(t, err)
	require.Len(t, res.Rules, 1)
	and, ok := res.Rules[0].Condition.(kb.CondAnd)
	require.True(t, ok)
	require.Len(t, and.Children, 2)
	_, ok = and.Children[0].(kb.CondPattern)
	assert.True(t, ok)
	_, ok = and.Children[1].(kb.CondNot)
	assert.True(t, ok)
}

func TestParse_ModuleDeclarationExportImport(t *testing.T) {
	res, err := Parse(`
defmodule Pricing {
    export: "BaseDiscount";
    import: Sales;
}

rule "BaseDiscount" {
    when
        Order(Total > 0) as $o
    then
        $o.Discount = 0.1;
}
`)
	require.NoError(t, err)
	require.Len(t, res.Modules, 1)
	md := res.Modules[0]
	assert.Equal(t, "Pricing", md.Name)
	assert.Equal(t, []string{"BaseDiscount"}, md.Exports)
	assert.Equal(t, []string{"Sales"}, md.Imports)
}

func TestParse_MalformedSourceReturnsParseError(t *testing.T) {
	_, err := Parse(`rule "Broken" { when Order(Total >) then foo(); }`)
	assert.Error(t, err)
}

func TestLoadSource_InstallsRuleAndModule(t *testing.T) {
	base := kb.New()
	modules := kb.NewModuleManager(base)

	queries, err := LoadSource(sampleSource, base, modules)
	require.NoError(t, err)
	assert.Len(t, queries, 1)

	rule, ok := base.Get("VIPDiscount")
	require.True(t, ok)
	assert.Equal(t, "Sales", rule.Module)

	assert.Contains(t, modules.Modules(), "Sales")
}

func TestScanModuleMarkers(t *testing.T) {
	src := ";; MODULE: A\nrule one\n;; MODULE: B\nrule two\n"
	markers := scanModuleMarkers(src)
	require.Len(t, markers, 2)
	assert.Equal(t, "A", markers[0].name)
	assert.Equal(t, "B", markers[1].name)
	assert.Equal(t, "A", moduleForLine(markers, 2))
	assert.Equal(t, "B", moduleForLine(markers, 4))
	assert.Equal(t, "MAIN", moduleForLine(markers, 0))
}
