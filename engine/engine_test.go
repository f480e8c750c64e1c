package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KSD-CO/rule-engine-go/internal/facts"
	"github.com/KSD-CO/rule-engine-go/internal/value"
)

func intVal(n int64) value.Value { return value.NewInt(n) }
func boolVal(b bool) value.Value { return value.NewBool(b) }

const sampleRules = `
rule "VIPDiscount" "flags VIP customers"
salience 10
{
    when
        Customer(TotalSpend >= 1000) as $c
    then
        $c.IsVIP = true;
}
`

func TestEngine_LoadFireAndInspect(t *testing.T) {
	e := NewForward()

	_, err := e.LoadRulesFromText(sampleRules)
	require.NoError(t, err)
	assert.Equal(t, []string{"VIPDiscount"}, e.ListRules())

	h := e.Insert("Customer", facts.TypedFacts{"TotalSpend": intVal(1500)})
	fired, err := e.FireAll()
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, "VIPDiscount", fired[0].RuleName)

	_, data, ok := e.Get(h)
	require.True(t, ok)
	v, ok := data.Get("IsVIP")
	require.True(t, ok)
	assert.True(t, v.AsBool())

	stats := e.Stats()
	assert.Equal(t, 1, stats.Rules)
	assert.Equal(t, 1, stats.Facts)
}

func TestEngine_DisableRuleStopsFiring(t *testing.T) {
	e := NewForward()
	_, err := e.LoadRulesFromText(sampleRules)
	require.NoError(t, err)
	require.NoError(t, e.DisableRule("VIPDiscount"))

	e.Insert("Customer", facts.TypedFacts{"TotalSpend": intVal(2000)})
	fired, err := e.FireAll()
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestEngine_QueryProvesGoalFromFacts(t *testing.T) {
	e := NewForward()
	e.Insert("Customer", facts.TypedFacts{"IsVIP": boolVal(true)})

	result, err := e.Query(`Customer(IsVIP == true) as $c`)
	require.NoError(t, err)
	assert.True(t, result.Provable)
}

func TestEngine_EnableTraceCapturesLastTrace(t *testing.T) {
	e := NewForward()
	e.Insert("Customer", facts.TypedFacts{"IsVIP": boolVal(true)})
	e.EnableTrace(true)

	_, err := e.Query(`Customer(IsVIP == true) as $c`)
	require.NoError(t, err)
	require.NotNil(t, e.LastTrace())
}

func TestEngine_ClearProofCacheResetsStats(t *testing.T) {
	e := NewForward()
	_, err := e.LoadRulesFromText(sampleRules)
	require.NoError(t, err)
	e.Insert("Customer", facts.TypedFacts{"TotalSpend": intVal(1500)})
	_, err = e.FireAll()
	require.NoError(t, err)

	e.ClearProofCache()
	stats := e.ProofGraphStats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestBuiltinFuncs_UpperLowerLen(t *testing.T) {
	fns := BuiltinFuncs()
	v, err := fns["upper"]([]value.Value{value.NewString("abc")})
	require.NoError(t, err)
	assert.Equal(t, "ABC", v.AsString())

	v, err = fns["len"]([]value.Value{value.NewString("abcd")})
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.AsInt())
}
