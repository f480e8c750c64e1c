package explain

import (
	"strings"
	"testing"
	"time"

	"github.com/KSD-CO/rule-engine-go/internal/backward"
)

func sampleResult() backward.QueryResult {
	return backward.QueryResult{
		Provable: true,
		Stats: backward.Stats{
			GoalsExplored:  2,
			RulesEvaluated: 1,
			FactsChecked:   3,
			Duration:       5 * time.Millisecond,
		},
		ProofTrace: &backward.ProofNode{
			Goal:     "Customer",
			Proven:   true,
			NodeType: "Fact",
			Children: []*backward.ProofNode{
				{Goal: "IsVIPRule", Proven: true, NodeType: "Rule", RuleName: "IsVIPRule"},
			},
		},
	}
}

func TestFromQueryResult(t *testing.T) {
	trace := FromQueryResult(sampleResult())
	if !trace.Success {
		t.Fatal("expected Success = true")
	}
	if trace.Root.Goal != "Customer" {
		t.Fatalf("expected root goal Customer, got %q", trace.Root.Goal)
	}
	if len(trace.Root.Children) != 1 || trace.Root.Children[0].RuleName != "IsVIPRule" {
		t.Fatalf("expected one rule child named IsVIPRule, got %+v", trace.Root.Children)
	}
	if trace.Stats["goals_explored"] != 2 {
		t.Fatalf("expected goals_explored = 2, got %v", trace.Stats["goals_explored"])
	}
}

func TestFromQueryResultEmptyTrace(t *testing.T) {
	trace := FromQueryResult(backward.QueryResult{})
	if trace.Root == nil {
		t.Fatal("expected a non-nil placeholder root for an empty trace")
	}
	if trace.Success {
		t.Fatal("expected Success = false for an empty trace")
	}
}

func TestRenderJSON(t *testing.T) {
	trace := FromQueryResult(sampleResult())
	out, err := RenderJSON(trace)
	if err != nil {
		t.Fatalf("RenderJSON() error = %v", err)
	}
	if !strings.Contains(string(out), `"goal": "Customer"`) {
		t.Errorf("JSON output missing root goal, got:\n%s", out)
	}
	if !strings.Contains(string(out), `"rule_name": "IsVIPRule"`) {
		t.Errorf("JSON output missing rule_name, got:\n%s", out)
	}
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(FromQueryResult(sampleResult()))
	if !strings.Contains(md, "Customer") {
		t.Errorf("markdown missing root goal, got:\n%s", md)
	}
	if !strings.Contains(md, "IsVIPRule") {
		t.Errorf("markdown missing rule name, got:\n%s", md)
	}
	if !strings.Contains(md, "## Stats") {
		t.Errorf("markdown missing stats section, got:\n%s", md)
	}
}

func TestRenderASCII(t *testing.T) {
	ascii := RenderASCII(FromQueryResult(sampleResult()))
	if !strings.Contains(ascii, "└── ✓ IsVIPRule") {
		t.Errorf("ascii output missing expected connector line, got:\n%s", ascii)
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(FromQueryResult(sampleResult()))
	if err != nil {
		t.Fatalf("RenderHTML() error = %v", err)
	}
	if !strings.Contains(html, "Customer") || !strings.Contains(html, "IsVIPRule") {
		t.Errorf("html output missing node content, got:\n%s", html)
	}
	if !strings.Contains(html, "<style>") {
		t.Errorf("html output missing inline stylesheet, got:\n%s", html)
	}
}

func TestRenderNilTrace(t *testing.T) {
	if _, err := RenderJSON(nil); err != nil {
		t.Fatalf("RenderJSON(nil) error = %v", err)
	}
	if ascii := RenderASCII(nil); ascii == "" {
		t.Error("RenderASCII(nil) should degrade to a placeholder, not empty string")
	}
	if _, err := RenderHTML(nil); err != nil {
		t.Fatalf("RenderHTML(nil) error = %v", err)
	}
}
