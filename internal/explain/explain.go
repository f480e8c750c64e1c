// Package explain builds and renders proof trees for backward-chaining
// queries (spec §4.K): a trace of Fact/Rule/Negation/Failed nodes recorded
// during a search, exportable as JSON, Markdown, or a self-contained HTML
// page. Reporting never aborts a query; a renderer given a nil trace
// produces an empty one rather than panicking.
package explain

import (
	"github.com/KSD-CO/rule-engine-go/internal/backward"
)

// Node is one step of a rendered proof tree, matching the host-facing
// Explanation JSON schema of spec §6 exactly: goal text, whether it was
// proven, what kind of step it was, and (for rule steps) which rule.
type Node struct {
	Goal     string  `json:"goal"`
	Proven   bool    `json:"proven"`
	NodeType string  `json:"node_type"`
	RuleName string  `json:"rule_name,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Trace is the full explanation of one query: its proof tree plus the
// search statistics that produced it (spec §6: `{"root", "success", "stats"}`).
type Trace struct {
	TraceID string         `json:"trace_id,omitempty"`
	Root    *Node          `json:"root"`
	Success bool           `json:"success"`
	Stats   map[string]any `json:"stats"`
}

// FromQueryResult converts a backward.QueryResult into a renderable Trace.
// A nil ProofTrace yields an empty root node rather than a nil one, so
// renderers never need a nil check.
func FromQueryResult(qr backward.QueryResult) *Trace {
	root := fromProofNode(qr.ProofTrace)
	if root == nil {
		root = &Node{Goal: "", NodeType: "Failed"}
	}
	return &Trace{
		TraceID: qr.TraceID,
		Root:    root,
		Success: qr.Provable,
		Stats:   statsToMap(qr.Stats),
	}
}

func fromProofNode(n *backward.ProofNode) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Goal:     n.Goal,
		Proven:   n.Proven,
		NodeType: n.NodeType,
		RuleName: n.RuleName,
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, fromProofNode(c))
	}
	return out
}

func statsToMap(s backward.Stats) map[string]any {
	return map[string]any{
		"goals_explored":    s.GoalsExplored,
		"rules_evaluated":   s.RulesEvaluated,
		"facts_checked":     s.FactsChecked,
		"max_depth_reached": s.MaxDepthReached,
		"cache_hits":        s.CacheHits,
		"cache_misses":      s.CacheMisses,
		"duration_ms":       s.Duration.Milliseconds(),
	}
}
