package main

import (
	"fmt"

	"github.com/KSD-CO/rule-engine-go/internal/explain"
)

// renderTrace dispatches to the explain package's renderer matching format.
func renderTrace(t *explain.Trace, format string) (string, error) {
	switch format {
	case "ascii", "":
		return explain.RenderASCII(t), nil
	case "markdown", "md":
		return explain.RenderMarkdown(t), nil
	case "json":
		b, err := explain.RenderJSON(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case "html":
		return explain.RenderHTML(t)
	default:
		return "", fmt.Errorf("unknown format %q (want ascii, markdown, json, html)", format)
	}
}
