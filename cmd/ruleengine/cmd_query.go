package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KSD-CO/rule-engine-go/internal/bindings"
)

// queryCmd proves a goal backward against --rules/--facts and prints the
// resulting bindings or the missing facts that blocked it.
var queryCmd = &cobra.Command{
	Use:   "query <goal>",
	Short: "Prove a goal expression backward against the loaded facts",
	Long: `Proves a GRL goal expression, e.g.:

  ruleengine query 'Customer(IsVIP == true) as $c' --facts facts.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Query(args[0])
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}

		if result.Provable {
			fmt.Println("provable: true")
			fmt.Printf("bindings: %s\n", formatBindings(result.Bindings))
			if len(result.Solutions) > 1 {
				fmt.Printf("solutions: %d\n", len(result.Solutions))
			}
		} else {
			fmt.Println("provable: false")
			if len(result.MissingFacts) > 0 {
				fmt.Printf("missing facts: %s\n", strings.Join(result.MissingFacts, ", "))
			}
		}

		fmt.Printf("\ngoals explored: %s (depth %d, %s elapsed)\n",
			humanize.Comma(int64(result.Stats.GoalsExplored)),
			result.Stats.MaxDepthReached,
			result.Stats.Duration)
		return nil
	},
}

func formatBindings(b bindings.Bindings) string {
	if len(b) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(b))
	for k, v := range b {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v.String()))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
