package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var explainFormat string

// explainCmd proves a goal with tracing enabled and renders the resulting
// proof tree in the requested format.
var explainCmd = &cobra.Command{
	Use:   "explain <goal>",
	Short: "Prove a goal and render its proof tree",
	Long: `Proves a GRL goal expression with tracing enabled and renders the
resulting proof tree ("Glass Box" view of why the answer came out the way
it did), e.g.:

  ruleengine explain 'Customer(IsVIP == true) as $c' --facts facts.json --format markdown`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		e.EnableTrace(true)
		if _, err := e.Query(args[0]); err != nil {
			return fmt.Errorf("query: %w", err)
		}

		trace := e.LastTrace()
		out, err := renderTrace(trace, explainFormat)
		if err != nil {
			return fmt.Errorf("render trace: %w", err)
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	explainCmd.Flags().StringVar(&explainFormat, "format", "ascii", "Output format: ascii, markdown, json, html")
}
