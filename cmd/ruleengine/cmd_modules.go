package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// modulesCmd lists every declared module and the rules visible in it.
var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List declared modules and their import graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		mm := e.ModuleManager()
		names := mm.Modules()
		if len(names) == 0 {
			fmt.Println("no modules declared (all rules in MAIN)")
			return nil
		}

		graph := mm.GetImportGraph()
		for _, name := range names {
			visible, err := mm.GetVisibleRules(name)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", name)
			fmt.Printf("  imports: %v\n", graph[name])
			fmt.Printf("  visible rules: %v\n", visible)
		}
		return nil
	},
}
