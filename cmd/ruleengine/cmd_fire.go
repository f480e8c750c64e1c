package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// fireCmd loads --rules and --facts, runs forward chaining to quiescence,
// and reports every activation fired plus final engine stats.
var fireCmd = &cobra.Command{
	Use:   "fire",
	Short: "Fire rules forward against the loaded facts until quiescent",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, _, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		fired, err := e.FireAll()
		if err != nil {
			return fmt.Errorf("fire_all: %w", err)
		}

		fmt.Printf("fired %s activation%s\n", humanize.Comma(int64(len(fired))), plural(len(fired)))
		for i, f := range fired {
			fmt.Printf("  %d. %s\n", i+1, f.RuleName)
		}

		stats := e.Stats()
		fmt.Printf("\nfacts in working memory: %s\n", humanize.Comma(int64(stats.Facts)))
		fmt.Printf("proof graph hit rate: %.1f%%\n", stats.ProofGraph.HitRate()*100)
		return nil
	},
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
