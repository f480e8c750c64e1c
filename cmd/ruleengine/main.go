// Command ruleengine is the cobra CLI host for the inference core (spec
// §6): a thin driver that boots an engine.Engine for a single operation,
// runs it, and prints the result, the same "boot a long-lived object, defer
// its close, run one operation, print formatted output" shape as the
// teacher's cmd/nerd commands.
//
// # File Index
//
//   - main.go        - entry point, rootCmd, global flags, init()
//   - cmd_load.go     - loadCmd, buildEngine()
//   - cmd_fire.go     - fireCmd
//   - cmd_query.go    - queryCmd
//   - cmd_explain.go  - explainCmd
//   - cmd_modules.go  - modulesCmd
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KSD-CO/rule-engine-go/internal/rconfig"
	"github.com/KSD-CO/rule-engine-go/internal/rlog"
)

var (
	// Global flags
	workspace  string
	configPath string
	rulesPaths []string
	factsPath  string
	verbose    bool

	// Resolved once in PersistentPreRunE
	cfg *rconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "ruleengine",
	Short: "ruleengine - a forward/backward rule inference engine",
	Long: `ruleengine loads GRL rule files, fires them against working memory
forward (RETE) or proves goals backward (depth-first/breadth-first/iterative
search with proof-graph memoization), and explains the result.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}

		var err error
		cfg, err = rconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.Logging.DebugMode = true
		}
		if err := rlog.Init(ws, cfg.Logging.ToRlogConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		rlog.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ruleengine.yaml", "Path to engine configuration")
	rootCmd.PersistentFlags().StringArrayVarP(&rulesPaths, "rules", "r", nil, "GRL rule file(s) to load")
	rootCmd.PersistentFlags().StringVar(&factsPath, "facts", "", "JSON file of facts to insert before running")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		loadCmd,
		fireCmd,
		queryCmd,
		explainCmd,
		modulesCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
