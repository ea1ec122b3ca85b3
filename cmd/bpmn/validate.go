package main

import (
	"fmt"

	"github.com/aretw0/bpmn/pkg/definition"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check definitions for consistency",
	Long: `Parses a definition file, or every definition in a directory, and reports
structural errors such as dangling transitions or misplaced start events.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Definitions
		if len(args) > 0 {
			path = args[0]
		}
		if path == "" {
			path = "."
		}

		defs, err := definition.Load(path)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, def := range defs {
			fmt.Fprintf(out, "  %s (%d nodes, %d transitions)\n", def.Key, len(def.Nodes), len(def.Transitions))
		}
		fmt.Fprintf(out, "%d definition(s) valid! ✅\n", len(defs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
