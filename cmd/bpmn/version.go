package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/bpmn"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of bpmn",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bpmn version %s\n", strings.TrimSpace(bpmn.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
