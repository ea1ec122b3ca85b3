package main

import (
	"context"
	"fmt"

	"github.com/aretw0/bpmn"
	"github.com/aretw0/bpmn/internal/presentation/graph"
	"github.com/aretw0/bpmn/pkg/definition"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <file>",
	Short: "Export the process graph visualization",
	Long: `Outputs a Mermaid diagram (graph TD) of a definition. With --instance the
visited and waiting nodes of that instance are highlighted, read from the
configured store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := definition.LoadFile(args[0])
		if err != nil {
			return err
		}

		var overlay *graph.GraphOverlay
		if id, _ := cmd.Flags().GetString("instance"); id != "" {
			if overlay, err = instanceOverlay(cmd.Context(), id); err != nil {
				return err
			}
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(def, overlay))
		return nil
	},
}

func instanceOverlay(ctx context.Context, processID string) (_ *graph.GraphOverlay, err error) {
	store, closeStore, err := durableStore(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	engine := bpmn.New(bpmn.WithStore(store), bpmn.WithLogger(logger))
	visits, err := engine.History(ctx, processID)
	if err != nil {
		return nil, err
	}
	executions, err := engine.Executions(ctx, domain.ExecutionQuery{ProcessID: processID})
	if err != nil {
		return nil, err
	}
	return graph.NewOverlay(visits, executions), nil
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("instance", "", "Highlight the state of this process instance")
}
