package main

import (
	"github.com/aretw0/bpmn"
	"github.com/aretw0/bpmn/internal/presentation/tui"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var historyCmd = &cobra.Command{
	Use:   "history <process-id>",
	Short: "Show the audit trail of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		store, closeStore, err := durableStore(ctx)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, closeStore()) }()

		engine := bpmn.New(bpmn.WithStore(store), bpmn.WithLogger(logger))
		view := tui.HistoryView{}
		if view.Execution, err = engine.HistoryExecution(ctx, args[0]); err != nil {
			return err
		}
		if view.Activities, err = engine.History(ctx, args[0]); err != nil {
			return err
		}
		if view.Tasks, err = engine.HistoryTasks(ctx, args[0]); err != nil {
			return err
		}
		tui.NewRenderer(cmd.OutOrStdout()).History(view)
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List open user tasks",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		store, closeStore, err := durableStore(ctx)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, closeStore()) }()

		q := domain.TaskQuery{}
		q.ProcessID, _ = cmd.Flags().GetString("process")
		q.Assignee, _ = cmd.Flags().GetString("assignee")

		tasks, err := bpmn.New(bpmn.WithStore(store), bpmn.WithLogger(logger)).Tasks(ctx, q)
		if err != nil {
			return err
		}
		tui.NewRenderer(cmd.OutOrStdout()).Tasks(tasks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().String("process", "", "Only tasks of this process instance")
	tasksCmd.Flags().String("assignee", "", "Only tasks assigned to this user")
}
