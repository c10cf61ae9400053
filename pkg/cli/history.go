package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jguan/retrainer/pkg/workflow"
)

func NewHistoryCommand(root *RootCommand) *cobra.Command {
	var (
		outcome string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past retraining cycles",
		Example: `  retrainer history
  retrainer history --outcome alerted --limit 5
  retrainer history show <cycle-id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch workflow.Outcome(outcome) {
			case "", workflow.OutcomeNoop, workflow.OutcomeDeployed, workflow.OutcomeAlerted:
			default:
				return fmt.Errorf("invalid outcome %q (valid: noop, deployed, alerted)", outcome)
			}

			db, err := root.Store()
			if err != nil {
				return err
			}
			cycles, err := db.ListCycles(cmd.Context(), workflow.CycleFilter{
				Outcome: workflow.Outcome(outcome),
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			if root.opts.Format != OutputTable {
				return PrintOutput(cycles, root.opts)
			}
			rows := make([]cycleRow, 0, len(cycles))
			for _, c := range cycles {
				rows = append(rows, newCycleRow(c))
			}
			return PrintOutput(rows, root.opts)
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", "", "Only cycles with this outcome (noop, deployed, alerted)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of cycles to list")

	cmd.AddCommand(newHistoryShowCommand(root))

	return cmd
}

func newHistoryShowCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show one cycle in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := root.Store()
			if err != nil {
				return err
			}
			res, err := db.GetCycle(cmd.Context(), args[0])
			if errors.Is(err, workflow.ErrCycleNotFound) {
				return fmt.Errorf("cycle %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return printCycle(res, root.opts)
		},
	}
}
