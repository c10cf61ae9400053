package cli

import (
	"github.com/spf13/cobra"
)

func NewRunCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one retraining cycle",
		Long: `Run a single retraining cycle against the configured bucket and print
its record. A cycle that ends in an alert is still a successful run; the
command only fails when the cycle could not be started.`,
		Example: `  # Run once with credentials from .env
  retrainer run

  # Machine-readable result
  retrainer run -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := root.newRuntime(root)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printCycle(res, root.opts)
		},
	}

	return cmd
}
