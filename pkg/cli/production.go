package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jguan/retrainer/pkg/production"
)

type productionRow struct {
	Version    string `json:"version"`
	CycleID    string `json:"cycle_id"`
	Artifact   string `json:"artifact"`
	Metrics    string `json:"metrics"`
	DeployedAt string `json:"deployed_at"`
}

func newProductionRow(m production.Model) productionRow {
	return productionRow{
		Version:    m.Version,
		CycleID:    m.CycleID,
		Artifact:   m.ArtifactURI,
		Metrics:    m.Metrics.String(),
		DeployedAt: formatTime(m.DeployedAt),
	}
}

func NewProductionCommand(root *RootCommand) *cobra.Command {
	var (
		history bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "production",
		Short: "Show the model currently in production",
		Example: `  retrainer production
  retrainer production --history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := root.Store()
			if err != nil {
				return err
			}

			if history {
				models, err := db.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if root.opts.Format != OutputTable {
					return PrintOutput(models, root.opts)
				}
				rows := make([]productionRow, 0, len(models))
				for _, m := range models {
					rows = append(rows, newProductionRow(m))
				}
				return PrintOutput(rows, root.opts)
			}

			current, err := db.Current(cmd.Context())
			if errors.Is(err, production.ErrNoProductionModel) {
				PrintSuccess("No model has been deployed yet", root.opts)
				return nil
			}
			if err != nil {
				return fmt.Errorf("get production model: %w", err)
			}
			if root.opts.Format != OutputTable {
				return PrintOutput(current, root.opts)
			}
			return PrintOutput(newProductionRow(*current), root.opts)
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "List every promotion, newest first")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries with --history")

	return cmd
}
