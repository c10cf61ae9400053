package cli

import (
	"github.com/spf13/cobra"

	"github.com/jguan/retrainer/pkg/infra/eventbus"
)

type eventRow struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	CycleID string `json:"cycle_id"`
	Payload string `json:"payload"`
}

func NewEventsCommand(root *RootCommand) *cobra.Command {
	var (
		cycleID   string
		eventType string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query recorded cycle and alert events",
		Long: `Query the event log. With --cycle the events of that cycle are listed
oldest first, which reads as the cycle's timeline; otherwise the newest
events come first.`,
		Example: `  retrainer events --cycle <cycle-id>
  retrainer events --type stage.completed --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := root.Store()
			if err != nil {
				return err
			}
			events, err := eventbus.NewSQLiteEventStore(db.DB())
			if err != nil {
				return err
			}

			found, err := events.Query(cmd.Context(), eventbus.EventQueryFilter{
				Type:          eventType,
				CorrelationID: cycleID,
				Limit:         limit,
				Ascending:     cycleID != "",
			})
			if err != nil {
				return err
			}

			if root.opts.Format != OutputTable {
				return PrintOutput(found, root.opts)
			}
			rows := make([]eventRow, 0, len(found))
			for _, e := range found {
				rows = append(rows, eventRow{
					Time:    formatTime(e.At),
					Type:    e.EventType,
					CycleID: e.Correlation,
					Payload: string(e.Data),
				})
			}
			return PrintOutput(rows, root.opts)
		},
	}

	cmd.Flags().StringVar(&cycleID, "cycle", "", "Only events of this cycle")
	cmd.Flags().StringVar(&eventType, "type", "", "Only events of this type, e.g. cycle.completed")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")

	return cmd
}
