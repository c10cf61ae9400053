package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jguan/retrainer/pkg/alert"
	"github.com/jguan/retrainer/pkg/infra/eventbus"
	"github.com/jguan/retrainer/pkg/infra/logger"
)

type alertRow struct {
	ID        string `json:"id"`
	CycleID   string `json:"cycle_id"`
	Severity  string `json:"severity"`
	Status    string `json:"status"`
	Triggered string `json:"triggered"`
	Message   string `json:"message"`
}

func NewAlertsCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and manage alerts raised by cycles",
	}

	cmd.AddCommand(newAlertsListCommand(root))
	cmd.AddCommand(newAlertsTransitionCommand(root, "ack", "Acknowledge an alert", (*alert.Manager).Acknowledge))
	cmd.AddCommand(newAlertsTransitionCommand(root, "resolve", "Resolve an alert", (*alert.Manager).Resolve))

	return cmd
}

func newAlertsListCommand(root *RootCommand) *cobra.Command {
	var (
		status   string
		severity string
		cycleID  string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		Example: `  retrainer alerts list
  retrainer alerts list --status firing --severity warning`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch alert.Status(status) {
			case "", alert.StatusFiring, alert.StatusAcknowledged, alert.StatusResolved:
			default:
				return fmt.Errorf("invalid status %q (valid: firing, acknowledged, resolved)", status)
			}
			switch alert.Severity(severity) {
			case "", alert.SeverityInfo, alert.SeverityWarning, alert.SeverityCritical:
			default:
				return fmt.Errorf("invalid severity %q (valid: info, warning, critical)", severity)
			}

			db, err := root.Store()
			if err != nil {
				return err
			}
			alerts, err := alert.NewManager(db, nil, logger.Default()).List(cmd.Context(), alert.Filter{
				CycleID:  cycleID,
				Status:   alert.Status(status),
				Severity: alert.Severity(severity),
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			if root.opts.Format != OutputTable {
				return PrintOutput(alerts, root.opts)
			}
			rows := make([]alertRow, 0, len(alerts))
			for _, a := range alerts {
				rows = append(rows, alertRow{
					ID:        a.ID,
					CycleID:   a.CycleID,
					Severity:  string(a.Severity),
					Status:    string(a.Status),
					Triggered: formatTime(a.TriggeredAt),
					Message:   a.Message,
				})
			}
			return PrintOutput(rows, root.opts)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (firing, acknowledged, resolved)")
	cmd.Flags().StringVar(&severity, "severity", "", "Filter by severity (info, warning, critical)")
	cmd.Flags().StringVar(&cycleID, "cycle", "", "Only alerts raised by this cycle")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of alerts")

	return cmd
}

type alertTransition func(m *alert.Manager, ctx context.Context, id string) (*alert.Alert, error)

func newAlertsTransitionCommand(root *RootCommand, use, short string, transition alertTransition) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <alert-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := root.Store()
			if err != nil {
				return err
			}
			events, err := eventbus.NewSQLiteEventStore(db.DB())
			if err != nil {
				return err
			}
			// The transition is recorded in the event log like the ones the engine raises.
			bus := eventbus.NewPersistentEventBus(events, eventbus.WithPersistentLogger(logger.Default()))
			defer bus.Close()

			a, err := transition(alert.NewManager(db, bus, logger.Default()), cmd.Context(), args[0])
			if errors.Is(err, alert.ErrAlertNotFound) {
				return fmt.Errorf("alert %s not found", args[0])
			}
			if err != nil {
				return err
			}
			PrintSuccess(fmt.Sprintf("Alert %s is %s", a.ID, a.Status), root.opts)
			return nil
		},
	}
}
