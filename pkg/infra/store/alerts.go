package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jguan/retrainer/pkg/alert"
)

const alertColumns = "id, cycle_id, severity, status, message, triggered_at, acknowledged_at, resolved_at"

// CreateAlert implements alert.Store.
func (s *SQLiteStore) CreateAlert(ctx context.Context, a *alert.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.TriggeredAt.IsZero() {
		a.TriggeredAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.CycleID, string(a.Severity), string(a.Status), a.Message,
		a.TriggeredAt.UnixNano(), nullableTime(a.AcknowledgedAt), nullableTime(a.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*alert.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, alert.ErrAlertNotFound
	}
	return a, err
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter alert.Filter) ([]alert.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []any{}

	if filter.CycleID != "" {
		query += " AND cycle_id = ?"
		args = append(args, filter.CycleID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	query += " ORDER BY triggered_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

func (s *SQLiteStore) UpdateAlert(ctx context.Context, a *alert.Alert) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET severity = ?, status = ?, message = ?, acknowledged_at = ?, resolved_at = ?
		WHERE id = ?
	`, string(a.Severity), string(a.Status), a.Message,
		nullableTime(a.AcknowledgedAt), nullableTime(a.ResolvedAt), a.ID)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return alert.ErrAlertNotFound
	}
	return nil
}

func scanAlert(row scanner) (*alert.Alert, error) {
	var a alert.Alert
	var cycleID sql.NullString
	var severity, status string
	var triggered int64
	var acked, resolved sql.NullInt64

	if err := row.Scan(&a.ID, &cycleID, &severity, &status, &a.Message, &triggered, &acked, &resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	a.CycleID = cycleID.String
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)
	a.TriggeredAt = time.Unix(0, triggered)
	a.AcknowledgedAt = timeFromNull(acked)
	a.ResolvedAt = timeFromNull(resolved)
	return &a, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

var _ alert.Store = (*SQLiteStore)(nil)
