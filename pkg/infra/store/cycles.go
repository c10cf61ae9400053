package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jguan/retrainer/pkg/workflow"
)

// SaveCycle implements workflow.CycleStore. Saving the same cycle twice
// replaces the earlier record.
func (s *SQLiteStore) SaveCycle(ctx context.Context, r *workflow.CycleResult) error {
	if r == nil {
		return nil
	}
	record, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal cycle record: %w", err)
	}

	var decision, failure string
	if r.State != nil {
		decision = string(r.State.DeploymentDecision)
		failure = r.State.FailureReport
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycles (id, outcome, decision, failure_report, started_at, completed_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.CycleID, string(r.Outcome), decision, failure,
		r.StartedAt.UnixNano(), r.CompletedAt.UnixNano(), string(record))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCycle(ctx context.Context, cycleID string) (*workflow.CycleResult, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM cycles WHERE id = ?`, cycleID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrCycleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	return decodeCycle(record)
}

func (s *SQLiteStore) ListCycles(ctx context.Context, filter workflow.CycleFilter) ([]*workflow.CycleResult, error) {
	query := "SELECT record FROM cycles WHERE 1=1"
	args := []any{}

	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if filter.ExcludeNoop {
		query += " AND outcome != ?"
		args = append(args, string(workflow.OutcomeNoop))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var results []*workflow.CycleResult
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		r, err := decodeCycle(record)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return results, nil
}

func decodeCycle(record string) (*workflow.CycleResult, error) {
	var r workflow.CycleResult
	if err := json.Unmarshal([]byte(record), &r); err != nil {
		return nil, fmt.Errorf("decode cycle record: %w", err)
	}
	return &r, nil
}

var _ workflow.CycleStore = (*SQLiteStore)(nil)
