package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jguan/retrainer/pkg/production"
	"github.com/jguan/retrainer/pkg/workflow"
)

const productionColumns = "version, cycle_id, source_path, artifact_uri, metrics, deployed_at"

// Current implements production.Store.
func (s *SQLiteStore) Current(ctx context.Context) (*production.Model, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productionColumns+` FROM production_models ORDER BY seq DESC LIMIT 1`)
	m, err := scanProductionModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, production.ErrNoProductionModel
	}
	return m, err
}

// Promote appends m to the history, making it the current model.
func (s *SQLiteStore) Promote(ctx context.Context, m *production.Model) error {
	metrics, err := json.Marshal(m.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM production_models WHERE version = ?`, m.Version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists > 0 {
		return production.ErrVersionExists
	}

	deployedAt := m.DeployedAt
	if deployedAt.IsZero() {
		deployedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO production_models (`+productionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Version, m.CycleID, m.SourcePath, m.ArtifactURI, string(metrics), deployedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert production model: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, limit int) ([]production.Model, error) {
	query := `SELECT ` + productionColumns + ` FROM production_models ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list production models: %w", err)
	}
	defer rows.Close()

	var models []production.Model
	for rows.Next() {
		m, err := scanProductionModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate production models: %w", err)
	}
	return models, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProductionModel(row scanner) (*production.Model, error) {
	var m production.Model
	var cycleID, artifact, metrics sql.NullString
	var deployedAt int64

	if err := row.Scan(&m.Version, &cycleID, &m.SourcePath, &artifact, &metrics, &deployedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan production model: %w", err)
	}

	m.CycleID = cycleID.String
	m.ArtifactURI = artifact.String
	m.DeployedAt = time.Unix(0, deployedAt)
	m.Metrics = workflow.Metrics{}
	if metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &m.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
	}
	return &m, nil
}

var _ production.Store = (*SQLiteStore)(nil)
