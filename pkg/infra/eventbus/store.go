package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrEventNotFound = errors.New("event not found")

type EventStore interface {
	Save(ctx context.Context, event Event) error
	SaveBatch(ctx context.Context, events []Event) error
	Query(ctx context.Context, filter EventQueryFilter) ([]*StoredEvent, error)
	GetByID(ctx context.Context, id string) (*StoredEvent, error)
}

type EventQueryFilter struct {
	Domain        string
	Type          string
	CorrelationID string
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
	// Ascending returns oldest first, which reads as a cycle timeline.
	Ascending bool
}

// StoredEvent is an event read back from the store. Its payload is the raw
// JSON that was written.
type StoredEvent struct {
	ID          string          `json:"id" yaml:"id"`
	EventType   string          `json:"type" yaml:"type"`
	EventDomain string          `json:"domain" yaml:"domain"`
	Correlation string          `json:"correlation_id" yaml:"correlation_id"`
	Data        json.RawMessage `json:"payload" yaml:"-"`
	At          time.Time       `json:"timestamp" yaml:"timestamp"`
}

func (e *StoredEvent) Type() string          { return e.EventType }
func (e *StoredEvent) Domain() string        { return e.EventDomain }
func (e *StoredEvent) Payload() any          { return e.Data }
func (e *StoredEvent) Timestamp() time.Time  { return e.At }
func (e *StoredEvent) CorrelationID() string { return e.Correlation }

var _ Event = (*StoredEvent)(nil)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	domain TEXT NOT NULL,
	correlation_id TEXT,
	payload BLOB,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`

type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore wraps db and creates the events table if needed.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	if _, err := db.Exec(eventsSchema); err != nil {
		return nil, fmt.Errorf("create events schema: %w", err)
	}
	return &SQLiteEventStore{db: db}, nil
}

const insertEvent = `
	INSERT INTO events (id, type, domain, correlation_id, payload, timestamp)
	VALUES (?, ?, ?, ?, ?, ?)
`

func (s *SQLiteEventStore) Save(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertEvent,
		uuid.NewString(), event.Type(), event.Domain(), event.CorrelationID(), payload, event.Timestamp().UnixNano())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) SaveBatch(ctx context.Context, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		payload, err := json.Marshal(event.Payload())
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			uuid.NewString(), event.Type(), event.Domain(), event.CorrelationID(), payload, event.Timestamp().UnixNano())
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) Query(ctx context.Context, filter EventQueryFilter) ([]*StoredEvent, error) {
	query := "SELECT id, type, domain, correlation_id, payload, timestamp FROM events WHERE 1=1"
	args := []any{}

	if filter.Domain != "" {
		query += " AND domain = ?"
		args = append(args, filter.Domain)
	}
	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.CorrelationID != "" {
		query += " AND correlation_id = ?"
		args = append(args, filter.CorrelationID)
	}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UnixNano())
	}

	if filter.Ascending {
		query += " ORDER BY timestamp ASC"
	} else {
		query += " ORDER BY timestamp DESC"
	}

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*StoredEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *SQLiteEventStore) GetByID(ctx context.Context, id string) (*StoredEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, domain, correlation_id, payload, timestamp
		FROM events WHERE id = ?
	`, id)

	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return e, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*StoredEvent, error) {
	var e StoredEvent
	var correlation sql.NullString
	var payload []byte
	var ts int64
	if err := row.Scan(&e.ID, &e.EventType, &e.EventDomain, &correlation, &payload, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Correlation = correlation.String
	e.Data = json.RawMessage(payload)
	e.At = time.Unix(0, ts)
	return &e, nil
}
