package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jguan/retrainer/pkg/infra/eventbus"
)

// Publisher is the subset of an event bus the manager needs.
type Publisher interface {
	Publish(event eventbus.Event) error
}

// Manager owns alert lifecycle transitions and announces them on the bus.
type Manager struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(store Store, publisher Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// Raise records a new firing alert.
func (m *Manager) Raise(ctx context.Context, cycleID string, severity Severity, message string) (*Alert, error) {
	a := &Alert{
		CycleID:     cycleID,
		Severity:    severity,
		Status:      StatusFiring,
		Message:     message,
		TriggeredAt: m.now(),
	}
	if err := m.store.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	m.publish(newEvent(EventTypeTriggered, a))
	return a, nil
}

func (m *Manager) Acknowledge(ctx context.Context, id string) (*Alert, error) {
	a, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusFiring {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusAcknowledged)
	}

	now := m.now()
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &now
	if err := m.store.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	m.publish(newEvent(EventTypeAcknowledged, a))
	return a, nil
}

func (m *Manager) Resolve(ctx context.Context, id string) (*Alert, error) {
	a, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusResolved {
		return nil, fmt.Errorf("%w: already resolved", ErrInvalidTransition)
	}

	now := m.now()
	a.Status = StatusResolved
	a.ResolvedAt = &now
	if err := m.store.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}
	m.publish(newEvent(EventTypeResolved, a))
	return a, nil
}

func (m *Manager) List(ctx context.Context, filter Filter) ([]Alert, error) {
	return m.store.ListAlerts(ctx, filter)
}

func (m *Manager) publish(event eventbus.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(event); err != nil {
		m.logger.Debug("publish alert event", "type", event.Type(), "error", err)
	}
}
