package production

import (
	"context"
	"errors"
	"sync"

	"github.com/jguan/retrainer/pkg/workflow"
)

var (
	ErrNoProductionModel = errors.New("no model in production")
	ErrVersionExists     = errors.New("model version already promoted")
)

// Store is the production model pointer plus its history.
type Store interface {
	Current(ctx context.Context) (*Model, error)
	Promote(ctx context.Context, m *Model) error
	History(ctx context.Context, limit int) ([]Model, error)
}

type MemoryStore struct {
	history []Model
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Current(ctx context.Context) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return nil, ErrNoProductionModel
	}
	m := s.history[len(s.history)-1]
	m.Metrics = m.Metrics.Clone()
	return &m, nil
}

func (s *MemoryStore) Promote(ctx context.Context, m *Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.history {
		if h.Version == m.Version {
			return ErrVersionExists
		}
	}
	stored := *m
	stored.Metrics = m.Metrics.Clone()
	s.history = append(s.history, stored)
	return nil
}

// History returns promotions newest first.
func (s *MemoryStore) History(ctx context.Context, limit int) ([]Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Model, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		out = append(out, s.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

// Baseline exposes the current production metrics to the training stage.
type Baseline struct {
	Store Store
}

func (b Baseline) ProductionMetrics(ctx context.Context) (workflow.Metrics, error) {
	m, err := b.Store.Current(ctx)
	if errors.Is(err, ErrNoProductionModel) {
		return workflow.Metrics{}, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Metrics, nil
}

var _ workflow.BaselineProvider = Baseline{}
