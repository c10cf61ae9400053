package workflow

import (
	"context"
	"sort"
	"sync"
)

// CycleStore persists the audit record of finished cycles.
type CycleStore interface {
	SaveCycle(ctx context.Context, result *CycleResult) error
	GetCycle(ctx context.Context, cycleID string) (*CycleResult, error)
	ListCycles(ctx context.Context, filter CycleFilter) ([]*CycleResult, error)
}

type CycleFilter struct {
	Outcome     Outcome
	ExcludeNoop bool // drop cycles that never got past the trigger
	Limit       int
}

type InMemoryCycleStore struct {
	cycles map[string]*CycleResult
	mu     sync.RWMutex
}

func NewInMemoryCycleStore() *InMemoryCycleStore {
	return &InMemoryCycleStore{
		cycles: make(map[string]*CycleResult),
	}
}

func (s *InMemoryCycleStore) SaveCycle(ctx context.Context, result *CycleResult) error {
	if result == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles[result.CycleID] = result
	return nil
}

func (s *InMemoryCycleStore) GetCycle(ctx context.Context, cycleID string) (*CycleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, exists := s.cycles[cycleID]
	if !exists {
		return nil, ErrCycleNotFound
	}
	return result, nil
}

// ListCycles returns matching cycles, newest first.
func (s *InMemoryCycleStore) ListCycles(ctx context.Context, filter CycleFilter) ([]*CycleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*CycleResult, 0, len(s.cycles))
	for _, r := range s.cycles {
		if filter.Outcome != "" && r.Outcome != filter.Outcome {
			continue
		}
		if filter.ExcludeNoop && r.Outcome == OutcomeNoop {
			continue
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

var _ CycleStore = (*InMemoryCycleStore)(nil)
