package production

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/retrainer/pkg/workflow"
)

func TestMemoryStore_PromoteAndCurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Current(ctx)
	assert.ErrorIs(t, err, ErrNoProductionModel)

	require.NoError(t, s.Promote(ctx, &Model{Version: "v1", Metrics: workflow.Metrics{"accuracy": 0.9}, DeployedAt: time.Now()}))
	require.NoError(t, s.Promote(ctx, &Model{Version: "v2", Metrics: workflow.Metrics{"accuracy": 0.93}, DeployedAt: time.Now()}))
	assert.ErrorIs(t, s.Promote(ctx, &Model{Version: "v1"}), ErrVersionExists)

	cur, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", cur.Version)

	cur.Metrics["accuracy"] = 0
	again, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.93, again.Metrics["accuracy"], "callers get copies")

	hist, err := s.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "v2", hist[0].Version)
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Current(ctx context.Context) (*Model, error) {
	return nil, errors.New("database is locked")
}

func TestBaseline(t *testing.T) {
	ctx := context.Background()

	t.Run("empty registry yields empty baseline", func(t *testing.T) {
		m, err := Baseline{Store: NewMemoryStore()}.ProductionMetrics(ctx)
		require.NoError(t, err)
		assert.Empty(t, m)
	})

	t.Run("current model metrics", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Promote(ctx, &Model{Version: "v1", Metrics: workflow.Metrics{"accuracy": 0.91}}))
		m, err := Baseline{Store: s}.ProductionMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, workflow.Metrics{"accuracy": 0.91}, m)
	})

	t.Run("store errors propagate", func(t *testing.T) {
		_, err := Baseline{Store: &failingStore{}}.ProductionMetrics(ctx)
		assert.Error(t, err)
	})
}
