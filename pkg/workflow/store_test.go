package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCycleStore(t *testing.T) {
	store := NewInMemoryCycleStore()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.SaveCycle(ctx, nil))
	for i, outcome := range []Outcome{OutcomeNoop, OutcomeDeployed, OutcomeAlerted, OutcomeNoop} {
		require.NoError(t, store.SaveCycle(ctx, &CycleResult{
			CycleID:   string(rune('a' + i)),
			Outcome:   outcome,
			State:     NewPipelineState(string(rune('a' + i))),
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	t.Run("get", func(t *testing.T) {
		got, err := store.GetCycle(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeployed, got.Outcome)

		_, err = store.GetCycle(ctx, "zzz")
		assert.ErrorIs(t, err, ErrCycleNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		all, err := store.ListCycles(ctx, CycleFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "d", all[0].CycleID)
	})

	t.Run("filter and limit", func(t *testing.T) {
		noops, err := store.ListCycles(ctx, CycleFilter{Outcome: OutcomeNoop, Limit: 1})
		require.NoError(t, err)
		require.Len(t, noops, 1)
		assert.Equal(t, "d", noops[0].CycleID)
	})

	t.Run("exclude noop", func(t *testing.T) {
		got, err := store.ListCycles(ctx, CycleFilter{ExcludeNoop: true})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "c", got[0].CycleID)
		assert.Equal(t, "b", got[1].CycleID)
	})
}
