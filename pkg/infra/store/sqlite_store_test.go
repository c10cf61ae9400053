package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/retrainer/pkg/alert"
	"github.com/jguan/retrainer/pkg/infra/eventbus"
	"github.com/jguan/retrainer/pkg/production"
	"github.com/jguan/retrainer/pkg/workflow"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "retrainer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func cycleAt(id string, outcome workflow.Outcome, started time.Time) *workflow.CycleResult {
	state := workflow.NewPipelineState(id)
	state.NewDataLocation = "s3://training/new/"
	state.CandidateMetrics = workflow.Metrics{"accuracy": 0.92}
	return &workflow.CycleResult{
		CycleID: id,
		Outcome: outcome,
		State:   state,
		Stages: []workflow.StageResult{
			{Stage: workflow.StageTrigger, Status: workflow.ExecutionStatusCompleted, StartedAt: started, Duration: time.Millisecond},
		},
		Notification: "note " + id,
		StartedAt:    started,
		CompletedAt:  started.Add(time.Second),
		Duration:     time.Second,
	}
}

func TestSQLiteStore_Cycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.SaveCycle(ctx, cycleAt("c1", workflow.OutcomeNoop, base)))
	require.NoError(t, s.SaveCycle(ctx, cycleAt("c2", workflow.OutcomeDeployed, base.Add(time.Minute))))
	require.NoError(t, s.SaveCycle(ctx, cycleAt("c3", workflow.OutcomeNoop, base.Add(2*time.Minute))))

	t.Run("get round trips the record", func(t *testing.T) {
		got, err := s.GetCycle(ctx, "c2")
		require.NoError(t, err)
		assert.Equal(t, workflow.OutcomeDeployed, got.Outcome)
		if diff := cmp.Diff(cycleAt("c2", workflow.OutcomeDeployed, base).State, got.State); diff != "" {
			t.Errorf("state mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, time.Second, got.Duration)
		require.Len(t, got.Stages, 1)
		assert.Equal(t, workflow.StageTrigger, got.Stages[0].Stage)
	})

	t.Run("missing cycle", func(t *testing.T) {
		_, err := s.GetCycle(ctx, "nope")
		assert.ErrorIs(t, err, workflow.ErrCycleNotFound)
	})

	t.Run("list newest first with filter", func(t *testing.T) {
		all, err := s.ListCycles(ctx, workflow.CycleFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "c3", all[0].CycleID)

		noops, err := s.ListCycles(ctx, workflow.CycleFilter{Outcome: workflow.OutcomeNoop, Limit: 1})
		require.NoError(t, err)
		require.Len(t, noops, 1)
		assert.Equal(t, "c3", noops[0].CycleID)
	})

	t.Run("last processed cycle", func(t *testing.T) {
		got, err := s.ListCycles(ctx, workflow.CycleFilter{ExcludeNoop: true, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c2", got[0].CycleID)
	})

	t.Run("resave replaces", func(t *testing.T) {
		r := cycleAt("c1", workflow.OutcomeAlerted, base)
		require.NoError(t, s.SaveCycle(ctx, r))
		got, err := s.GetCycle(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, workflow.OutcomeAlerted, got.Outcome)
	})

	t.Run("data fingerprint is kept", func(t *testing.T) {
		r := cycleAt("c4", workflow.OutcomeDeployed, base.Add(3*time.Minute))
		r.DataFingerprint = workflow.Fingerprint("training/new/", []string{"new/a.csv"})
		require.NoError(t, s.SaveCycle(ctx, r))

		got, err := s.ListCycles(ctx, workflow.CycleFilter{ExcludeNoop: true, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, r.DataFingerprint, got[0].DataFingerprint)
	})
}

func TestSQLiteStore_Production(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Current(ctx)
	assert.ErrorIs(t, err, production.ErrNoProductionModel)

	metrics, err := production.Baseline{Store: s}.ProductionMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, metrics)

	require.NoError(t, s.Promote(ctx, &production.Model{
		Version:     "20261019-0100",
		CycleID:     "c1",
		SourcePath:  "/work/c1/model.pt",
		ArtifactURI: "s3://training/production/20261019-0100/model.pt",
		Metrics:     workflow.Metrics{"accuracy": 0.91},
	}))
	require.NoError(t, s.Promote(ctx, &production.Model{
		Version:    "20261019-0200",
		CycleID:    "c2",
		SourcePath: "/work/c2/model.pt",
		Metrics:    workflow.Metrics{"accuracy": 0.92, "f1": 0.88},
	}))
	assert.ErrorIs(t, s.Promote(ctx, &production.Model{Version: "20261019-0100", SourcePath: "x"}), production.ErrVersionExists)

	cur, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20261019-0200", cur.Version)
	assert.Equal(t, workflow.Metrics{"accuracy": 0.92, "f1": 0.88}, cur.Metrics)
	assert.False(t, cur.DeployedAt.IsZero())

	hist, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "20261019-0100", hist[1].Version)
	assert.Equal(t, "s3://training/production/20261019-0100/model.pt", hist[1].ArtifactURI)
}

func TestSQLiteStore_Alerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := alert.NewManager(s, nil, nil)

	a, err := m.Raise(ctx, "c1", alert.SeverityWarning, "model rejected")
	require.NoError(t, err)
	_, err = m.Raise(ctx, "c2", alert.SeverityCritical, "deploy failed")
	require.NoError(t, err)

	got, err := s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "model rejected", got.Message)
	assert.Nil(t, got.AcknowledgedAt)

	_, err = m.Acknowledge(ctx, a.ID)
	require.NoError(t, err)
	got, err = s.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.StatusAcknowledged, got.Status)
	require.NotNil(t, got.AcknowledgedAt)

	firing, err := s.ListAlerts(ctx, alert.Filter{Status: alert.StatusFiring})
	require.NoError(t, err)
	require.Len(t, firing, 1)
	assert.Equal(t, "c2", firing[0].CycleID)

	byCycle, err := s.ListAlerts(ctx, alert.Filter{CycleID: "c1"})
	require.NoError(t, err)
	assert.Len(t, byCycle, 1)

	_, err = s.GetAlert(ctx, "missing")
	assert.ErrorIs(t, err, alert.ErrAlertNotFound)
	assert.ErrorIs(t, s.UpdateAlert(ctx, &alert.Alert{ID: "missing"}), alert.ErrAlertNotFound)
}

func TestSQLiteStore_SharesDBWithEventStore(t *testing.T) {
	s := newTestStore(t)
	events, err := eventbus.NewSQLiteEventStore(s.DB())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, events.Save(ctx, eventbus.NewEvent("cycle.started", "retrain", "c1", nil)))
	got, err := events.Query(ctx, eventbus.EventQueryFilter{CorrelationID: "c1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveCycle(context.Background(), cycleAt("m1", workflow.OutcomeNoop, time.Now())))
	_, err = s.GetCycle(context.Background(), "m1")
	assert.NoError(t, err)
}
