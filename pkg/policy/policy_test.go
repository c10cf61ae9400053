package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jguan/retrainer/pkg/workflow"
)

func TestThresholdComparator(t *testing.T) {
	tests := []struct {
		name       string
		metric     string
		min        float64
		candidate  workflow.Metrics
		production workflow.Metrics
		want       workflow.Decision
	}{
		{name: "better", candidate: workflow.Metrics{"accuracy": 0.93}, production: workflow.Metrics{"accuracy": 0.92}, want: workflow.DecisionApprove},
		{name: "worse", candidate: workflow.Metrics{"accuracy": 0.90}, production: workflow.Metrics{"accuracy": 0.92}, want: workflow.DecisionReject},
		{name: "equal", candidate: workflow.Metrics{"accuracy": 0.92}, production: workflow.Metrics{"accuracy": 0.92}, want: workflow.DecisionApprove},
		{name: "below margin", min: 0.02, candidate: workflow.Metrics{"accuracy": 0.93}, production: workflow.Metrics{"accuracy": 0.92}, want: workflow.DecisionReject},
		{name: "no baseline", candidate: workflow.Metrics{"accuracy": 0.5}, production: workflow.Metrics{}, want: workflow.DecisionApprove},
		{name: "nil baseline", candidate: workflow.Metrics{"accuracy": 0.5}, want: workflow.DecisionApprove},
		{name: "loss lower wins", metric: "val_loss", candidate: workflow.Metrics{"val_loss": 0.2}, production: workflow.Metrics{"val_loss": 0.3}, want: workflow.DecisionApprove},
		{name: "loss higher loses", metric: "val_loss", candidate: workflow.Metrics{"val_loss": 0.4}, production: workflow.Metrics{"val_loss": 0.3}, want: workflow.DecisionReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewThresholdComparator(tt.metric, tt.min)
			got, err := c.Compare(context.Background(), tt.candidate, tt.production)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestThresholdComparator_MissingMetric(t *testing.T) {
	c := NewThresholdComparator("f1", 0)
	got, err := c.Compare(context.Background(), workflow.Metrics{"accuracy": 0.9}, workflow.Metrics{"f1": 0.8})
	assert.ErrorIs(t, err, ErrMissingMetric)
	assert.Equal(t, workflow.DecisionUndecided, got)
}

func TestLowerIsBetter(t *testing.T) {
	assert.True(t, LowerIsBetter("val_loss"))
	assert.True(t, LowerIsBetter("RMSE"))
	assert.False(t, LowerIsBetter("accuracy"))
	assert.False(t, LowerIsBetter("f1"))
}

type fakeStorage struct {
	keys []string
	err  error
}

func (f fakeStorage) ListNewObjects(context.Context, string) ([]string, error) {
	return f.keys, f.err
}

func TestObjectAssessor(t *testing.T) {
	tests := []struct {
		name    string
		min     int
		allowed []string
		keys    []string
		want    string
	}{
		{name: "accept", min: 2, allowed: []string{"csv", ".PARQUET"}, keys: []string{"new/a.csv", "new/b.parquet"}, want: ""},
		{name: "too few", min: 3, keys: []string{"new/a.csv"}, want: "found 1 objects, need at least 3"},
		{name: "one bad extension", allowed: []string{".csv"}, keys: []string{"new/a.csv", "new/b.tmp"}, want: "unsupported file type: new/b.tmp"},
		{name: "many bad", allowed: []string{".csv"}, keys: []string{"new/a.tmp", "new/b", "new/c.csv"}, want: "unsupported file types: new/a.tmp (+1 more)"},
		{name: "any extension", keys: []string{"new/whatever.bin"}, want: ""},
		{name: "empty batch", keys: nil, want: "found 0 objects, need at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewObjectAssessor(fakeStorage{keys: tt.keys}, tt.min, tt.allowed)
			reason, err := a.Assess(context.Background(), "s3://training/new/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestObjectAssessor_StorageError(t *testing.T) {
	a := NewObjectAssessor(fakeStorage{err: assert.AnError}, 1, nil)
	_, err := a.Assess(context.Background(), "s3://training/new/")
	assert.ErrorIs(t, err, assert.AnError)
}
