package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jguan/retrainer/pkg/workflow"
)

// CycleMetrics counts cycle outcomes. It implements workflow.Observer and
// uses lock-free counters except for the last-cycle record.
type CycleMetrics struct {
	total         atomic.Int64
	noop          atomic.Int64
	deployed      atomic.Int64
	alerted       atomic.Int64
	failed        atomic.Int64
	skipped       atomic.Int64
	totalDuration atomic.Int64 // milliseconds

	mu   sync.RWMutex
	last *LastCycle
}

type LastCycle struct {
	CycleID     string           `json:"cycle_id"`
	Outcome     workflow.Outcome `json:"outcome"`
	CompletedAt time.Time        `json:"completed_at"`
	DurationMs  int64            `json:"duration_ms"`
}

func NewCycleMetrics() *CycleMetrics {
	return &CycleMetrics{}
}

func (m *CycleMetrics) ObserveCycle(res *workflow.CycleResult) {
	if res == nil {
		return
	}
	m.total.Add(1)
	m.totalDuration.Add(res.Duration.Milliseconds())
	switch res.Outcome {
	case workflow.OutcomeNoop:
		m.noop.Add(1)
	case workflow.OutcomeDeployed:
		m.deployed.Add(1)
	case workflow.OutcomeAlerted:
		m.alerted.Add(1)
	}
	if res.State != nil && res.State.FailureReport != "" {
		m.failed.Add(1)
	}

	m.mu.Lock()
	m.last = &LastCycle{
		CycleID:     res.CycleID,
		Outcome:     res.Outcome,
		CompletedAt: res.CompletedAt,
		DurationMs:  res.Duration.Milliseconds(),
	}
	m.mu.Unlock()
}

// RecordSkipped counts a tick that found another cycle still running.
func (m *CycleMetrics) RecordSkipped() {
	m.skipped.Add(1)
}

// Snapshot returns a point-in-time snapshot of the counters.
func (m *CycleMetrics) Snapshot() CycleSnapshot {
	total := m.total.Load()
	var avg float64
	if total > 0 {
		avg = float64(m.totalDuration.Load()) / float64(total)
	}

	snap := CycleSnapshot{
		Total:         total,
		Noop:          m.noop.Load(),
		Deployed:      m.deployed.Load(),
		Alerted:       m.alerted.Load(),
		Failed:        m.failed.Load(),
		Skipped:       m.skipped.Load(),
		AvgDurationMs: avg,
	}

	m.mu.RLock()
	if m.last != nil {
		last := *m.last
		snap.Last = &last
	}
	m.mu.RUnlock()
	return snap
}

// CycleSnapshot is an immutable snapshot of cycle metrics at a point in time.
type CycleSnapshot struct {
	Total         int64      `json:"total"`
	Noop          int64      `json:"noop"`
	Deployed      int64      `json:"deployed"`
	Alerted       int64      `json:"alerted"`
	Failed        int64      `json:"failed"`
	Skipped       int64      `json:"skipped"`
	AvgDurationMs float64    `json:"avg_duration_ms"`
	Last          *LastCycle `json:"last,omitempty"`
}

var _ workflow.Observer = (*CycleMetrics)(nil)
