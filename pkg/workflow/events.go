package workflow

import (
	"github.com/jguan/retrainer/pkg/infra/eventbus"
)

const EventDomain = "retrain"

const (
	EventCycleStarted   = "cycle.started"
	EventStageCompleted = "stage.completed"
	EventCycleCompleted = "cycle.completed"
)

// EventPublisher is satisfied by every eventbus.EventBus.
type EventPublisher interface {
	Publish(event eventbus.Event) error
}

func newCycleStartedEvent(cycleID string) eventbus.Event {
	return eventbus.NewEvent(EventCycleStarted, EventDomain, cycleID, map[string]any{
		"cycle_id": cycleID,
	})
}

func newStageEvent(cycleID string, r StageResult) eventbus.Event {
	payload := map[string]any{
		"cycle_id":    cycleID,
		"stage":       string(r.Stage),
		"status":      string(r.Status),
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Error != "" {
		payload["error"] = r.Error
		payload["error_kind"] = string(r.ErrorKind)
	}
	return eventbus.NewEvent(EventStageCompleted, EventDomain, cycleID, payload)
}

func newCycleCompletedEvent(r *CycleResult) eventbus.Event {
	payload := map[string]any{
		"cycle_id":    r.CycleID,
		"outcome":     string(r.Outcome),
		"decision":    string(r.State.DeploymentDecision),
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.State.FailureReport != "" {
		payload["failure_report"] = r.State.FailureReport
	}
	if r.State.DataQualityReport != "" {
		payload["data_quality_report"] = r.State.DataQualityReport
	}
	return eventbus.NewEvent(EventCycleCompleted, EventDomain, r.CycleID, payload)
}
