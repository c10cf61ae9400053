package alert

import (
	"github.com/jguan/retrainer/pkg/infra/eventbus"
)

const Domain = "alert"

const (
	EventTypeTriggered    = "alert.triggered"
	EventTypeAcknowledged = "alert.acknowledged"
	EventTypeResolved     = "alert.resolved"
)

func newEvent(eventType string, a *Alert) eventbus.Event {
	// Alerts correlate with the cycle that raised them.
	return eventbus.NewEvent(eventType, Domain, a.CycleID, alertToMap(a))
}

func alertToMap(a *Alert) map[string]any {
	m := map[string]any{
		"id":           a.ID,
		"severity":     string(a.Severity),
		"status":       string(a.Status),
		"message":      a.Message,
		"triggered_at": a.TriggeredAt.Unix(),
	}
	if a.CycleID != "" {
		m["cycle_id"] = a.CycleID
	}
	if a.AcknowledgedAt != nil {
		m["acknowledged_at"] = a.AcknowledgedAt.Unix()
	}
	if a.ResolvedAt != nil {
		m["resolved_at"] = a.ResolvedAt.Unix()
	}
	return m
}
