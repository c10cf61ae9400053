package alert

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Status string

const (
	StatusFiring       Status = "firing"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert is a human-facing record of a cycle that did not end in a deploy.
type Alert struct {
	ID             string     `json:"id" yaml:"id"`
	CycleID        string     `json:"cycle_id,omitempty" yaml:"cycle_id,omitempty"`
	Severity       Severity   `json:"severity" yaml:"severity"`
	Status         Status     `json:"status" yaml:"status"`
	Message        string     `json:"message" yaml:"message"`
	TriggeredAt    time.Time  `json:"triggered_at" yaml:"triggered_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" yaml:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
}

// Active reports whether the alert still needs attention.
func (a *Alert) Active() bool {
	return a.Status == StatusFiring || a.Status == StatusAcknowledged
}

type Filter struct {
	CycleID  string
	Status   Status
	Severity Severity
	Limit    int
}
