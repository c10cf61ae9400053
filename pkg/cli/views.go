package cli

import (
	"strings"
	"time"

	"github.com/jguan/retrainer/pkg/workflow"
)

// Table output flattens records into these rows; json and yaml print the
// records themselves.

type cycleRow struct {
	CycleID  string `json:"cycle_id"`
	Outcome  string `json:"outcome"`
	Decision string `json:"decision"`
	Started  string `json:"started"`
	Duration string `json:"duration"`
	Failure  string `json:"failure"`
}

type cycleDetail struct {
	CycleID      string `json:"cycle_id"`
	Outcome      string `json:"outcome"`
	Stages       string `json:"stages"`
	DataLocation string `json:"data_location"`
	Fingerprint  string `json:"fingerprint"`
	DataQuality  string `json:"data_quality"`
	Version      string `json:"version"`
	Candidate    string `json:"candidate"`
	Metrics      string `json:"metrics"`
	Production   string `json:"production"`
	Decision     string `json:"decision"`
	Failure      string `json:"failure"`
	Notification string `json:"notification"`
	Started      string `json:"started"`
	Duration     string `json:"duration"`
}

func newCycleRow(r *workflow.CycleResult) cycleRow {
	row := cycleRow{
		CycleID:  r.CycleID,
		Outcome:  string(r.Outcome),
		Started:  formatTime(r.StartedAt),
		Duration: r.Duration.Round(time.Millisecond).String(),
	}
	if r.State != nil {
		row.Decision = string(r.State.DeploymentDecision)
		row.Failure = r.State.FailureReport
	}
	return row
}

func newCycleDetail(r *workflow.CycleResult) cycleDetail {
	stages := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		name := string(s.Stage)
		if s.Status == workflow.ExecutionStatusFailed {
			name += "(failed)"
		}
		stages = append(stages, name)
	}

	d := cycleDetail{
		CycleID:      r.CycleID,
		Outcome:      string(r.Outcome),
		Stages:       strings.Join(stages, " > "),
		Fingerprint:  shortFingerprint(r.DataFingerprint),
		Notification: r.Notification,
		Started:      formatTime(r.StartedAt),
		Duration:     r.Duration.Round(time.Millisecond).String(),
	}
	if s := r.State; s != nil {
		d.DataLocation = s.NewDataLocation
		d.DataQuality = s.DataQualityReport
		d.Version = s.ModelVersion
		d.Candidate = s.CandidateModelPath
		d.Metrics = s.CandidateMetrics.String()
		d.Production = s.ProductionMetrics.String()
		d.Decision = string(s.DeploymentDecision)
		d.Failure = s.FailureReport
	}
	return d
}

func printCycle(r *workflow.CycleResult, opts *OutputOptions) error {
	if opts.Format == OutputTable {
		return PrintOutput(newCycleDetail(r), opts)
	}
	return PrintOutput(r, opts)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(time.RFC3339)
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
