package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NoNewData is the value of PipelineState.NewDataLocation when the trigger
// found nothing to train on.
const NoNewData = "NONE"

type Decision string

const (
	DecisionUndecided Decision = "UNDECIDED"
	DecisionApprove   Decision = "APPROVE"
	DecisionReject    Decision = "REJECT"
)

// Valid reports whether d is a terminal decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ParseDecision maps free text (e.g. an LLM reply) onto a decision.
// Anything unrecognised yields DecisionUndecided.
func ParseDecision(s string) Decision {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, string(DecisionApprove)):
		return DecisionApprove
	case strings.HasPrefix(s, string(DecisionReject)):
		return DecisionReject
	default:
		return DecisionUndecided
	}
}

type StageName string

const (
	StageTrigger  StageName = "trigger"
	StageValidate StageName = "validate"
	StageTrain    StageName = "train"
	StageAnalyze  StageName = "analyze"
	StageDeploy   StageName = "deploy"
	StageAlert    StageName = "alert"
)

type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeNoop     Outcome = "noop"
	OutcomeDeployed Outcome = "deployed"
	OutcomeAlerted  Outcome = "alerted"
)

// Metrics maps a metric name to its value.
type Metrics map[string]float64

func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String renders metrics in a stable order, e.g. "accuracy=0.9200 f1=0.8800".
func (m Metrics) String() string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.4f", k, m[k]))
	}
	return strings.Join(parts, " ")
}

// PipelineState is the record threaded through one cycle. It is owned by
// exactly one cycle and is never shared.
type PipelineState struct {
	CycleID            string   `json:"cycle_id" yaml:"cycle_id"`
	NewDataLocation    string   `json:"new_data_location,omitempty" yaml:"new_data_location,omitempty"`
	DataQualityReport  string   `json:"data_quality_report,omitempty" yaml:"data_quality_report,omitempty"`
	CandidateModelPath string   `json:"candidate_model_path,omitempty" yaml:"candidate_model_path,omitempty"`
	ModelVersion       string   `json:"model_version,omitempty" yaml:"model_version,omitempty"`
	CandidateMetrics   Metrics  `json:"candidate_metrics,omitempty" yaml:"candidate_metrics,omitempty"`
	ProductionMetrics  Metrics  `json:"production_metrics,omitempty" yaml:"production_metrics,omitempty"`
	DeploymentDecision Decision `json:"deployment_decision" yaml:"deployment_decision"`
	FailureReport      string   `json:"failure_report,omitempty" yaml:"failure_report,omitempty"`
}

func NewPipelineState(cycleID string) *PipelineState {
	return &PipelineState{
		CycleID:            cycleID,
		DeploymentDecision: DecisionUndecided,
	}
}

// HasNoNewData reports whether the trigger marked this cycle as empty.
func (s *PipelineState) HasNoNewData() bool {
	return s.NewDataLocation == NoNewData
}

// Fail records report as the cycle's failure. The first report wins; later
// calls are ignored and return false.
func (s *PipelineState) Fail(report string) bool {
	if s.FailureReport != "" || report == "" {
		return false
	}
	s.FailureReport = report
	return true
}

// Halted reports whether the linear part of the cycle must stop.
func (s *PipelineState) Halted() bool {
	return s.HasNoNewData() || s.DataQualityReport != "" || s.FailureReport != ""
}

func (s *PipelineState) Clone() *PipelineState {
	c := *s
	c.CandidateMetrics = s.CandidateMetrics.Clone()
	c.ProductionMetrics = s.ProductionMetrics.Clone()
	return &c
}

type StageResult struct {
	Stage     StageName       `json:"stage" yaml:"stage"`
	Status    ExecutionStatus `json:"status" yaml:"status"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt time.Time       `json:"started_at" yaml:"started_at"`
	Duration  time.Duration   `json:"duration" yaml:"duration"`
}

// CycleResult is the audit record of one cycle.
type CycleResult struct {
	CycleID      string         `json:"cycle_id" yaml:"cycle_id"`
	Outcome      Outcome        `json:"outcome" yaml:"outcome"`
	State        *PipelineState `json:"state" yaml:"state"`
	Stages       []StageResult  `json:"stages" yaml:"stages"`
	Notification string         `json:"notification,omitempty" yaml:"notification,omitempty"`
	StartedAt    time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt  time.Time      `json:"completed_at" yaml:"completed_at"`
	Duration     time.Duration  `json:"duration" yaml:"duration"`

	// DataFingerprint identifies the object listing the cycle worked on.
	DataFingerprint string `json:"data_fingerprint,omitempty" yaml:"data_fingerprint,omitempty"`
}

// StagesRun lists the stage names in execution order.
func (r *CycleResult) StagesRun() []StageName {
	names := make([]StageName, 0, len(r.Stages))
	for _, s := range r.Stages {
		names = append(names, s.Stage)
	}
	return names
}

// Ran reports whether the named stage executed in this cycle.
func (r *CycleResult) Ran(name StageName) bool {
	for _, s := range r.Stages {
		if s.Stage == name {
			return true
		}
	}
	return false
}

// Settled reports whether the cycle reached a verdict on its data: the
// candidate was deployed, or the data or the candidate was rejected. Cycles
// that ended on a failure are not settled and their data is tried again.
func (r *CycleResult) Settled() bool {
	if r.State == nil || r.State.FailureReport != "" {
		return false
	}
	switch r.Outcome {
	case OutcomeDeployed:
		return true
	case OutcomeAlerted:
		return r.State.DataQualityReport != "" || r.State.DeploymentDecision == DecisionReject
	default:
		return false
	}
}
