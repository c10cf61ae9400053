package workflow

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a stage failed.
type ErrorKind string

const (
	KindTransientInfra    ErrorKind = "transient_infra"
	KindDataQuality       ErrorKind = "data_quality"
	KindTrainingFailure   ErrorKind = "training_failure"
	KindDecisionFailure   ErrorKind = "decision_failure"
	KindDeploymentFailure ErrorKind = "deployment_failure"
	KindCancelled         ErrorKind = "cancelled"
	KindConfig            ErrorKind = "config"
)

var (
	ErrCycleNotFound       = errors.New("cycle not found")
	ErrMissingCollaborator = errors.New("missing collaborator")
)

// StageError is the single error type stages produce. Its text is what ends
// up in PipelineState.FailureReport.
type StageError struct {
	Kind    ErrorKind
	Stage   StageName
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// Is matches another *StageError with the same kind.
func (e *StageError) Is(target error) bool {
	var t *StageError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func NewStageError(kind ErrorKind, stage StageName, message string, cause error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Message: message, Cause: cause}
}

// errCancelled renders exactly "cancelled".
var errCancelled = &StageError{Kind: KindCancelled, Message: "cancelled"}

// KindOf returns the kind carried by err, or "" when err is not a StageError.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func IsTransient(err error) bool {
	return IsKind(err, KindTransientInfra)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// describe adds a timeout hint so alerts distinguish hangs from refusals.
func describe(action string, err error) string {
	if isTimeout(err) {
		return action + " timed out"
	}
	return action
}
