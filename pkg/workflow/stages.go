package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/jguan/retrainer/pkg/infra/logger"
)

// stageFunc runs one stage against the cycle. Whatever it returns has
// already been folded into the state; the error only feeds the audit trail.
type stageFunc func(ctx context.Context, run *cycleRun) error

// DataLocation renders the "<bucket>/<prefix>" path the trigger lists as a URI.
func DataLocation(prefix string) string {
	return "s3://" + strings.TrimPrefix(prefix, "s3://")
}

// Fingerprint identifies one listing of new data: the prefix plus the set of
// object keys, independent of listing order.
func Fingerprint(prefix string, keys []string) string {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)

	h := sha256.New()
	h.Write([]byte(prefix))
	for _, k := range sorted {
		h.Write([]byte{'\n'})
		h.Write([]byte(k))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) trigger(ctx context.Context, run *cycleRun) error {
	prefix := e.NewDataPrefix()

	cctx, cancel := e.callContext(ctx, e.cfg.StageTimeout)
	defer cancel()

	objects, err := e.c.Storage.ListNewObjects(cctx, prefix)
	if err != nil {
		serr := NewStageError(KindTransientInfra, StageTrigger, describe("list new objects under "+prefix, err), err)
		if ctx.Err() != nil {
			return e.fail(ctx, run, serr)
		}
		// A storage outage degrades to an empty cycle so the caller keeps ticking.
		run.state.NewDataLocation = NoNewData
		run.state.Fail(serr.Error())
		return serr
	}

	if len(objects) == 0 {
		run.state.NewDataLocation = NoNewData
		return nil
	}

	fp := Fingerprint(prefix, objects)
	run.result.DataFingerprint = fp
	if prev := e.lastProcessed(cctx); prev != nil && prev.DataFingerprint == fp && prev.Settled() {
		run.state.NewDataLocation = NoNewData
		logger.Enrich(ctx, e.logger).Info("new data already processed",
			"previous_cycle", prev.CycleID, "previous_outcome", prev.Outcome, "objects", len(objects))
		return nil
	}

	run.state.NewDataLocation = DataLocation(prefix)
	run.state.FailureReport = ""
	run.objects = len(objects)
	return nil
}

func (e *Engine) validate(ctx context.Context, run *cycleRun) error {
	cctx, cancel := e.callContext(ctx, e.cfg.StageTimeout)
	defer cancel()

	reason, err := e.c.Assessor.Assess(cctx, run.state.NewDataLocation)
	if err != nil {
		return e.fail(ctx, run, NewStageError(KindTransientInfra, StageValidate, describe("assess data quality", err), err))
	}

	reason = strings.TrimSpace(reason)
	run.state.DataQualityReport = reason
	if reason != "" {
		return NewStageError(KindDataQuality, StageValidate, reason, nil)
	}
	return nil
}

func (e *Engine) train(ctx context.Context, run *cycleRun) error {
	baseline := Metrics{}
	if e.c.Baseline != nil {
		bctx, cancel := e.callContext(ctx, e.cfg.StageTimeout)
		current, err := e.c.Baseline.ProductionMetrics(bctx)
		cancel()
		if err != nil {
			return e.fail(ctx, run, NewStageError(KindTrainingFailure, StageTrain, describe("load production baseline", err), err))
		}
		if current != nil {
			baseline = current.Clone()
		}
	}

	cctx, cancel := e.callContext(ctx, e.cfg.TrainTimeout)
	defer cancel()

	res, err := e.c.Trainer.Train(cctx, run.state.NewDataLocation, baseline.Clone())
	if err != nil {
		return e.fail(ctx, run, NewStageError(KindTrainingFailure, StageTrain, describe("train candidate", err), err))
	}
	if res == nil || res.ModelPath == "" {
		serr := NewStageError(KindTrainingFailure, StageTrain, "trainer returned no model artifact", nil)
		run.state.Fail(serr.Error())
		return serr
	}

	run.state.CandidateModelPath = res.ModelPath
	run.state.ModelVersion = res.Version
	run.state.CandidateMetrics = res.Metrics.Clone()
	if run.state.CandidateMetrics == nil {
		run.state.CandidateMetrics = Metrics{}
	}
	run.state.ProductionMetrics = baseline
	if res.ProductionMetrics != nil {
		run.state.ProductionMetrics = res.ProductionMetrics.Clone()
	}
	return nil
}

func (e *Engine) analyze(ctx context.Context, run *cycleRun) error {
	cctx, cancel := e.callContext(ctx, e.cfg.StageTimeout)
	defer cancel()

	// Collaborators get copies; the state's metrics stay as Train wrote them.
	decision, err := e.c.Comparator.Compare(cctx, run.state.CandidateMetrics.Clone(), run.state.ProductionMetrics.Clone())
	if err != nil {
		run.state.DeploymentDecision = DecisionReject
		return e.fail(ctx, run, NewStageError(KindDecisionFailure, StageAnalyze, describe("compare metrics", err), err))
	}

	if !decision.Valid() {
		serr := NewStageError(KindDecisionFailure, StageAnalyze, "analysis produced no decision", nil)
		run.state.DeploymentDecision = DecisionReject
		run.state.Fail(serr.Error())
		return serr
	}

	run.state.DeploymentDecision = decision
	return nil
}

func (e *Engine) deploy(ctx context.Context, run *cycleRun) error {
	cctx, cancel := e.callContext(ctx, e.cfg.StageTimeout)
	defer cancel()

	err := e.c.Deployer.Deploy(cctx, Candidate{
		CycleID:    run.state.CycleID,
		ModelPath:  run.state.CandidateModelPath,
		Version:    run.state.ModelVersion,
		Metrics:    run.state.CandidateMetrics.Clone(),
		Production: run.state.ProductionMetrics.Clone(),
	})
	if err != nil {
		return e.fail(ctx, run, NewStageError(KindDeploymentFailure, StageDeploy, describe("promote "+run.state.CandidateModelPath, err), err))
	}

	e.notify(ctx, run, DeploySummary(run.state))
	return nil
}

// fail records serr as the cycle's failure. When the cycle itself was
// cancelled while the stage ran, the report is "cancelled" instead.
func (e *Engine) fail(ctx context.Context, run *cycleRun, serr *StageError) *StageError {
	if ctx.Err() != nil {
		run.state.Fail(errCancelled.Error())
		return NewStageError(KindCancelled, serr.Stage, errCancelled.Message, serr.Cause)
	}
	run.state.Fail(serr.Error())
	return serr
}

// alert is terminal and never fails the cycle; a notifier error is only logged.
func (e *Engine) alert(ctx context.Context, run *cycleRun) error {
	return e.notify(ctx, run, AlertMessage(run.state))
}

func (e *Engine) notify(ctx context.Context, run *cycleRun, message string) error {
	run.result.Notification = message

	// Notifications still go out when the cycle itself was cancelled.
	nctx, cancel := e.callContext(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
	defer cancel()

	if err := e.c.Notifier.Notify(nctx, message); err != nil {
		logger.Enrich(ctx, e.logger).Warn("notifier failed", "error", err)
		return err
	}
	return nil
}
