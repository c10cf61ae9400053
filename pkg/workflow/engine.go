package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jguan/retrainer/pkg/infra/eventbus"
	"github.com/jguan/retrainer/pkg/infra/logger"
)

const (
	DefaultNewPrefix     = "new/"
	DefaultStageTimeout  = 2 * time.Minute
	DefaultTrainTimeout  = 2 * time.Hour
	DefaultNotifyTimeout = 30 * time.Second
)

// Config holds the engine settings that are not collaborators.
type Config struct {
	Bucket string
	// NewPrefix is where fresh training data lands inside Bucket.
	NewPrefix string
	// StageTimeout bounds every collaborator call except training.
	StageTimeout  time.Duration
	TrainTimeout  time.Duration
	NotifyTimeout time.Duration
}

// Observer is told about every finished cycle, e.g. to update counters.
type Observer interface {
	ObserveCycle(result *CycleResult)
}

// Engine runs retraining cycles. A single Engine may be shared, but callers
// must not run two cycles at once against the same production model.
type Engine struct {
	cfg       Config
	c         Collaborators
	store     CycleStore
	publisher EventPublisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	// last is the most recent cycle that got past the trigger, used when
	// there is no store to ask.
	mu   sync.Mutex
	last *CycleResult
}

type Option func(*Engine)

func WithStore(store CycleStore) Option {
	return func(e *Engine) { e.store = store }
}

func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

func NewEngine(cfg Config, c Collaborators, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("engine: bucket is required")
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.NewPrefix == "" {
		cfg.NewPrefix = DefaultNewPrefix
	}
	if cfg.StageTimeout == 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.TrainTimeout == 0 {
		cfg.TrainTimeout = DefaultTrainTimeout
	}
	if cfg.NotifyTimeout == 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}

	e := &Engine{
		cfg:    cfg,
		c:      c,
		logger: logger.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewDataPrefix is the "<bucket>/<prefix>" path the trigger lists.
func (e *Engine) NewDataPrefix() string {
	prefix := strings.TrimPrefix(e.cfg.NewPrefix, "/")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.TrimSuffix(e.cfg.Bucket, "/") + "/" + prefix
}

type cycleRun struct {
	state   *PipelineState
	result  *CycleResult
	objects int
}

var linearStages = []struct {
	name StageName
	run  func(e *Engine) stageFunc
}{
	{StageTrigger, func(e *Engine) stageFunc { return e.trigger }},
	{StageValidate, func(e *Engine) stageFunc { return e.validate }},
	{StageTrain, func(e *Engine) stageFunc { return e.train }},
	{StageAnalyze, func(e *Engine) stageFunc { return e.analyze }},
}

// Run executes one cycle to completion. It never returns an error: every
// failure is folded into the returned state and reported through the Notifier.
func (e *Engine) Run(ctx context.Context) *CycleResult {
	id := e.newID()
	started := e.now()
	ctx = logger.SetCycleID(ctx, id)
	log := logger.Enrich(ctx, e.logger)

	run := &cycleRun{
		state: NewPipelineState(id),
		result: &CycleResult{
			CycleID:   id,
			StartedAt: started,
		},
	}

	log.Info("cycle started", "prefix", e.NewDataPrefix())
	e.publish(ctx, newCycleStartedEvent(id))

	for _, st := range linearStages {
		if run.state.Halted() || e.interrupted(ctx, run) {
			break
		}
		e.runStage(ctx, run, st.name, st.run(e))
	}

	route, rule := NextRoute(run.state)
	log.Debug("route selected", "route", route.String(), "rule", rule)

	switch route {
	case RouteEnd:
		run.result.Outcome = OutcomeNoop
	case RouteDeploy:
		if !e.interrupted(ctx, run) {
			e.runStage(ctx, run, StageDeploy, e.deploy)
		}
		if run.state.FailureReport != "" {
			e.runStage(ctx, run, StageAlert, e.alert)
			run.result.Outcome = OutcomeAlerted
		} else {
			run.result.Outcome = OutcomeDeployed
		}
	case RouteAlert:
		e.runStage(ctx, run, StageAlert, e.alert)
		run.result.Outcome = OutcomeAlerted
	}

	return e.finish(ctx, run)
}

func (e *Engine) runStage(ctx context.Context, run *cycleRun, name StageName, fn stageFunc) {
	ctx = logger.SetStage(ctx, string(name))
	log := logger.Enrich(ctx, e.logger)
	start := e.now()

	err := fn(ctx, run)

	sr := StageResult{
		Stage:     name,
		Status:    ExecutionStatusCompleted,
		StartedAt: start,
		Duration:  e.now().Sub(start),
	}
	if err != nil {
		sr.Status = ExecutionStatusFailed
		sr.ErrorKind = KindOf(err)
		sr.Error = err.Error()
		log.Warn("stage failed", "kind", sr.ErrorKind, "error", err, "duration", sr.Duration)
	} else {
		log.Info("stage completed", "duration", sr.Duration)
	}

	run.result.Stages = append(run.result.Stages, sr)
	e.publish(ctx, newStageEvent(run.state.CycleID, sr))
}

// interrupted checks for cancellation at a stage boundary and, if the cycle
// was cancelled, records it as the cycle's failure.
func (e *Engine) interrupted(ctx context.Context, run *cycleRun) bool {
	if ctx.Err() == nil {
		return false
	}
	if run.state.Fail(errCancelled.Error()) {
		logger.Enrich(ctx, e.logger).Warn("cycle cancelled", "cause", context.Cause(ctx))
	}
	return true
}

func (e *Engine) finish(ctx context.Context, run *cycleRun) *CycleResult {
	res := run.result
	res.State = run.state
	res.CompletedAt = e.now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)

	log := logger.Enrich(ctx, e.logger)
	attrs := []any{
		"outcome", res.Outcome,
		"decision", run.state.DeploymentDecision,
		"stages", len(res.Stages),
		"duration", res.Duration,
	}
	if run.objects > 0 {
		attrs = append(attrs, "objects", run.objects)
	}
	if run.state.FailureReport != "" {
		attrs = append(attrs, "failure", run.state.FailureReport)
	}
	log.Info("cycle completed", attrs...)

	e.releaseArtifacts(ctx, run)

	if res.Outcome != OutcomeNoop {
		e.mu.Lock()
		e.last = res
		e.mu.Unlock()
	}
	if e.store != nil {
		sctx, cancel := e.callContext(context.WithoutCancel(ctx), e.cfg.StageTimeout)
		if err := e.store.SaveCycle(sctx, res); err != nil {
			log.Error("save cycle record", "error", err)
		}
		cancel()
	}
	if e.observer != nil {
		e.observer.ObserveCycle(res)
	}
	e.publish(ctx, newCycleCompletedEvent(res))
	return res
}

// lastProcessed returns the most recent cycle that was not a no-op, or nil.
// A failed lookup is logged and treated as no history.
func (e *Engine) lastProcessed(ctx context.Context) *CycleResult {
	if e.store == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.last
	}
	cycles, err := e.store.ListCycles(ctx, CycleFilter{ExcludeNoop: true, Limit: 1})
	if err != nil {
		logger.Enrich(ctx, e.logger).Warn("load previous cycle", "error", err)
		return nil
	}
	if len(cycles) == 0 {
		return nil
	}
	return cycles[0]
}

// releaseArtifacts lets the trainer drop the cycle's local files once Deploy
// no longer needs them.
func (e *Engine) releaseArtifacts(ctx context.Context, run *cycleRun) {
	rel, ok := e.c.Trainer.(ArtifactReleaser)
	if !ok || !run.result.Ran(StageTrain) {
		return
	}
	rctx, cancel := e.callContext(context.WithoutCancel(ctx), e.cfg.StageTimeout)
	defer cancel()
	if err := rel.ReleaseArtifacts(rctx, run.state.CycleID); err != nil {
		logger.Enrich(ctx, e.logger).Warn("release training artifacts", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(event); err != nil {
		logger.Enrich(ctx, e.logger).Debug("publish event", "type", event.Type(), "error", err)
	}
}

func (e *Engine) callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
