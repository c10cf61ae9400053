package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jguan/retrainer/pkg/agent"
	agentllm "github.com/jguan/retrainer/pkg/agent/llm"
	"github.com/jguan/retrainer/pkg/alert"
	"github.com/jguan/retrainer/pkg/config"
	"github.com/jguan/retrainer/pkg/deploy"
	"github.com/jguan/retrainer/pkg/infra/docker"
	"github.com/jguan/retrainer/pkg/infra/eventbus"
	"github.com/jguan/retrainer/pkg/infra/logger"
	"github.com/jguan/retrainer/pkg/infra/metrics"
	"github.com/jguan/retrainer/pkg/notify"
	"github.com/jguan/retrainer/pkg/policy"
	"github.com/jguan/retrainer/pkg/production"
	"github.com/jguan/retrainer/pkg/scheduler"
	"github.com/jguan/retrainer/pkg/training"
	"github.com/jguan/retrainer/pkg/workflow"
)

// Pruner removes leftovers of earlier training runs.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// Runtime is everything a cycle-running command needs. Close releases what
// buildRuntime opened; the database stays owned by RootCommand.
type Runtime struct {
	Engine  *workflow.Engine
	Runner  *scheduler.Runner
	Metrics *metrics.CycleMetrics
	Host    metrics.Collector
	Pruner  Pruner

	closers []func() error
}

func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func buildRuntime(r *RootCommand) (_ *Runtime, err error) {
	cfg := r.cfg
	if err := errors.Join(cfg.ValidateStorage(), cfg.ValidateTraining()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.Default()

	db, err := r.Store()
	if err != nil {
		return nil, err
	}
	eventStore, err := eventbus.NewSQLiteEventStore(db.DB())
	if err != nil {
		return nil, err
	}

	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	bus := eventbus.NewPersistentEventBus(eventStore, eventbus.WithPersistentLogger(log))
	rt.closers = append(rt.closers, bus.Close)
	if _, err := bus.Subscribe(traceEvent(log)); err != nil {
		return nil, err
	}

	gateway, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}

	dockerClient, err := docker.NewSDKClient()
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	rt.closers = append(rt.closers, dockerClient.Close)

	trainer, err := training.NewDockerTrainer(trainingConfig(cfg), dockerClient, log)
	if err != nil {
		return nil, err
	}
	rt.Pruner = trainer

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	reviewOpts := agent.Options{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature}

	var assessor workflow.QualityAssessor
	switch strings.ToLower(cfg.Validation.Assessor) {
	case "llm":
		assessor = agent.NewQualityReviewer(llmClient, gateway, reviewOpts, log)
	default:
		assessor = policy.NewObjectAssessor(gateway, cfg.Validation.MinObjects, cfg.Validation.AllowedExtensions)
	}

	var comparator workflow.Comparator
	switch strings.ToLower(cfg.Analysis.Comparator) {
	case "llm":
		comparator = agent.NewMetricsReviewer(llmClient, reviewOpts, log)
	default:
		comparator = policy.NewThresholdComparator(cfg.Analysis.Metric, cfg.Analysis.MinImprovement)
	}

	deployer, err := deploy.NewRegistryDeployer(deploy.Config{
		Bucket:           cfg.Storage.Bucket,
		ProductionPrefix: cfg.Storage.ProductionPrefix,
	}, gateway, db, log)
	if err != nil {
		return nil, err
	}

	alerts := alert.NewManager(db, bus, log)

	rt.Metrics = metrics.NewCycleMetrics()
	rt.Host = metrics.NewCollector(cfg.Training.WorkDir)

	rt.Engine, err = workflow.NewEngine(workflow.Config{
		Bucket:        cfg.Storage.Bucket,
		NewPrefix:     cfg.Storage.NewPrefix,
		StageTimeout:  cfg.Engine.StageTimeoutD,
		TrainTimeout:  cfg.Training.TimeoutD,
		NotifyTimeout: cfg.Engine.NotifyTimeoutD,
	}, workflow.Collaborators{
		Storage:    gateway,
		Assessor:   assessor,
		Baseline:   production.Baseline{Store: db},
		Trainer:    trainer,
		Comparator: comparator,
		Deployer:   deployer,
		Notifier:   newNotifier(cfg, alerts, log),
	},
		workflow.WithStore(db),
		workflow.WithPublisher(bus),
		workflow.WithObserver(rt.Metrics),
		workflow.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	rt.Runner = scheduler.NewRunner(rt.Engine, cfg.Scheduler.IntervalD,
		scheduler.WithLockFile(cfg.Scheduler.LockFile),
		scheduler.WithSkipRecorder(rt.Metrics),
		scheduler.WithLogger(log),
	)
	return rt, nil
}

// traceEvent logs every published event at debug level.
func traceEvent(log *slog.Logger) eventbus.EventHandler {
	return func(e eventbus.Event) error {
		log.Debug("event", "type", e.Type(), "domain", e.Domain(), "cycle_id", e.CorrelationID())
		return nil
	}
}

func trainingConfig(cfg *config.Config) training.Config {
	// The job reads its data straight from the bucket with these.
	storageEnv := map[string]string{
		"S3_ENDPOINT_URL": cfg.Storage.Endpoint,
		"S3_ACCESS_KEY":   cfg.Storage.AccessKey,
		"S3_SECRET_KEY":   cfg.Storage.SecretKey,
		"S3_REGION":       cfg.Storage.Region,
		"S3_USE_SSL":      strconv.FormatBool(cfg.Storage.UseSSL),
		"BUCKET_NAME":     cfg.Storage.Bucket,
	}
	return training.Config{
		Image:         cfg.Training.Image,
		Command:       cfg.Training.Command,
		WorkDir:       cfg.Training.WorkDir,
		Env:           cfg.Training.Env,
		GPU:           cfg.Training.GPU,
		Memory:        cfg.Training.Memory,
		CPUs:          cfg.Training.CPUs,
		Pull:          cfg.Training.Pull,
		DashboardPort: cfg.Training.DashboardPort,
		StorageEnv:    storageEnv,
	}
}

// newLLMClient returns nil when neither reviewer is configured to use it.
func newLLMClient(cfg *config.Config) (agentllm.LLMClient, error) {
	if !strings.EqualFold(cfg.Validation.Assessor, "llm") && !strings.EqualFold(cfg.Analysis.Comparator, "llm") {
		return nil, nil
	}
	client, err := agentllm.New(agentllm.Config{
		Provider:    cfg.LLM.Provider,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.TimeoutD,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return client, nil
}

func newNotifier(cfg *config.Config, alerts *alert.Manager, log *slog.Logger) workflow.Notifier {
	n := notify.Multi{
		notify.NewLogNotifier(log),
		notify.NewAlertNotifier(alerts),
	}
	if cfg.Notify.WebhookURL != "" {
		webhook := notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeoutD)
		n = append(n, notify.NewDedup(webhook, cfg.Notify.RepeatIntervalD, log))
	}
	return n
}
