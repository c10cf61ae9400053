// Package scheduler runs retraining cycles on a fixed interval and makes sure
// no two cycles overlap, neither inside this process nor across processes
// sharing a lock file.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jguan/retrainer/pkg/infra/lock"
	"github.com/jguan/retrainer/pkg/infra/logger"
	"github.com/jguan/retrainer/pkg/workflow"
)

const DefaultInterval = 10 * time.Minute

// ErrBusy is returned by RunOnce when a cycle is already running.
var ErrBusy = errors.New("a retraining cycle is already running")

// CycleRunner is satisfied by *workflow.Engine.
type CycleRunner interface {
	Run(ctx context.Context) *workflow.CycleResult
}

// SkipRecorder is told about ticks that were skipped because of overlap.
type SkipRecorder interface {
	RecordSkipped()
}

type Runner struct {
	engine   CycleRunner
	interval time.Duration
	lock     *lock.FileLock
	skips    SkipRecorder
	logger   *slog.Logger

	mu       sync.Mutex
	inflight sync.WaitGroup
}

type Option func(*Runner)

// WithLockFile guards cycles with a cross-process lock on path.
func WithLockFile(path string) Option {
	return func(r *Runner) {
		if path != "" {
			r.lock = lock.New(path)
		}
	}
}

func WithSkipRecorder(s SkipRecorder) Option {
	return func(r *Runner) { r.skips = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRunner(engine CycleRunner, interval time.Duration, opts ...Option) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Runner{
		engine:   engine,
		interval: interval,
		logger:   logger.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce runs a single cycle unless one is already in flight.
func (r *Runner) RunOnce(ctx context.Context) (*workflow.CycleResult, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	if r.lock != nil {
		if err := r.lock.TryLock(); err != nil {
			if errors.Is(err, lock.ErrLocked) {
				return nil, fmt.Errorf("%w (lock file %s)", ErrBusy, r.lock.Path())
			}
			return nil, err
		}
		defer func() {
			if err := r.lock.Unlock(); err != nil {
				r.logger.Warn("release cycle lock", "error", err)
			}
		}()
	}

	return r.engine.Run(ctx), nil
}

// Run starts a cycle immediately and then on every interval until ctx is
// done. Ticks that land while a cycle is still running are skipped. Run
// returns once the in-flight cycle, if any, has finished.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("scheduler started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler stopping; waiting for in-flight cycle")
			r.inflight.Wait()
			return nil
		case <-ticker.C:
			r.dispatch(ctx)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context) {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		res, err := r.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, ErrBusy) {
				r.logger.Warn("skipping tick", "reason", err)
				if r.skips != nil {
					r.skips.RecordSkipped()
				}
				return
			}
			r.logger.Error("cycle not started", "error", err)
			return
		}
		r.logger.Debug("tick finished", "cycle_id", res.CycleID, "outcome", res.Outcome)
	}()
}
