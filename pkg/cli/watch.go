package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jguan/retrainer/pkg/infra/logger"
)

func NewWatchCommand(root *RootCommand) *cobra.Command {
	var (
		interval   time.Duration
		healthAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run retraining cycles on a schedule",
		Long: `Run a cycle now and then once per interval until interrupted. A tick
that arrives while a cycle is still running is skipped. On SIGINT/SIGTERM
the running cycle is cancelled at its next stage boundary and reported.`,
		Example: `  # Every 10 minutes (the default)
  retrainer watch

  # Every hour, with health and metrics on :9090
  retrainer watch --interval 1h --health-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval > 0 {
				root.cfg.Scheduler.IntervalD = interval
			}
			if healthAddr != "" {
				root.cfg.Server.HealthAddr = healthAddr
			}
			return runWatch(cmd.Context(), root)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between cycles (default from config)")
	cmd.Flags().StringVar(&healthAddr, "health-addr", "", "Serve /healthz and /metrics on this address")

	return cmd
}

func runWatch(ctx context.Context, root *RootCommand) error {
	rt, err := root.newRuntime(root)
	if err != nil {
		return err
	}
	defer rt.Close()

	log := logger.Default()

	if rt.Pruner != nil {
		n, err := rt.Pruner.Prune(ctx)
		if err != nil {
			log.Warn("prune training containers", "error", err)
		} else if n > 0 {
			log.Info("removed stale training containers", "count", n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Runner.Run(gctx)
	})

	if addr := root.cfg.Server.HealthAddr; addr != "" {
		server := &http.Server{
			Addr:         addr,
			Handler:      newHealthHandler(rt),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		g.Go(func() error {
			log.Info("health server starting", "addr", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("health server shutdown", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("watch stopped", "cycles", rt.Metrics.Snapshot().Total)
	return err
}

func newHealthHandler(rt *Runtime) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", handleHealth)
	r.Get("/metrics", handleMetrics(rt))
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   cliVersion,
	})
}

func handleMetrics(rt *Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"cycles": rt.Metrics.Snapshot(),
		}
		if rt.Host != nil {
			host, err := rt.Host.Collect(r.Context())
			if err != nil {
				resp["host_error"] = err.Error()
			} else {
				resp["host"] = host
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
