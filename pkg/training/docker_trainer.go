// Package training runs candidate training jobs as one-shot containers.
//
// The container contract: the job reads DATA_PATH (an s3:// location),
// BASELINE_METRICS (JSON object, possibly empty) and writes its artifact plus
// a metrics.json file into OUTPUT_DIR:
//
//	{"model_path": "model.pkl", "metrics": {"accuracy": 0.93}}
//
// model_path is relative to OUTPUT_DIR, or an s3:// URI when the job
// uploaded the artifact itself. An optional "production_metrics"
// object re-scores the current production model on the same data.
package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jguan/retrainer/pkg/infra/docker"
	"github.com/jguan/retrainer/pkg/infra/logger"
	"github.com/jguan/retrainer/pkg/workflow"
)

const (
	MetricsFile        = "metrics.json"
	containerOutputDir = "/work/output"
	outputDir          = "output"
	logTail            = 40

	LabelCycle = "retrainer.cycle"
)

var ErrNoMetrics = errors.New("training produced no metrics file")

type Config struct {
	Image   string
	Command []string
	// WorkDir is the host directory under which each run gets its own folder.
	WorkDir string
	Env     map[string]string
	GPU     bool
	Memory  string
	CPUs    string
	// Pull forces an image pull before every run.
	Pull bool
	// DashboardPort, if set, publishes the job's port 6006 on this host port.
	DashboardPort string
	// Storage credentials forwarded so the job can read DATA_PATH.
	StorageEnv map[string]string
}

// DockerTrainer implements workflow.Trainer.
type DockerTrainer struct {
	cfg    Config
	client docker.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewDockerTrainer(cfg Config, client docker.Client, l *slog.Logger) (*DockerTrainer, error) {
	if strings.TrimSpace(cfg.Image) == "" {
		return nil, fmt.Errorf("training image is required")
	}
	if client == nil {
		return nil, fmt.Errorf("docker client is required")
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "retrainer")
	}
	if l == nil {
		l = logger.Default()
	}
	return &DockerTrainer{cfg: cfg, client: client, logger: l, now: time.Now}, nil
}

type metricsFile struct {
	ModelPath         string             `json:"model_path"`
	Metrics           map[string]float64 `json:"metrics"`
	ProductionMetrics map[string]float64 `json:"production_metrics,omitempty"`
}

// Train runs one job. The run directory is removed when the job fails;
// after a success it holds the artifact until ReleaseArtifacts is called.
func (t *DockerTrainer) Train(ctx context.Context, dataPath string, baseline workflow.Metrics) (_ *workflow.TrainingResult, err error) {
	runID := logger.GetCycleID(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	log := logger.Enrich(ctx, t.logger)

	runDir := t.runDir(runID)
	outDir := filepath.Join(runDir, outputDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err != nil {
			t.removeRunDir(ctx, runDir)
		}
	}()

	if t.cfg.Pull {
		log.Info("pulling training image", "image", t.cfg.Image)
		if err := t.client.PullImage(ctx, t.cfg.Image); err != nil {
			return nil, err
		}
	}

	baselineJSON, err := json.Marshal(baseline)
	if err != nil {
		return nil, fmt.Errorf("encode baseline metrics: %w", err)
	}
	if baseline == nil {
		baselineJSON = []byte("{}")
	}

	opts := docker.ContainerOptions{
		Env:     t.env(dataPath, string(baselineJSON)),
		Cmd:     t.cfg.Command,
		Volumes: map[string]string{outDir: containerOutputDir},
		Labels:  map[string]string{LabelCycle: runID},
		GPU:     t.cfg.GPU,
		Memory:  t.cfg.Memory,
		CPU:     t.cfg.CPUs,
	}
	if t.cfg.DashboardPort != "" {
		opts.Ports = map[string]string{t.cfg.DashboardPort: "6006"}
	}

	name := "retrainer-train-" + shortRunID(runID)
	id, err := t.client.CreateAndStartContainer(ctx, name, t.cfg.Image, opts)
	if err != nil {
		return nil, err
	}
	log.Info("training container started", "container", name, "image", t.cfg.Image, "data", dataPath)
	defer t.cleanup(ctx, id)

	if err := t.client.WaitContainer(ctx, id); err != nil {
		var exitErr *docker.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w; log tail: %s", err, t.logTail(ctx, id))
		}
		return nil, err
	}

	mf, err := readMetrics(filepath.Join(outDir, MetricsFile))
	if err != nil {
		return nil, fmt.Errorf("%w; log tail: %s", err, t.logTail(ctx, id))
	}

	res := &workflow.TrainingResult{
		ModelPath: resolveModelPath(outDir, mf.ModelPath),
		Version:   t.now().UTC().Format("20060102-150405"),
		Metrics:   workflow.Metrics(mf.Metrics),
	}
	if mf.ProductionMetrics != nil {
		res.ProductionMetrics = workflow.Metrics(mf.ProductionMetrics)
	}
	log.Info("training finished", "model", res.ModelPath, "version", res.Version, "metrics", res.Metrics.String())
	return res, nil
}

func (t *DockerTrainer) env(dataPath, baseline string) []string {
	env := []string{
		"DATA_PATH=" + dataPath,
		"OUTPUT_DIR=" + containerOutputDir,
		"BASELINE_METRICS=" + baseline,
	}
	for k, v := range t.cfg.StorageEnv {
		if v != "" {
			env = append(env, k+"="+v)
		}
	}
	for k, v := range t.cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func (t *DockerTrainer) logTail(ctx context.Context, id string) string {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	logs, err := t.client.GetContainerLogs(lctx, id, logTail)
	if err != nil {
		return "unavailable"
	}
	logs = strings.TrimSpace(logs)
	if logs == "" {
		return "empty"
	}
	return logs
}

// cleanup removes the job container even when ctx was cancelled.
func (t *DockerTrainer) cleanup(ctx context.Context, id string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := t.client.RemoveContainer(rctx, id); err != nil {
		logger.Enrich(ctx, t.logger).Warn("remove training container", "container", id, "error", err)
	}
}

// ReleaseArtifacts removes the run directory of cycleID. It implements
// workflow.ArtifactReleaser; a missing directory is not an error.
func (t *DockerTrainer) ReleaseArtifacts(ctx context.Context, cycleID string) error {
	if cycleID == "" || cycleID != filepath.Base(cycleID) || cycleID == "." || cycleID == ".." {
		return fmt.Errorf("invalid cycle id %q", cycleID)
	}
	if err := os.RemoveAll(t.runDir(cycleID)); err != nil {
		return fmt.Errorf("remove run dir: %w", err)
	}
	return nil
}

func (t *DockerTrainer) runDir(runID string) string {
	return filepath.Join(t.cfg.WorkDir, runID)
}

func (t *DockerTrainer) removeRunDir(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Enrich(ctx, t.logger).Warn("remove run dir", "dir", dir, "error", err)
	}
}

// Prune removes stopped training containers and run directories left
// behind by crashed runs. It must not run while a cycle is in flight.
func (t *DockerTrainer) Prune(ctx context.Context) (int, error) {
	ids, err := t.client.ListContainers(ctx, nil)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := t.client.RemoveContainer(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}

	dirs, err := t.staleRunDirs()
	if err != nil {
		return removed, err
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("remove run dir: %w", err)
		}
		removed++
	}
	return removed, nil
}

// staleRunDirs lists the directories under WorkDir that look like run
// directories, i.e. contain an output folder. Anything else is left alone.
func (t *DockerTrainer) staleRunDirs() ([]string, error) {
	entries, err := os.ReadDir(t.cfg.WorkDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read work dir: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(t.cfg.WorkDir, e.Name())
		if fi, err := os.Stat(filepath.Join(dir, outputDir)); err == nil && fi.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

func readMetrics(path string) (*metricsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoMetrics
		}
		return nil, fmt.Errorf("read %s: %w", MetricsFile, err)
	}
	var mf metricsFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetricsFile, err)
	}
	if len(mf.Metrics) == 0 {
		return nil, fmt.Errorf("%s has no metrics", MetricsFile)
	}
	return &mf, nil
}

// resolveModelPath maps a path the job reported into a host path.
func resolveModelPath(outDir, reported string) string {
	if reported == "" {
		return ""
	}
	// The job uploaded the artifact itself.
	if strings.HasPrefix(reported, "s3://") {
		return reported
	}
	rel := strings.TrimPrefix(reported, containerOutputDir)
	rel = strings.TrimPrefix(rel, "/")
	return filepath.Join(outDir, filepath.FromSlash(rel))
}

func shortRunID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var (
	_ workflow.Trainer          = (*DockerTrainer)(nil)
	_ workflow.ArtifactReleaser = (*DockerTrainer)(nil)
)
