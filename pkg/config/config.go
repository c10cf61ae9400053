package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/subosito/gotenv"
)

type Config struct {
	Storage    StorageConfig    `toml:"storage"`
	LLM        LLMConfig        `toml:"llm"`
	Training   TrainingConfig   `toml:"training"`
	Analysis   AnalysisConfig   `toml:"analysis"`
	Validation ValidationConfig `toml:"validation"`
	Notify     NotifyConfig     `toml:"notify"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Engine     EngineConfig     `toml:"engine"`
	Database   DatabaseConfig   `toml:"database"`
	Server     ServerConfig     `toml:"server"`
	Logging    LoggingConfig    `toml:"logging"`
}

// StorageConfig points at the S3-compatible bucket that receives new data
// under NewPrefix and holds promoted models under ProductionPrefix.
type StorageConfig struct {
	Endpoint         string `toml:"endpoint"`
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	Bucket           string `toml:"bucket"`
	UseSSL           bool   `toml:"use_ssl"`
	NewPrefix        string `toml:"new_prefix"`
	ProductionPrefix string `toml:"production_prefix"`
	Region           string `toml:"region"`
}

type LLMConfig struct {
	// Provider selects the client implementation: "openai" (any OpenAI-compatible
	// endpoint, Gemini by default) or "ollama".
	Provider    string        `toml:"provider"`
	BaseURL     string        `toml:"base_url"`
	APIKey      string        `toml:"api_key"`
	Model       string        `toml:"model"`
	Temperature float64       `toml:"temperature"`
	MaxTokens   int           `toml:"max_tokens"`
	Timeout     string        `toml:"timeout"`
	TimeoutD    time.Duration `toml:"-"`
}

type TrainingConfig struct {
	Image         string            `toml:"image"`
	Command       []string          `toml:"command"`
	WorkDir       string            `toml:"work_dir"`
	GPU           bool              `toml:"gpu"`
	Memory        string            `toml:"memory"`
	CPUs          string            `toml:"cpus"`
	Env           map[string]string `toml:"env"`
	Pull          bool              `toml:"pull"`
	DashboardPort string            `toml:"dashboard_port"`
	Timeout       string            `toml:"timeout"`
	TimeoutD      time.Duration     `toml:"-"`
}

type AnalysisConfig struct {
	// Comparator is "threshold" or "llm".
	Comparator     string  `toml:"comparator"`
	Metric         string  `toml:"metric"`
	MinImprovement float64 `toml:"min_improvement"`
}

type ValidationConfig struct {
	// Assessor is "rules" or "llm".
	Assessor          string   `toml:"assessor"`
	MinObjects        int      `toml:"min_objects"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

type NotifyConfig struct {
	WebhookURL     string `toml:"webhook_url"`
	WebhookTimeout string `toml:"webhook_timeout"`
	// RepeatInterval suppresses identical webhook alerts sent within it; 0 disables.
	RepeatInterval  string        `toml:"repeat_interval"`
	WebhookTimeoutD time.Duration `toml:"-"`
	RepeatIntervalD time.Duration `toml:"-"`
}

type SchedulerConfig struct {
	Interval  string        `toml:"interval"`
	LockFile  string        `toml:"lock_file"`
	IntervalD time.Duration `toml:"-"`
}

type EngineConfig struct {
	StageTimeout   string        `toml:"stage_timeout"`
	NotifyTimeout  string        `toml:"notify_timeout"`
	StageTimeoutD  time.Duration `toml:"-"`
	NotifyTimeoutD time.Duration `toml:"-"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	// HealthAddr, when set, makes `watch` serve /healthz and /metrics.
	HealthAddr string `toml:"health_addr"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".retrainer")

	return &Config{
		Storage: StorageConfig{
			NewPrefix:        "new/",
			ProductionPrefix: "production/",
			Region:           "us-east-1",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:       "gemini-2.5-flash",
			Temperature: 0,
			MaxTokens:   4096,
			Timeout:     "60s",
		},
		Training: TrainingConfig{
			WorkDir: filepath.Join(dataDir, "work"),
			Timeout: "2h",
		},
		Analysis: AnalysisConfig{
			Comparator: "threshold",
			Metric:     "accuracy",
		},
		Validation: ValidationConfig{
			Assessor:   "rules",
			MinObjects: 1,
		},
		Notify: NotifyConfig{
			WebhookTimeout: "10s",
			RepeatInterval: "1h",
		},
		Scheduler: SchedulerConfig{
			Interval: "10m",
			LockFile: filepath.Join(dataDir, "retrainer.lock"),
		},
		Engine: EngineConfig{
			StageTimeout:  "2m",
			NotifyTimeout: "30s",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "retrainer.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	return cfg, nil
}

func (c *Config) postProcess() error {
	durations := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"llm.timeout", c.LLM.Timeout, &c.LLM.TimeoutD},
		{"training.timeout", c.Training.Timeout, &c.Training.TimeoutD},
		{"notify.webhook_timeout", c.Notify.WebhookTimeout, &c.Notify.WebhookTimeoutD},
		{"notify.repeat_interval", c.Notify.RepeatInterval, &c.Notify.RepeatIntervalD},
		{"scheduler.interval", c.Scheduler.Interval, &c.Scheduler.IntervalD},
		{"engine.stage_timeout", c.Engine.StageTimeout, &c.Engine.StageTimeoutD},
		{"engine.notify_timeout", c.Engine.NotifyTimeout, &c.Engine.NotifyTimeoutD},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s cannot be negative, got %s", d.name, d.src)
		}
		*d.dst = v
	}

	paths := []struct {
		name string
		p    *string
	}{
		{"training.work_dir", &c.Training.WorkDir},
		{"scheduler.lock_file", &c.Scheduler.LockFile},
		{"database.path", &c.Database.Path},
		{"logging.file", &c.Logging.File},
	}
	for _, p := range paths {
		expanded, err := expandPath(*p.p)
		if err != nil {
			return fmt.Errorf("expand %s: %w", p.name, err)
		}
		*p.p = expanded
	}

	return nil
}

// Validate checks enums and ranges. It does not require storage settings so
// that read-only commands work without credentials; see ValidateStorage.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	switch strings.ToLower(c.Analysis.Comparator) {
	case "threshold", "llm":
	default:
		return fmt.Errorf("invalid analysis.comparator: %s (valid: threshold, llm)", c.Analysis.Comparator)
	}

	switch strings.ToLower(c.Validation.Assessor) {
	case "rules", "llm":
	default:
		return fmt.Errorf("invalid validation.assessor: %s (valid: rules, llm)", c.Validation.Assessor)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "gemini", "ollama":
	default:
		return fmt.Errorf("invalid llm.provider: %s (valid: openai, ollama)", c.LLM.Provider)
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %.2f", c.LLM.Temperature)
	}

	if c.Analysis.Metric == "" {
		return fmt.Errorf("analysis.metric cannot be empty")
	}

	if c.Analysis.MinImprovement < 0 {
		return fmt.Errorf("analysis.min_improvement cannot be negative, got %.4f", c.Analysis.MinImprovement)
	}

	if c.Validation.MinObjects < 0 {
		return fmt.Errorf("validation.min_objects cannot be negative, got %d", c.Validation.MinObjects)
	}

	if c.Scheduler.IntervalD == 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}

	return nil
}

// ValidateStorage reports every missing storage setting at once. Commands that
// talk to the bucket refuse to start without them.
func (c *Config) ValidateStorage() error {
	var errs []error
	if c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint (S3_ENDPOINT_URL) is required"))
	}
	if c.Storage.AccessKey == "" {
		errs = append(errs, errors.New("storage.access_key (S3_ACCESS_KEY) is required"))
	}
	if c.Storage.SecretKey == "" {
		errs = append(errs, errors.New("storage.secret_key (S3_SECRET_KEY) is required"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket (BUCKET_NAME) is required"))
	}
	return errors.Join(errs...)
}

// ValidateTraining is required before a cycle can run.
func (c *Config) ValidateTraining() error {
	if c.Training.Image == "" {
		return errors.New("training.image (RETRAINER_TRAINING_IMAGE) is required")
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment, replacing
// existing values. A missing default .env is not an error.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := gotenv.OverLoad(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func ApplyEnvOverrides(cfg *Config) {
	// Storage, named the way the training jobs and the original deployment expect.
	if v := os.Getenv("S3_ENDPOINT_URL"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("BUCKET_NAME"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		cfg.Storage.UseSSL = parseBool(v)
	}

	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("RETRAINER_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("RETRAINER_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("RETRAINER_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("RETRAINER_TRAINING_IMAGE"); v != "" {
		cfg.Training.Image = v
	}
	if v := os.Getenv("RETRAINER_TRAINING_WORK_DIR"); v != "" {
		cfg.Training.WorkDir = v
	}
	if v := os.Getenv("RETRAINER_TRAINING_GPU"); v != "" {
		cfg.Training.GPU = parseBool(v)
	}
	if v := os.Getenv("RETRAINER_TRAINING_TIMEOUT"); v != "" {
		cfg.Training.Timeout = v
	}

	if v := os.Getenv("RETRAINER_COMPARATOR"); v != "" {
		cfg.Analysis.Comparator = v
	}
	if v := os.Getenv("RETRAINER_METRIC"); v != "" {
		cfg.Analysis.Metric = v
	}
	if v := os.Getenv("RETRAINER_MIN_IMPROVEMENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.MinImprovement = f
		}
	}
	if v := os.Getenv("RETRAINER_ASSESSOR"); v != "" {
		cfg.Validation.Assessor = v
	}

	if v := os.Getenv("RETRAINER_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("RETRAINER_ALERT_REPEAT_INTERVAL"); v != "" {
		cfg.Notify.RepeatInterval = v
	}
	if v := os.Getenv("RETRAINER_INTERVAL"); v != "" {
		cfg.Scheduler.Interval = v
	}
	if v := os.Getenv("RETRAINER_LOCK_FILE"); v != "" {
		cfg.Scheduler.LockFile = v
	}
	if v := os.Getenv("RETRAINER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RETRAINER_HEALTH_ADDR"); v != "" {
		cfg.Server.HealthAddr = v
	}
	if v := os.Getenv("RETRAINER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RETRAINER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}

func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
