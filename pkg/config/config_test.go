package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Storage.NewPrefix != "new/" {
		t.Errorf("Storage.NewPrefix = %q, want %q", cfg.Storage.NewPrefix, "new/")
	}
	if cfg.LLM.Model != "gemini-2.5-flash" {
		t.Errorf("LLM.Model = %q, want %q", cfg.LLM.Model, "gemini-2.5-flash")
	}
	if cfg.LLM.MaxTokens != 4096 {
		t.Errorf("LLM.MaxTokens = %d, want 4096", cfg.LLM.MaxTokens)
	}
	if cfg.Analysis.Comparator != "threshold" || cfg.Analysis.Metric != "accuracy" {
		t.Errorf("unexpected analysis defaults: %+v", cfg.Analysis)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path should not be empty")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
[storage]
endpoint = "http://minio:9000"
bucket = "training"

[training]
image = "ghcr.io/acme/trainer:1.2"
command = ["python", "train.py"]
timeout = "30m"

[training.env]
EPOCHS = "5"

[analysis]
comparator = "llm"
min_improvement = 0.01

[validation]
allowed_extensions = [".csv", ".parquet"]

[scheduler]
interval = "15m"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Storage.Endpoint != "http://minio:9000" || cfg.Storage.Bucket != "training" {
		t.Errorf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Storage.NewPrefix != "new/" {
		t.Errorf("default NewPrefix lost: %q", cfg.Storage.NewPrefix)
	}
	if cfg.Training.TimeoutD != 30*time.Minute {
		t.Errorf("Training.TimeoutD = %v, want 30m", cfg.Training.TimeoutD)
	}
	if len(cfg.Training.Command) != 2 || cfg.Training.Env["EPOCHS"] != "5" {
		t.Errorf("unexpected training: %+v", cfg.Training)
	}
	if cfg.Analysis.Comparator != "llm" || cfg.Analysis.MinImprovement != 0.01 {
		t.Errorf("unexpected analysis: %+v", cfg.Analysis)
	}
	if len(cfg.Validation.AllowedExtensions) != 2 {
		t.Errorf("AllowedExtensions = %v", cfg.Validation.AllowedExtensions)
	}
	if cfg.Scheduler.IntervalD != 15*time.Minute {
		t.Errorf("Scheduler.IntervalD = %v, want 15m", cfg.Scheduler.IntervalD)
	}
}

func TestLoadFromFile_ExpandHome(t *testing.T) {
	homeDir, _ := os.UserHomeDir()
	path := writeConfig(t, `
[database]
path = "~/retrainer-test.db"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	want := filepath.Join(homeDir, "retrainer-test.db")
	if cfg.Database.Path != want {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, want)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/config.toml"); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, `
[engine]
stage_timeout = "soon"
`)
	_, err := LoadFromFile(path)
	if err == nil || !strings.Contains(err.Error(), "engine.stage_timeout") {
		t.Errorf("expected stage_timeout parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging level"},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging format"},
		{name: "bad comparator", modify: func(c *Config) { c.Analysis.Comparator = "coin" }, wantErr: "analysis.comparator"},
		{name: "bad assessor", modify: func(c *Config) { c.Validation.Assessor = "vibes" }, wantErr: "validation.assessor"},
		{name: "bad provider", modify: func(c *Config) { c.LLM.Provider = "x" }, wantErr: "llm.provider"},
		{name: "temperature", modify: func(c *Config) { c.LLM.Temperature = 3 }, wantErr: "temperature"},
		{name: "empty metric", modify: func(c *Config) { c.Analysis.Metric = "" }, wantErr: "analysis.metric"},
		{name: "negative improvement", modify: func(c *Config) { c.Analysis.MinImprovement = -1 }, wantErr: "min_improvement"},
		{name: "zero interval", modify: func(c *Config) { c.Scheduler.IntervalD = 0 }, wantErr: "scheduler.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			if err := cfg.postProcess(); err != nil {
				t.Fatalf("postProcess: %v", err)
			}
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStorage(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateStorage()
	if err == nil {
		t.Fatal("expected error for empty storage config")
	}
	for _, want := range []string{"S3_ENDPOINT_URL", "S3_ACCESS_KEY", "S3_SECRET_KEY", "BUCKET_NAME"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	cfg.Storage = StorageConfig{Endpoint: "e", AccessKey: "a", SecretKey: "s", Bucket: "b"}
	if err := cfg.ValidateStorage(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	if err := cfg.ValidateTraining(); err == nil {
		t.Error("expected error for missing training image")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("S3_ENDPOINT_URL", "http://minio:9000")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("BUCKET_NAME", "training")
	t.Setenv("S3_USE_SSL", "1")
	t.Setenv("GOOGLE_API_KEY", "gk")
	t.Setenv("LLM_MODEL", "gemini-2.5-pro")
	t.Setenv("RETRAINER_DB_PATH", "/tmp/r.db")
	t.Setenv("RETRAINER_COMPARATOR", "llm")
	t.Setenv("RETRAINER_MIN_IMPROVEMENT", "0.05")
	t.Setenv("RETRAINER_INTERVAL", "1h")
	t.Setenv("RETRAINER_TRAINING_IMAGE", "trainer:latest")
	t.Setenv("RETRAINER_ALERT_REPEAT_INTERVAL", "0s")

	cfg := Default()
	ApplyEnvOverrides(cfg)

	if cfg.Storage.Endpoint != "http://minio:9000" || cfg.Storage.AccessKey != "ak" ||
		cfg.Storage.SecretKey != "sk" || cfg.Storage.Bucket != "training" || !cfg.Storage.UseSSL {
		t.Errorf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.LLM.APIKey != "gk" || cfg.LLM.Model != "gemini-2.5-pro" {
		t.Errorf("unexpected llm: %+v", cfg.LLM)
	}
	if cfg.Database.Path != "/tmp/r.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Analysis.Comparator != "llm" || cfg.Analysis.MinImprovement != 0.05 {
		t.Errorf("unexpected analysis: %+v", cfg.Analysis)
	}
	if cfg.Scheduler.Interval != "1h" {
		t.Errorf("Scheduler.Interval = %q", cfg.Scheduler.Interval)
	}
	if cfg.Training.Image != "trainer:latest" {
		t.Errorf("Training.Image = %q", cfg.Training.Image)
	}
	if cfg.Notify.RepeatInterval != "0s" {
		t.Errorf("Notify.RepeatInterval = %q", cfg.Notify.RepeatInterval)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("BUCKET_NAME=from-file\nS3_ACCESS_KEY=file-key\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BUCKET_NAME", "from-env")
	t.Setenv("S3_ACCESS_KEY", "")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("BUCKET_NAME"); got != "from-file" {
		t.Errorf("BUCKET_NAME = %q, want file value to override", got)
	}
	if got := os.Getenv("S3_ACCESS_KEY"); got != "file-key" {
		t.Errorf("S3_ACCESS_KEY = %q", got)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for explicit missing env file")
	}
}

func TestLoadEnvFile_DefaultMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := LoadEnvFile(""); err != nil {
		t.Errorf("missing default .env should be ignored, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"~/x/y", filepath.Join(homeDir, "x/y")},
	}
	for _, tt := range tests {
		got, err := expandPath(tt.in)
		if err != nil {
			t.Fatalf("expandPath(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("RETRAINER_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Engine.StageTimeoutD != 2*time.Minute {
		t.Errorf("Engine.StageTimeoutD = %v, want 2m", cfg.Engine.StageTimeoutD)
	}

	t.Setenv("RETRAINER_INTERVAL", "often")
	if _, err := Load(""); err == nil {
		t.Error("expected error for invalid interval override")
	}
}
