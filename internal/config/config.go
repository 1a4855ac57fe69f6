package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains on-disk locations owned by papersift.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LedgerPath string `toml:"ledger_path"`
	LogDir     string `toml:"log_dir"`
	EnvFile    string `toml:"env_file"`
}

// Corpus selects and configures the record store.
type Corpus struct {
	Driver    string `toml:"driver"`
	Path      string `toml:"path"`
	DSN       string `toml:"dsn"`
	Table     string `toml:"table"`
	BatchSize int    `toml:"batch_size"`
	StripHTML bool   `toml:"strip_html"`
}

// Oracle contains classification model connection settings.
type Oracle struct {
	Provider             string  `toml:"provider"`
	APIKey               string  `toml:"api_key"`
	BaseURL              string  `toml:"base_url"`
	APIVersion           string  `toml:"api_version"`
	Model                string  `toml:"model"`
	Referer              string  `toml:"referer"`
	Title                string  `toml:"title"`
	Temperature          float64 `toml:"temperature"`
	MaxTokens            int     `toml:"max_tokens"`
	TimeoutSeconds       int     `toml:"timeout_seconds"`
	PromptPath           string  `toml:"prompt_path"`
	CostPer1KPrompt      float64 `toml:"cost_per_1k_prompt"`
	CostPer1KCompletion  float64 `toml:"cost_per_1k_completion"`
	HealthCheckOnStartup bool    `toml:"health_check_on_startup"`
}

// Dispatch contains worker pool sizing and retry caps.
type Dispatch struct {
	Concurrency          int `toml:"concurrency"`
	Limit                int `toml:"limit"`
	MaxAttempts          int `toml:"max_attempts"`
	MaxMalformedAttempts int `toml:"max_malformed_attempts"`
	FetchBatch           int `toml:"fetch_batch"`
}

// Throttle contains admission rate and backoff settings.
type Throttle struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	BaseDelayMillis   int     `toml:"base_delay_ms"`
	MaxDelaySeconds   int     `toml:"max_delay_seconds"`
	JitterFraction    float64 `toml:"jitter_fraction"`
	RedisURL          string  `toml:"redis_url"`
	RedisKey          string  `toml:"redis_key"`
}

// Shutdown contains drain settings.
type Shutdown struct {
	GracePeriodSeconds int `toml:"grace_period_seconds"`
}

// Progress contains progress reporting cadence.
type Progress struct {
	IntervalSeconds int  `toml:"interval_seconds"`
	EveryRecords    int  `toml:"every_records"`
	SnapshotEvery   int  `toml:"snapshot_every"`
	SnapshotFiles   bool `toml:"snapshot_files"`
	MonitorRefresh  int  `toml:"monitor_refresh_seconds"`
}

// Metrics contains the optional Prometheus/health listener.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RunStarted     bool   `toml:"run_started"`
	RunFinished    bool   `toml:"run_finished"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for papersift.
//
// Configuration sections by subsystem:
//   - Paths: data, ledger and log locations
//   - Corpus: record store driver and query settings
//   - Oracle: model provider, credentials, and cost rates
//   - Dispatch: worker concurrency, run limit, and attempt caps
//   - Throttle: admission rate and retry backoff
//   - Shutdown: drain grace period
//   - Progress: snapshot cadence
//   - Metrics: Prometheus listener
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Corpus        Corpus        `toml:"corpus"`
	Oracle        Oracle        `toml:"oracle"`
	Dispatch      Dispatch      `toml:"dispatch"`
	Throttle      Throttle      `toml:"throttle"`
	Shutdown      Shutdown      `toml:"shutdown"`
	Progress      Progress      `toml:"progress"`
	Metrics       Metrics       `toml:"metrics"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the working directory (or
// paths.env_file) is loaded before environment fallbacks are applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadEnvFile(cfg.Paths.EnvFile); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadEnvFile never overrides variables already present in the process environment.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ".env"
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("load env file %s: %w", expanded, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("papersift.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, ledger and log directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, filepath.Dir(c.Paths.LedgerPath)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// OracleTimeout returns the per-call deadline applied to every classification.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

// GracePeriod returns the drain window granted to in-flight attempts.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Shutdown.GracePeriodSeconds) * time.Second
}

// ProgressInterval returns the time-based snapshot cadence.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Progress.IntervalSeconds) * time.Second
}

// BaseDelay returns the first retry delay before jitter.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Throttle.BaseDelayMillis) * time.Millisecond
}

// MaxDelay returns the retry delay cap.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Throttle.MaxDelaySeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
