package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCorpus(); err != nil {
		return err
	}
	if err := c.validateOracle(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateThrottle(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// RequireOracleCredentials reports a configuration error when the selected
// provider has no API key. Commands that only read the ledger skip this check.
func (c *Config) RequireOracleCredentials() error {
	if c.Oracle.APIKey != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	envKey := "OPENAI_API_KEY"
	switch c.Oracle.Provider {
	case "azure":
		envKey = "AZURE_OPENAI_API_KEY"
	case "anthropic":
		envKey = "ANTHROPIC_API_KEY"
	}
	return fmt.Errorf("oracle.api_key is required. Set %s env var or edit %s (create with 'papersift config init')", envKey, defaultPath)
}

func (c *Config) validateCorpus() error {
	switch c.Corpus.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Corpus.Path) == "" {
			return errors.New("corpus.path must be set when corpus.driver is sqlite")
		}
	case "postgres":
		if strings.TrimSpace(c.Corpus.DSN) == "" {
			return errors.New("corpus.dsn must be set when corpus.driver is postgres")
		}
	default:
		return fmt.Errorf("corpus.driver must be sqlite or postgres, got %q", c.Corpus.Driver)
	}
	if !validIdentifier(c.Corpus.Table) {
		return fmt.Errorf("corpus.table must be a plain SQL identifier, got %q", c.Corpus.Table)
	}
	return nil
}

func (c *Config) validateOracle() error {
	switch c.Oracle.Provider {
	case "openai", "anthropic":
	case "azure":
		if c.Oracle.BaseURL == "" {
			return errors.New("oracle.base_url must be set when oracle.provider is azure")
		}
	default:
		return fmt.Errorf("oracle.provider must be openai, azure or anthropic, got %q", c.Oracle.Provider)
	}
	if c.Oracle.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Oracle.BaseURL); err != nil {
			return fmt.Errorf("oracle.base_url must be a valid URL: %w", err)
		}
	}
	if c.Oracle.Temperature < 0 || c.Oracle.Temperature > 2 {
		return errors.New("oracle.temperature must be between 0 and 2")
	}
	if c.Oracle.CostPer1KPrompt < 0 || c.Oracle.CostPer1KCompletion < 0 {
		return errors.New("oracle cost rates must not be negative")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if err := ensurePositiveMap(map[string]int{
		"dispatch.concurrency":            c.Dispatch.Concurrency,
		"dispatch.max_attempts":           c.Dispatch.MaxAttempts,
		"dispatch.max_malformed_attempts": c.Dispatch.MaxMalformedAttempts,
		"dispatch.fetch_batch":            c.Dispatch.FetchBatch,
		"oracle.timeout_seconds":          c.Oracle.TimeoutSeconds,
		"notifications.request_timeout":   c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Dispatch.Limit < 0 {
		return errors.New("dispatch.limit must not be negative (0 means unlimited)")
	}
	if c.Dispatch.MaxMalformedAttempts > c.Dispatch.MaxAttempts {
		return errors.New("dispatch.max_malformed_attempts must not exceed dispatch.max_attempts")
	}
	if c.Shutdown.GracePeriodSeconds < 0 {
		return errors.New("shutdown.grace_period_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateThrottle() error {
	if c.Throttle.RequestsPerSecond < 0 {
		return errors.New("throttle.requests_per_second must not be negative (0 disables admission limits)")
	}
	if c.Throttle.RequestsPerSecond > 0 && c.Throttle.Burst <= 0 {
		return errors.New("throttle.burst must be positive")
	}
	if c.Throttle.BaseDelayMillis <= 0 {
		return errors.New("throttle.base_delay_ms must be positive")
	}
	if c.Throttle.MaxDelaySeconds <= 0 {
		return errors.New("throttle.max_delay_seconds must be positive")
	}
	if c.Throttle.JitterFraction < 0 || c.Throttle.JitterFraction > 1 {
		return errors.New("throttle.jitter_fraction must be between 0 and 1")
	}
	if c.Throttle.RedisURL != "" {
		if _, err := url.Parse(c.Throttle.RedisURL); err != nil {
			return fmt.Errorf("throttle.redis_url must be a valid URL: %w", err)
		}
	}
	return nil
}

func (c *Config) validateProgress() error {
	return ensurePositiveMap(map[string]int{
		"progress.interval_seconds":        c.Progress.IntervalSeconds,
		"progress.every_records":           c.Progress.EveryRecords,
		"progress.snapshot_every":          c.Progress.SnapshotEvery,
		"progress.monitor_refresh_seconds": c.Progress.MonitorRefresh,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func validIdentifier(value string) bool {
	if value == "" {
		return false
	}
	for i, r := range value {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
