package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeCorpus(); err != nil {
		return err
	}
	if err := c.normalizeOracle(); err != nil {
		return err
	}
	if err := c.normalizeDispatch(); err != nil {
		return err
	}
	c.normalizeThrottle()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if value, ok := os.LookupEnv("RESULTS_DB_PATH"); ok && strings.TrimSpace(value) != "" {
		c.Paths.LedgerPath = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.LedgerPath) == "" {
		c.Paths.LedgerPath = filepath.Join(c.Paths.DataDir, defaultLedgerFile)
	}
	if c.Paths.LedgerPath, err = expandPath(c.Paths.LedgerPath); err != nil {
		return fmt.Errorf("paths.ledger_path: %w", err)
	}
	if value, ok := os.LookupEnv("LOG_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.LogDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeCorpus() error {
	c.Corpus.Driver = strings.ToLower(strings.TrimSpace(c.Corpus.Driver))
	if c.Corpus.Driver == "" {
		c.Corpus.Driver = defaultCorpusDriver
	}
	if c.Corpus.Driver == "postgresql" {
		c.Corpus.Driver = "postgres"
	}
	c.Corpus.Table = strings.TrimSpace(c.Corpus.Table)
	if c.Corpus.Table == "" {
		c.Corpus.Table = defaultCorpusTable
	}
	if c.Corpus.BatchSize <= 0 {
		c.Corpus.BatchSize = defaultCorpusBatchSize
	}
	if value, ok := os.LookupEnv("PAPERS_DB_PATH"); ok && strings.TrimSpace(value) != "" {
		c.Corpus.Path = strings.TrimSpace(value)
	}
	if c.Corpus.DSN == "" {
		if value, ok := os.LookupEnv("PAPERSIFT_CORPUS_DSN"); ok {
			c.Corpus.DSN = strings.TrimSpace(value)
		}
	}
	if c.Corpus.Driver == "sqlite" {
		if strings.TrimSpace(c.Corpus.Path) == "" {
			c.Corpus.Path = defaultCorpusPath
		}
		var err error
		if c.Corpus.Path, err = expandPath(c.Corpus.Path); err != nil {
			return fmt.Errorf("corpus.path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeOracle() error {
	c.Oracle.Provider = strings.ToLower(strings.TrimSpace(c.Oracle.Provider))
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = defaultOracleProvider
	}
	if value, ok := os.LookupEnv("USE_MODULE"); ok && strings.TrimSpace(value) != "" {
		c.Oracle.Provider = strings.ToLower(strings.TrimSpace(value))
	}
	c.Oracle.APIKey = strings.TrimSpace(c.Oracle.APIKey)
	c.Oracle.BaseURL = strings.TrimSpace(c.Oracle.BaseURL)
	c.Oracle.Model = strings.TrimSpace(c.Oracle.Model)

	switch c.Oracle.Provider {
	case "openai":
		c.Oracle.APIKey = envFallback(c.Oracle.APIKey, "OPENAI_API_KEY")
		if c.Oracle.BaseURL == "" {
			c.Oracle.BaseURL = defaultOpenAIBaseURL
		}
	case "azure":
		c.Oracle.APIKey = envFallback(c.Oracle.APIKey, "AZURE_OPENAI_API_KEY")
		c.Oracle.BaseURL = envFallback(c.Oracle.BaseURL, "AZURE_OPENAI_ENDPOINT")
		c.Oracle.APIVersion = envFallback(strings.TrimSpace(c.Oracle.APIVersion), "AZURE_OPENAI_API_VERSION")
		if c.Oracle.APIVersion == "" {
			c.Oracle.APIVersion = defaultAzureAPIVersion
		}
		c.Oracle.Model = envFallback(c.Oracle.Model, "AZURE_OPENAI_DEPLOYMENT")
	case "anthropic":
		c.Oracle.APIKey = envFallback(c.Oracle.APIKey, "ANTHROPIC_API_KEY")
		if c.Oracle.Model == "" || c.Oracle.Model == defaultOracleModel {
			c.Oracle.Model = defaultAnthropicModel
		}
	}
	if c.Oracle.Model == "" {
		c.Oracle.Model = defaultOracleModel
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		c.Oracle.TimeoutSeconds = defaultOracleTimeoutSeconds
	}
	if c.Oracle.MaxTokens <= 0 {
		c.Oracle.MaxTokens = defaultOracleMaxTokens
	}
	var err error
	if c.Oracle.CostPer1KPrompt, err = envFloat(c.Oracle.CostPer1KPrompt, "COST_PER_1K_PROMPT_TOKENS"); err != nil {
		return err
	}
	if c.Oracle.CostPer1KCompletion, err = envFloat(c.Oracle.CostPer1KCompletion, "COST_PER_1K_COMPLETION_TOKENS"); err != nil {
		return err
	}
	if strings.TrimSpace(c.Oracle.PromptPath) != "" {
		if c.Oracle.PromptPath, err = expandPath(c.Oracle.PromptPath); err != nil {
			return fmt.Errorf("oracle.prompt_path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeDispatch() error {
	if value, ok := os.LookupEnv("MAX_WORKERS"); ok && strings.TrimSpace(value) != "" {
		workers, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("MAX_WORKERS: %w", err)
		}
		c.Dispatch.Concurrency = workers
	}
	if c.Dispatch.FetchBatch <= 0 {
		c.Dispatch.FetchBatch = defaultFetchBatch
	}
	return nil
}

func (c *Config) normalizeThrottle() {
	c.Throttle.RedisURL = envFallback(strings.TrimSpace(c.Throttle.RedisURL), "PAPERSIFT_REDIS_URL")
	c.Throttle.RedisKey = strings.TrimSpace(c.Throttle.RedisKey)
	if c.Throttle.RedisKey == "" {
		c.Throttle.RedisKey = defaultRedisKey
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func envFallback(current, key string) string {
	if current != "" {
		return current
	}
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return current
}

func envFloat(current float64, key string) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return current, nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, nil
}
