package config

const (
	defaultConfigPath            = "~/.config/papersift/config.toml"
	defaultDataDir               = "~/.local/share/papersift"
	defaultLedgerFile            = "ledger.db"
	defaultLogDir                = "~/.local/share/papersift/logs"
	defaultCorpusDriver          = "sqlite"
	defaultCorpusPath            = "papers.db"
	defaultCorpusTable           = "papers"
	defaultCorpusBatchSize       = 200
	defaultOracleProvider        = "openai"
	defaultOpenAIBaseURL         = "https://api.openai.com/v1/chat/completions"
	defaultAzureAPIVersion       = "2024-10-21"
	defaultOracleModel           = "gpt-4.1-mini"
	defaultAnthropicModel        = "claude-3-5-haiku-latest"
	defaultOracleTemperature     = 0.2
	defaultOracleMaxTokens       = 1024
	defaultOracleTimeoutSeconds  = 60
	defaultCostPer1KPrompt       = 0.0004
	defaultCostPer1KCompletion   = 0.0016
	defaultOracleReferer         = "https://github.com/papersift/papersift"
	defaultOracleTitle           = "papersift"
	defaultConcurrency           = 10
	defaultMaxAttempts           = 3
	defaultMaxMalformedAttempts  = 2
	defaultFetchBatch            = 100
	defaultRequestsPerSecond     = 5
	defaultBurst                 = 1
	defaultBaseDelayMillis       = 1500
	defaultMaxDelaySeconds       = 60
	defaultJitterFraction        = 0.5
	defaultRedisKey              = "papersift:admission"
	defaultGracePeriodSeconds    = 60
	defaultProgressInterval      = 30
	defaultProgressEveryRecords  = 10
	defaultSnapshotEvery         = 50
	defaultMonitorRefreshSeconds = 5
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Corpus: Corpus{
			Driver:    defaultCorpusDriver,
			Path:      defaultCorpusPath,
			Table:     defaultCorpusTable,
			BatchSize: defaultCorpusBatchSize,
			StripHTML: true,
		},
		Oracle: Oracle{
			Provider:            defaultOracleProvider,
			Model:               defaultOracleModel,
			Referer:             defaultOracleReferer,
			Title:               defaultOracleTitle,
			Temperature:         defaultOracleTemperature,
			MaxTokens:           defaultOracleMaxTokens,
			TimeoutSeconds:      defaultOracleTimeoutSeconds,
			CostPer1KPrompt:     defaultCostPer1KPrompt,
			CostPer1KCompletion: defaultCostPer1KCompletion,
		},
		Dispatch: Dispatch{
			Concurrency:          defaultConcurrency,
			MaxAttempts:          defaultMaxAttempts,
			MaxMalformedAttempts: defaultMaxMalformedAttempts,
			FetchBatch:           defaultFetchBatch,
		},
		Throttle: Throttle{
			RequestsPerSecond: defaultRequestsPerSecond,
			Burst:             defaultBurst,
			BaseDelayMillis:   defaultBaseDelayMillis,
			MaxDelaySeconds:   defaultMaxDelaySeconds,
			JitterFraction:    defaultJitterFraction,
			RedisKey:          defaultRedisKey,
		},
		Shutdown: Shutdown{
			GracePeriodSeconds: defaultGracePeriodSeconds,
		},
		Progress: Progress{
			IntervalSeconds: defaultProgressInterval,
			EveryRecords:    defaultProgressEveryRecords,
			SnapshotEvery:   defaultSnapshotEvery,
			SnapshotFiles:   true,
			MonitorRefresh:  defaultMonitorRefreshSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			RunStarted:     true,
			RunFinished:    true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
