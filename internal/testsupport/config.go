package testsupport

import (
	"path/filepath"
	"testing"

	"papersift/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LedgerPath = filepath.Join(base, "data", "ledger.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Corpus.Path = filepath.Join(base, "papers.db")
	cfgVal.Oracle.APIKey = "test"
	cfgVal.Oracle.TimeoutSeconds = 5
	cfgVal.Throttle.RequestsPerSecond = 0
	cfgVal.Throttle.BaseDelayMillis = 1
	cfgVal.Throttle.MaxDelaySeconds = 1
	cfgVal.Throttle.JitterFraction = 0
	cfgVal.Shutdown.GracePeriodSeconds = 1
	cfgVal.Progress.SnapshotFiles = false
	cfgVal.Metrics.Listen = ""
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithConcurrency overrides the worker count.
func WithConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.Concurrency = n
	}
}

// WithLimit caps the number of records a run processes.
func WithLimit(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.Limit = n
	}
}

// WithMaxAttempts overrides the retry bound.
func WithMaxAttempts(total, malformed int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.MaxAttempts = total
		b.cfg.Dispatch.MaxMalformedAttempts = malformed
	}
}

// WithSnapshotFiles enables checkpoint snapshot files under the data dir.
func WithSnapshotFiles(every int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Progress.SnapshotFiles = true
		b.cfg.Progress.SnapshotEvery = every
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
