package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"papersift/internal/config"
)

// Record is one immutable input paper.
type Record struct {
	ID       string
	Title    string
	Abstract string
	Metadata map[string]string
	// Cursor is the store's keyset position for this record. Pass the last
	// returned Cursor as FetchRequest.After to continue paging.
	Cursor string
}

// IDSet is a set of record identifiers.
type IDSet map[string]struct{}

// Contains reports whether id is in the set. A nil set contains nothing.
func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// FetchRequest selects the next unprocessed records.
type FetchRequest struct {
	// Exclude holds identifiers that must not be returned.
	Exclude IDSet
	// After is a keyset cursor; only identifiers greater than After are returned.
	After string
	// Limit caps the number of returned records. Zero means the store default.
	Limit int
}

// Store is the record source consumed by the dispatcher.
type Store interface {
	// CountTotal returns the number of classifiable records.
	CountTotal(ctx context.Context) (int, error)
	// FetchUnprocessed returns up to req.Limit records in identifier order,
	// skipping req.Exclude. Fewer than req.Limit records means the store is
	// exhausted past the returned cursor.
	FetchUnprocessed(ctx context.Context, req FetchRequest) ([]Record, error)
	Close() error
}

// Checker is implemented by stores that can verify their schema.
type Checker interface {
	Check(ctx context.Context) error
}

// Open builds the store selected by cfg.Corpus.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	normalizer := NewNormalizer(cfg.Corpus.StripHTML)
	switch cfg.Corpus.Driver {
	case "sqlite":
		return OpenSQLite(ctx, cfg.Corpus.Path, cfg.Corpus.Table, cfg.Corpus.BatchSize, normalizer, logger)
	case "postgres":
		return OpenPostgres(ctx, cfg.Corpus.DSN, cfg.Corpus.Table, cfg.Corpus.BatchSize, normalizer, logger)
	default:
		return nil, fmt.Errorf("unsupported corpus driver %q", cfg.Corpus.Driver)
	}
}
