package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"papersift/internal/services"
)

// OpenSQLite opens a read-only view of the papers database at path.
func OpenSQLite(ctx context.Context, path, table string, batchSize int, normalizer *Normalizer, logger *slog.Logger) (*SQLStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, services.Infrastructure("corpus", "open sqlite", err)
	}
	db, err := sqlx.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite corpus: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, services.Infrastructure("corpus", "connect sqlite", err)
	}
	return newSQLStore(db, sq.Question, table, batchSize, normalizer, logger), nil
}
