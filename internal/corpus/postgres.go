package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"papersift/internal/services"
)

const (
	postgresMaxOpenConns = 4
	postgresMaxIdleConns = 2
)

// OpenPostgres connects to a PostgreSQL papers database through pgx.
func OpenPostgres(ctx context.Context, dsn, table string, batchSize int, normalizer *Normalizer, logger *slog.Logger) (*SQLStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres corpus: %w", err)
	}
	db.SetMaxOpenConns(postgresMaxOpenConns)
	db.SetMaxIdleConns(postgresMaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, services.Infrastructure("corpus", "connect postgres", err)
	}
	return newSQLStore(db, sq.Dollar, table, batchSize, normalizer, logger), nil
}
