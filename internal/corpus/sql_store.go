package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"papersift/internal/logging"
	"papersift/internal/services"
)

// RequiredColumns lists the papers table columns the SQL adapters read.
var RequiredColumns = []string{"doi", "pmid", "title", "abstract"}

type paperRow struct {
	DOI      string `db:"doi"`
	PMID     string `db:"pmid"`
	Title    string `db:"title"`
	Abstract string `db:"abstract"`
}

// SQLStore pages through a papers table over database/sql.
type SQLStore struct {
	db         *sqlx.DB
	builder    sq.StatementBuilderType
	table      string
	batchSize  int
	normalizer *Normalizer
	logger     *slog.Logger
}

func newSQLStore(db *sqlx.DB, placeholder sq.PlaceholderFormat, table string, batchSize int, normalizer *Normalizer, logger *slog.Logger) *SQLStore {
	if batchSize <= 0 {
		batchSize = 200
	}
	if normalizer == nil {
		normalizer = NewNormalizer(false)
	}
	return &SQLStore{
		db:         db,
		builder:    sq.StatementBuilder.PlaceholderFormat(placeholder),
		table:      table,
		batchSize:  batchSize,
		normalizer: normalizer,
		logger:     logging.NewComponentLogger(logger, "corpus"),
	}
}

// classifiable restricts rows to papers that carry an identifier, a title and
// a non-empty abstract.
func (s *SQLStore) classifiable() sq.And {
	return sq.And{
		sq.NotEq{"doi": nil},
		sq.NotEq{"title": nil},
		sq.NotEq{"abstract": nil},
		sq.NotEq{"abstract": ""},
	}
}

// CountTotal implements Store.
func (s *SQLStore) CountTotal(ctx context.Context) (int, error) {
	query, args, err := s.countQuery()
	if err != nil {
		return 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, services.Infrastructure("corpus", "count records", err)
	}
	return total, nil
}

// FetchUnprocessed implements Store. It keeps paging until limit records
// survive the exclusion set or the table is exhausted.
func (s *SQLStore) FetchUnprocessed(ctx context.Context, req FetchRequest) ([]Record, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.batchSize
	}
	cursor := req.After
	out := make([]Record, 0, limit)
	pageSize := max(limit, s.batchSize)

	for len(out) < limit {
		rows, err := s.page(ctx, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		skipped := 0
		for _, row := range rows {
			cursor = row.DOI
			id := strings.TrimSpace(row.DOI)
			if req.Exclude.Contains(id) || containsID(out, id) {
				skipped++
				continue
			}
			out = append(out, s.toRecord(row))
			if len(out) == limit {
				break
			}
		}
		if skipped > 0 {
			s.logger.Debug("skipped settled records", logging.Int("count", skipped), logging.String("cursor", cursor))
		}
		if len(rows) < pageSize {
			break
		}
	}
	return out, nil
}

func (s *SQLStore) countQuery() (string, []any, error) {
	query, args, err := s.builder.Select("COUNT(*)").From(s.table).Where(s.classifiable()).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build count query: %w", err)
	}
	return query, args, nil
}

// pageQuery selects the next size classifiable rows after the cursor in DOI
// order.
func (s *SQLStore) pageQuery(after string, size int) (string, []any, error) {
	builder := s.builder.
		Select("doi", "COALESCE(CAST(pmid AS TEXT), '') AS pmid", "title", "abstract").
		From(s.table).
		Where(s.classifiable()).
		OrderBy("doi").
		Limit(uint64(size))
	if after != "" {
		builder = builder.Where(sq.Gt{"doi": after})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build fetch query: %w", err)
	}
	return query, args, nil
}

func (s *SQLStore) page(ctx context.Context, after string, size int) ([]paperRow, error) {
	query, args, err := s.pageQuery(after, size)
	if err != nil {
		return nil, err
	}
	var rows []paperRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, services.Infrastructure("corpus", "fetch records", err)
	}
	return rows, nil
}

func (s *SQLStore) toRecord(row paperRow) Record {
	record := Record{
		ID:       strings.TrimSpace(row.DOI),
		Title:    s.normalizer.Clean(row.Title),
		Abstract: s.normalizer.Clean(row.Abstract),
		Metadata: map[string]string{"doi": row.DOI},
		Cursor:   row.DOI,
	}
	if pmid := strings.TrimSpace(row.PMID); pmid != "" {
		record.Metadata["pmid"] = pmid
	}
	return record
}

// Check verifies the table exposes the required columns.
func (s *SQLStore) Check(ctx context.Context) error {
	query, args, err := s.builder.Select(RequiredColumns...).From(s.table).Limit(1).ToSql()
	if err != nil {
		return fmt.Errorf("build check query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return services.Infrastructure("corpus", "check columns", err)
	}
	return rows.Close()
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func containsID(records []Record, id string) bool {
	for _, record := range records {
		if record.ID == id {
			return true
		}
	}
	return false
}
