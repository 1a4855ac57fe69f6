package corpus

import (
	"strings"
	"testing"

	sq "github.com/Masterminds/squirrel"

	"papersift/internal/logging"
)

func TestPostgresQueriesUseDollarPlaceholders(t *testing.T) {
	store := newSQLStore(nil, sq.Dollar, "papers", 0, nil, logging.NewNop())

	query, args, err := store.pageQuery("10.1/a", 50)
	if err != nil {
		t.Fatalf("pageQuery: %v", err)
	}
	if strings.Contains(query, "?") || !strings.Contains(query, "$1") || !strings.Contains(query, "doi > $2") {
		t.Fatalf("expected numbered placeholders, got %q", query)
	}
	if !strings.Contains(query, "ORDER BY doi") || !strings.Contains(query, "LIMIT 50") {
		t.Fatalf("expected ordered page of 50, got %q", query)
	}
	if len(args) != 2 || args[0] != "" || args[1] != "10.1/a" {
		t.Fatalf("unexpected args %v", args)
	}

	count, countArgs, err := store.countQuery()
	if err != nil {
		t.Fatalf("countQuery: %v", err)
	}
	if strings.Contains(count, "?") || !strings.Contains(count, "abstract <> $1") || len(countArgs) != 1 {
		t.Fatalf("unexpected count query %q %v", count, countArgs)
	}
}

func TestSQLiteQueriesUseQuestionPlaceholders(t *testing.T) {
	store := newSQLStore(nil, sq.Question, "papers", 0, nil, logging.NewNop())
	query, args, err := store.pageQuery("", 10)
	if err != nil {
		t.Fatalf("pageQuery: %v", err)
	}
	if strings.Contains(query, "$1") || strings.Contains(query, "doi >") || len(args) != 1 {
		t.Fatalf("unexpected first page query %q %v", query, args)
	}
}
