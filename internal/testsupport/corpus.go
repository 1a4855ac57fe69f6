package testsupport

import (
	"database/sql"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"papersift/internal/corpus"
)

// Paper is a row written by SeedPapersDB. A nil pointer stores SQL NULL.
type Paper struct {
	DOI      *string
	PMID     *int64
	Title    *string
	Abstract *string
}

// Str returns a pointer to value.
func Str(value string) *string { return &value }

// Records builds n records with identifiers paper-000, paper-001, ...
func Records(n int) []corpus.Record {
	records := make([]corpus.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, corpus.Record{
			ID:       fmt.Sprintf("paper-%03d", i),
			Title:    fmt.Sprintf("Caloric restriction study %d", i),
			Abstract: "We measured lifespan in a cohort of model organisms.",
			Metadata: map[string]string{"pmid": fmt.Sprintf("%d", 1000+i)},
		})
	}
	return records
}

// NewMemoryCorpus returns an in-memory store seeded with n records.
func NewMemoryCorpus(n int) *corpus.MemoryStore {
	return corpus.NewMemoryStore(Records(n)...)
}

// SeedPapersDB creates a papers table at path in the layout the SQL adapter
// reads and inserts papers.
func SeedPapersDB(t testing.TB, path string, papers []Paper) {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open papers db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE papers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    doi TEXT,
    pmid INTEGER,
    title TEXT,
    abstract TEXT
)`); err != nil {
		t.Fatalf("create papers table: %v", err)
	}
	for _, paper := range papers {
		if _, err := db.Exec("INSERT INTO papers (doi, pmid, title, abstract) VALUES (?, ?, ?, ?)",
			paper.DOI, paper.PMID, paper.Title, paper.Abstract); err != nil {
			t.Fatalf("insert paper: %v", err)
		}
	}
}
