package corpus

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	fetches int
}

// NewMemoryStore returns a store holding records sorted by identifier.
func NewMemoryStore(records ...Record) *MemoryStore {
	sorted := slices.Clone(records)
	for i := range sorted {
		if sorted[i].Cursor == "" {
			sorted[i].Cursor = sorted[i].ID
		}
	}
	slices.SortFunc(sorted, func(a, b Record) int { return strings.Compare(a.ID, b.ID) })
	return &MemoryStore{records: sorted}
}

// CountTotal implements Store.
func (m *MemoryStore) CountTotal(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

// FetchUnprocessed implements Store.
func (m *MemoryStore) FetchUnprocessed(ctx context.Context, req FetchRequest) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++

	limit := req.Limit
	if limit <= 0 {
		limit = len(m.records)
	}
	out := make([]Record, 0, limit)
	for _, record := range m.records {
		if len(out) == limit {
			break
		}
		if req.After != "" && record.Cursor <= req.After {
			continue
		}
		if req.Exclude.Contains(record.ID) || containsID(out, record.ID) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

// Fetches returns how many times FetchUnprocessed was called.
func (m *MemoryStore) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
