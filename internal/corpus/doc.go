// Package corpus reads paper records from the external record store.
//
// The store is read-only from papersift's point of view. SQLite and
// PostgreSQL adapters page through the papers table in identifier order and
// skip identifiers the caller already holds, so a run never re-reads records
// that have a terminal checkpoint.
package corpus
