// Package store owns the SQLite database every FableForge module persists
// to: connection setup (WAL, foreign keys, busy timeout), the embedded
// schema with its version guard, busy-retry helpers, and the transaction
// wrapper the workflow manager uses to serialize multi-table writes.
package store
