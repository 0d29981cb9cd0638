// Package pipeline defines the project stage state machine: the ordered
// creative stages, the per-stage status lifecycle, the transition rules
// gating every client action, and the SQLite persistence for projects and
// their stage rows.
//
// The store methods suffixed Tx operate inside a caller-owned transaction;
// the workflow manager composes them with ledger and artifact writes so a
// whole stage transition commits or rolls back as one unit. Optimistic
// concurrency uses the project revision column: every mutation bumps it
// with a guarded UPDATE, and a lost race surfaces as ErrStaleState.
package pipeline
