// Package ledger implements the append-only credit accounting for
// accounts. Balance is always the sum of the entries; nothing is ever
// updated or deleted in place, and failed work is compensated with a
// refund grant rather than a rollback.
//
// Grants carry an optional external reference; a unique index over
// (account, reason, external_ref) makes replayed grants no-ops, which is
// what keeps billing webhook retries and refund replays safe.
package ledger
