// Package services defines shared utilities consumed by the workflow
// manager, the HTTP API, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, stage names, job IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification consistent across the pipeline (user-recoverable,
//     concurrency loss, worker faults, replayed callbacks).
//
// Use these helpers when wiring new operations so error handling and
// observability stay uniform across the pipeline.
package services
