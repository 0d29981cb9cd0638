// Package logging constructs the slog loggers used across FableForge and
// standardizes the structured field vocabulary (component, project_id,
// stage, job_id, account_id, correlation_id) so log lines from the API,
// the workflow manager, and the dispatcher stay queryable together.
package logging
