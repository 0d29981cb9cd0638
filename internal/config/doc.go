// Package config loads, normalizes, and validates FableForge configuration.
//
// Configuration is a single TOML file (default ~/.config/fableforge/config.toml,
// or fableforge.toml in the working directory). Sections by subsystem:
//   - Paths: data and log directories plus the API bind address and token
//   - Credits: per-stage generation cost table and the signup grant
//   - Worker: generation worker webhook endpoint, auth, and retry policy
//   - Workflow: dispatch polling and callback-timeout reaping intervals
//   - Notifications: optional push mirror for owner notifications
//   - Logging: log format, level, and retention
package config
