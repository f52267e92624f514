// Package config loads, normalizes, and validates framepipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FRAMEPIPE_POSTGRES_DSN. The Config type centralizes every knob the daemon and
// CLI need: directories, orchestrator timing, the retry policy, per-stage
// timeouts, worker capabilities, and the store and artifact backends.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
