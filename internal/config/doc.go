// Package config loads, normalizes, and validates tractkit configuration data.
//
// It supplies repository defaults, derives the processing layout from a single
// data root, expands user paths (including tilde shortcuts), reads TOML files,
// and honours environment fallbacks (optionally sourced from a .env file) for
// the object storage, Kafka, and PostgreSQL sinks.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
