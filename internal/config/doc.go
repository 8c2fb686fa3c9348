// Package config loads, normalizes, and validates publishing pipeline
// configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours PUBPIPE_* environment overrides for
// secrets and deployment endpoints such as the store DSN or Kafka brokers.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config
