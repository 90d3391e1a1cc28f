// Package integration contains integration tests for the Harmonie edge service.
//
// These tests use testcontainers to spin up real dependencies (Redis and
// PostgreSQL) and exercise the page cache version, the rate limiters and the
// magic-link repository against them. They are skipped in short mode.
package integration
