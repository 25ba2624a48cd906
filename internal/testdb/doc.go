// Package testdb provides utilities for tests that need a real PostgreSQL
// database. Tests using it are skipped unless DATABASE_URL is set.
package testdb
