// Package sqlite provides a single-node implementation of store.Store on
// SQLite (mattn/go-sqlite3).
//
// The database is opened with one connection and immediate transactions, so
// every unit of work runs serialized. SQLite has no row locks; serialization
// gives the same exactly-one-claim guarantee that SKIP LOCKED gives on
// PostgreSQL, at the cost of concurrency.
package sqlite
