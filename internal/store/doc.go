// Package store is the persistence sink. It keeps sessions, their event
// log, starred hints and battlecards in SQLite or PostgreSQL and writes
// the live event stream asynchronously with bounded retries.
package store
