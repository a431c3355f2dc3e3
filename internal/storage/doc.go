// Package storage persists guild schedule configs, their events and the
// command audit log.
//
// Two drivers are available:
//   - file: in-memory state with an atomically rewritten JSON snapshot
//   - sqlite: a single-writer SQLite database (pure Go driver)
package storage
