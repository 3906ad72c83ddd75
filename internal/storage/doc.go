// Package storage keeps the run history: one RunRecord per finished run.
//
// Backends:
//   - "file": append-only JSON Lines, no dependencies
//   - "sqlite": SQLite database (build tag "sqlite")
package storage
