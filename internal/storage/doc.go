package storage

// Package storage persists scheduled tasks and their execution history.
//
// It currently supports:
//   - sqlite: single-file database (modernc, no cgo), the production driver
//   - memory: ephemeral store for tests and dry runs
