// Package storage persists the relay state: the set of known users, the set
// of blocked users and the forwarded-message map, plus an append-only audit
// log of administrator actions.
//
// Drivers:
//   - "file": one JSON file per collection, written atomically (tmp + rename)
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
//
// A Store has no business logic and no concurrency policy of its own; the
// relay directory serialises every write through it.
package storage
