// Package store provides persistent storage for the gateway.
//
// # Architecture
//
// The store package uses an interface-driven architecture with one interface
// per concern:
//
//   - ActionStore: Action Records and their guarded status transitions
//   - PolicyStore: per-conversation policy and the operating mode
//   - ReceiptStore: append-only execution receipts
//   - MessageStore: outbound messages written after dm, email and website dispatch
//   - ContentJobStore: content render jobs
//   - CredentialStore: channel credentials with per-organization overrides
//   - AuditStore: operator writes
//
// SQLStore implements all of them in a single struct over database/sql.
//
// # Drivers
//
// Three drivers are supported, selected by Options.Driver:
//
//   - sqlite: modernc.org/sqlite, pure Go (default)
//   - sqlite3: github.com/mattn/go-sqlite3, cgo
//   - postgres: github.com/lib/pq
//
// Queries are written with ? placeholders and rebound to $n for Postgres.
// SQLite databases run with WAL mode and a single connection:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Status transitions
//
// Action status only moves forward:
//
//	pending -> approved -> executing -> sent | failed
//	pending ------------> executing
//
// ClaimAction is a single UPDATE guarded on version and status. When two
// callers race on the same record exactly one of them gets a row back; the
// other sees ErrConflict. FinishAction is guarded on status = executing.
//
// # Errors
//
//   - ErrNotFound: requested entity does not exist
//   - ErrConflict: a guarded transition did not apply
//   - ErrSealedCredential: a sealed credential was read without a key
//
// # Testing
//
// Use NewMockStore() for unit tests. Fail(method, err) injects an error into
// a single method, which is how the orchestrator tests exercise partial
// failure of the post-dispatch steps.
//
// Use NewSQLiteStore(path) under t.TempDir() for integration tests.
package store
