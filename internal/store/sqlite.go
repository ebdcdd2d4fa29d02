// ABOUTME: SQL implementation of the Store interface over SQLite (modernc or mattn) or Postgres
// ABOUTME: Opens the database, creates the schema and applies column migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"   // modernc.org/sqlite, pure Go
	DriverSQLite3  = "sqlite3"  // github.com/mattn/go-sqlite3, cgo
	DriverPostgres = "postgres" // github.com/lib/pq
)

// timeFormat is fixed width so TEXT columns sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// Options selects and locates the database.
type Options struct {
	Driver string // defaults to DriverSQLite
	Path   string // file path for the sqlite drivers
	DSN    string // connection string for postgres
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	sealer  *SecretBox
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure-Go driver. Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return Open(Options{Driver: DriverSQLite, Path: path})
}

// Open connects to the configured database and ensures the schema exists.
func Open(opts Options) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite, DriverSQLite3:
		db, err = openSQLite(driver, opts.Path)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, errors.New("postgres driver requires a dsn")
		}
		db, err = sql.Open("postgres", opts.DSN)
		if err == nil {
			err = db.Ping()
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}

	s := &SQLStore{
		db:      db,
		dialect: dialectFor(driver),
		logger:  logger,
	}

	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("store initialized", "driver", driver, "path", opts.Path)
	return s, nil
}

func openSQLite(driver, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite driver requires a path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path
	if driver == DriverSQLite3 {
		dsn = path + "?_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return db, nil
}

// WithCredentialSealer makes the store seal credential values at rest.
func (s *SQLStore) WithCredentialSealer(sb *SecretBox) *SQLStore {
	s.sealer = sb
	return s
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ai_actions (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT,
			organization_id TEXT,
			channel         TEXT NOT NULL,
			action_type     TEXT NOT NULL,
			status          TEXT NOT NULL,
			action_payload  {{blob}} NOT NULL,
			executed_at     TEXT,
			version         INTEGER NOT NULL DEFAULT 0,
			created_by      TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			CHECK (status IN ('pending', 'approved', 'executing', 'sent', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_ai_actions_conversation ON ai_actions(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_ai_actions_status ON ai_actions(status);

		CREATE TABLE IF NOT EXISTS conversation_policies (
			conversation_id   TEXT PRIMARY KEY,
			ai_paused         INTEGER NOT NULL DEFAULT 0,
			approval_required INTEGER NOT NULL DEFAULT 1,
			autopilot_allowed INTEGER NOT NULL DEFAULT 0,
			updated_by        TEXT,
			updated_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS gateway_settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_by TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS execution_receipts (
			id                  TEXT PRIMARY KEY,
			source_table        TEXT NOT NULL,
			source_id           TEXT NOT NULL,
			conversation_id     TEXT,
			organization_id     TEXT,
			channel             TEXT NOT NULL,
			action_type         TEXT NOT NULL,
			status              TEXT NOT NULL,
			provider            TEXT NOT NULL,
			provider_receipt_id TEXT,
			payload_snapshot    {{blob}} NOT NULL,
			error               TEXT,
			triggered_by        TEXT,
			created_at          TEXT NOT NULL,

			CHECK (status IN ('sent', 'failed', 'pending'))
		);

		CREATE INDEX IF NOT EXISTS idx_receipts_source ON execution_receipts(source_table, source_id);
		CREATE INDEX IF NOT EXISTS idx_receipts_conversation ON execution_receipts(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_receipts_organization ON execution_receipts(organization_id, created_at);

		CREATE TABLE IF NOT EXISTS outbound_messages (
			id              TEXT PRIMARY KEY,
			action_id       TEXT NOT NULL,
			conversation_id TEXT,
			organization_id TEXT,
			channel         TEXT NOT NULL,
			direction       TEXT NOT NULL DEFAULT 'outbound',
			content         TEXT NOT NULL,
			delivery_status TEXT NOT NULL,
			metadata_json   TEXT,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_outbound_conversation ON outbound_messages(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_outbound_action ON outbound_messages(action_id);

		CREATE TABLE IF NOT EXISTS content_jobs (
			id               TEXT PRIMARY KEY,
			conversation_id  TEXT,
			organization_id  TEXT,
			requested_by     TEXT,
			agent            TEXT,
			mode             TEXT NOT NULL,
			status           TEXT NOT NULL,
			instruction_text TEXT NOT NULL,
			parsed_json      TEXT,
			ai_action_id     TEXT,
			used_fn          TEXT,
			result_json      TEXT,
			error            TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			CHECK (status IN ('pending', 'executing', 'completed', 'failed', 'awaiting_approval'))
		);

		CREATE INDEX IF NOT EXISTS idx_content_jobs_conversation ON content_jobs(conversation_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_content_jobs_organization ON content_jobs(organization_id, created_at);

		CREATE TABLE IF NOT EXISTS channel_credentials (
			id              TEXT PRIMARY KEY,
			channel         TEXT NOT NULL,
			name            TEXT NOT NULL,
			value           TEXT NOT NULL,
			organization_id TEXT NOT NULL DEFAULT '',
			created_by      TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			UNIQUE (channel, name, organization_id)
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_log_ts ON audit_log(ts);
		CREATE INDEX IF NOT EXISTS idx_audit_log_target ON audit_log(target_type, target_id);
	`

	schema = strings.ReplaceAll(schema, "{{blob}}", s.dialect.blobType)
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds the columns the gateway relies on to ai_actions tables
// that producers created before the gateway owned the schema.
// These are idempotent - safe to run multiple times.
func (s *SQLStore) runMigrations() error {
	migrations := []struct {
		column string
		def    string
	}{
		{column: "organization_id", def: "TEXT"},
		{column: "executed_at", def: "TEXT"},
		{column: "version", def: "INTEGER NOT NULL DEFAULT 0"},
		{column: "created_by", def: "TEXT"},
	}

	for _, m := range migrations {
		exists, err := s.columnExists("ai_actions", m.column)
		if err != nil {
			return fmt.Errorf("checking %s column: %w", m.column, err)
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE ai_actions ADD COLUMN %s %s", m.column, m.def)); err != nil {
			return fmt.Errorf("adding %s column to ai_actions: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "ai_actions")
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_ai_actions_organization ON ai_actions(organization_id, created_at)`); err != nil {
		return fmt.Errorf("indexing ai_actions.organization_id: %w", err)
	}

	return nil
}

func (s *SQLStore) columnExists(table, column string) (bool, error) {
	var query string
	switch s.dialect.name {
	case DriverPostgres:
		query = `SELECT 1 FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`
	default:
		query = `SELECT 1 FROM pragma_table_info(?) WHERE name = ?`
	}
	var one int
	err := s.db.QueryRow(query, table, column).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// dialect captures the few differences between SQLite and Postgres the store cares about.
type dialect struct {
	name     string
	blobType string
	numbered bool // $1-style placeholders
}

func dialectFor(driver string) dialect {
	if driver == DriverPostgres {
		return dialect{name: DriverPostgres, blobType: "BYTEA", numbered: true}
	}
	return dialect{name: driver, blobType: "BLOB"}
}

// rebind rewrites ? placeholders to $n for dialects that need it.
// Queries in this package never contain literal question marks.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isConstraintViolation checks if the error is a UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// whereBuilder accumulates equality filters for list queries.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) eq(column, value string) {
	if value == "" {
		return
	}
	w.clauses = append(w.clauses, column+" = ?")
	w.args = append(w.args, value)
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
