/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Persists day records and ledger movements as keyed JSON records with
  secondary indexes, using real SQL transactions for units of work.

KEY TABLES:
  records:      one row per (store, key) with the JSON body
  record_index: one row per (store, key, index name) -> value
  audit_log:    append-only trail of successful engine mutations

INDEXES:
  - idx_record_index_lookup: GetAllByIndex (hot path: every ledger load)
  - idx_audit_profile:       audit trail per profile

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, and a single connection so that
  ":memory:" databases are shared by every query.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./guard.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := guard.NewEngine(store, cfg, guard.WithAuditSink(store))

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/warp/guard-ledger/generic"
)

// Store implements generic.TxStore and generic.AuditSink using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, log: zerolog.Nop()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// SetLogger sets the logger used for audit write failures.
func (s *Store) SetLogger(l zerolog.Logger) { s.log = l }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		store TEXT NOT NULL,
		key TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (store, key)
	);

	CREATE TABLE IF NOT EXISTS record_index (
		store TEXT NOT NULL,
		key TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (store, key, name),
		FOREIGN KEY (store, key) REFERENCES records(store, key) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_record_index_lookup
		ON record_index(store, name, value, key);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id TEXT NOT NULL,
		action TEXT NOT NULL,
		detail_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_profile
		ON audit_log(profile_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (generic.RecordStore interface)
// =============================================================================

func (s *Store) GetAll(ctx context.Context, store string) ([]generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAll(ctx, s.db, store)
}

func (s *Store) Get(ctx context.Context, store, key string) (*generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(ctx, s.db, store, key)
}

// Put upserts a record and replaces its index rows atomically.
func (s *Store) Put(ctx context.Context, store string, record generic.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := put(ctx, sqlTx, store, record); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) Remove(ctx context.Context, store, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return remove(ctx, s.db, store, key)
}

func (s *Store) GetAllByIndex(ctx context.Context, store, index, value string) ([]generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAllByIndex(ctx, s.db, store, index, value)
}

// =============================================================================
// TRANSACTIONS (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.RecordStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore reads and writes through the open transaction, so reads see
// the transaction's own writes.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAll(ctx context.Context, store string) ([]generic.Record, error) {
	return getAll(ctx, ts.tx, store)
}

func (ts *txStore) Get(ctx context.Context, store, key string) (*generic.Record, error) {
	return get(ctx, ts.tx, store, key)
}

func (ts *txStore) Put(ctx context.Context, store string, record generic.Record) error {
	return put(ctx, ts.tx, store, record)
}

func (ts *txStore) Remove(ctx context.Context, store, key string) error {
	return remove(ctx, ts.tx, store, key)
}

func (ts *txStore) GetAllByIndex(ctx context.Context, store, index, value string) ([]generic.Record, error) {
	return getAllByIndex(ctx, ts.tx, store, index, value)
}

var (
	_ generic.TxStore   = (*Store)(nil)
	_ generic.AuditSink = (*Store)(nil)
)

// =============================================================================
// QUERIES
// =============================================================================

func put(ctx context.Context, q querier, store string, record generic.Record) error {
	if record.Key == "" {
		return fmt.Errorf("record in %s has an empty key", store)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO records (store, key, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(store, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, store, record.Key, string(record.Body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", store, record.Key, err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM record_index WHERE store = ? AND key = ?`, store, record.Key); err != nil {
		return fmt.Errorf("failed to clear index for %s/%s: %w", store, record.Key, err)
	}
	for name, value := range record.Index {
		_, err := q.ExecContext(ctx, `
			INSERT INTO record_index (store, key, name, value) VALUES (?, ?, ?, ?)
		`, store, record.Key, name, value)
		if err != nil {
			return fmt.Errorf("failed to index %s/%s: %w", store, record.Key, err)
		}
	}
	return nil
}

// remove deletes the record; index rows go with it via ON DELETE CASCADE.
func remove(ctx context.Context, q querier, store, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM records WHERE store = ? AND key = ?`, store, key); err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", store, key, err)
	}
	return nil
}

func get(ctx context.Context, q querier, store, key string) (*generic.Record, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM records WHERE store = ? AND key = ?`, store, key).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", store, key, err)
	}

	recs := []generic.Record{{Key: key, Body: json.RawMessage(body)}}
	if err := attachIndexes(ctx, q, recs,
		`SELECT key, name, value FROM record_index WHERE store = ? AND key = ?`, store, key); err != nil {
		return nil, err
	}
	return &recs[0], nil
}

func getAll(ctx context.Context, q querier, store string) ([]generic.Record, error) {
	recs, err := queryRecords(ctx, q,
		`SELECT key, body FROM records WHERE store = ? ORDER BY key`, store)
	if err != nil {
		return nil, err
	}
	if err := attachIndexes(ctx, q, recs,
		`SELECT key, name, value FROM record_index WHERE store = ?`, store); err != nil {
		return nil, err
	}
	return recs, nil
}

func getAllByIndex(ctx context.Context, q querier, store, index, value string) ([]generic.Record, error) {
	recs, err := queryRecords(ctx, q, `
		SELECT r.key, r.body
		FROM records r
		JOIN record_index i ON i.store = r.store AND i.key = r.key
		WHERE i.store = ? AND i.name = ? AND i.value = ?
		ORDER BY r.key
	`, store, index, value)
	if err != nil {
		return nil, err
	}
	if err := attachIndexes(ctx, q, recs, `
		SELECT a.key, a.name, a.value
		FROM record_index a
		JOIN record_index f ON f.store = a.store AND f.key = a.key
		WHERE f.store = ? AND f.name = ? AND f.value = ?
	`, store, index, value); err != nil {
		return nil, err
	}
	return recs, nil
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]generic.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var recs []generic.Record
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs = append(recs, generic.Record{Key: key, Body: json.RawMessage(body)})
	}
	return recs, rows.Err()
}

// attachIndexes fills Record.Index from (key, name, value) rows.
func attachIndexes(ctx context.Context, q querier, recs []generic.Record, query string, args ...any) error {
	if len(recs) == 0 {
		return nil
	}
	byKey := make(map[string]int, len(recs))
	for i, r := range recs {
		byKey[r.Key] = i
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query indexes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, name, value string
		if err := rows.Scan(&key, &name, &value); err != nil {
			return fmt.Errorf("failed to scan index: %w", err)
		}
		i, ok := byKey[key]
		if !ok {
			continue
		}
		if recs[i].Index == nil {
			recs[i].Index = make(map[string]string)
		}
		recs[i].Index[name] = value
	}
	return rows.Err()
}

// =============================================================================
// AUDIT LOG (generic.AuditSink interface)
// =============================================================================

// Record appends an audit entry. Failures are logged, never returned.
func (s *Store) Record(ctx context.Context, e generic.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	detail, err := json.Marshal(e.Detail)
	if err != nil {
		s.log.Warn().Err(err).Str("action", string(e.Action)).Msg("audit detail not serializable")
		detail = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (profile_id, action, detail_json, created_at)
		VALUES (?, ?, ?, ?)
	`, string(e.ProfileID), string(e.Action), string(detail), e.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.log.Error().Err(err).Str("action", string(e.Action)).Msg("failed to write audit entry")
	}
}

// AuditLog returns the most recent entries of a profile, newest first.
func (s *Store) AuditLog(ctx context.Context, profile generic.ProfileID, limit int) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id, action, detail_json, created_at
		FROM audit_log
		WHERE profile_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, string(profile), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e                 generic.AuditEntry
			profileID, action string
			detail, createdAt sql.NullString
		)
		if err := rows.Scan(&profileID, &action, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ProfileID = generic.ProfileID(profileID)
		e.Action = generic.AuditAction(action)
		if detail.Valid && strings.TrimSpace(detail.String) != "" {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode audit detail: %w", err)
			}
		}
		if createdAt.Valid {
			e.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Reset deletes all data. Used by tests and the CLI.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"record_index", "records", "audit_log"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}
