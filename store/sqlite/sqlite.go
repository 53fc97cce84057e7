/*
Package sqlite provides a SQLite-backed docstore.Store.

PURPOSE:
  Persists the engine's documents (bookings, accounts, transactions,
  packages, automation rules) as JSON rows. The same patterns apply to
  PostgreSQL with jsonb - only dialect differences.

SCHEMA:
  One table. Documents are schemaless JSON bodies keyed by
  (collection, id), with a version counter bumped on every write:

    documents(collection, id, body, version, updated_at)

QUERIES:
  Equality filters are pushed down via json_extract:

    SELECT body FROM documents
    WHERE collection = ? AND json_extract(body, '$.resource') = ?

ATOMICITY:
  RunTransaction wraps the body in a database transaction, serialized by a
  mutex (single-process SQLite). Commit is all-or-nothing; a body error
  rolls everything back. Serialization means every run commits cleanly, so
  the optimistic retry loop of the memory store is not needed here.

WAL MODE:
  Opened with WAL so readers don't block and crash recovery is sane.

SUBSCRIPTIONS:
  In-process: committed changes push fresh query snapshots to subscribers,
  same contract as the memory store.

SEE ALSO:
  - docstore/docstore.go: interface definitions
  - docstore/memory:      in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/studio-engine/docstore"
)

// Store implements docstore.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]subscriber
	nextSub int
}

type subscriber struct {
	query docstore.Query
	fn    func(docstore.Snapshot)
}

// New opens (or creates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases stable and matches the
	// mutex-serialized write model.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, subs: make(map[int]subscriber)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id         TEXT NOT NULL,
		body       TEXT NOT NULL,
		version    INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	-- Hot paths: same-day bookings per resource, transactions per booking.
	CREATE INDEX IF NOT EXISTS idx_documents_booking_slot
		ON documents(collection, json_extract(body, '$.resource'), json_extract(body, '$.date'))
		WHERE collection = 'bookings';
	CREATE INDEX IF NOT EXISTS idx_documents_tx_booking
		ON documents(collection, json_extract(body, '$.booking_id'))
		WHERE collection = 'transactions';
	CREATE INDEX IF NOT EXISTS idx_documents_tx_account
		ON documents(collection, json_extract(body, '$.account_id'))
		WHERE collection = 'transactions';
	CREATE INDEX IF NOT EXISTS idx_documents_tx_counter_account
		ON documents(collection, json_extract(body, '$.counter_account_id'))
		WHERE collection = 'transactions';
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READS
// =============================================================================

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	return getDoc(ctx, s.db, collection, id, out)
}

func getDoc(ctx context.Context, q querier, collection, id string, out any) error {
	var body string
	err := q.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id).Scan(&body)
	if err == sql.ErrNoRows {
		return docstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return json.Unmarshal([]byte(body), out)
}

var fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func (s *Store) Query(ctx context.Context, q docstore.Query, out any) error {
	raws, err := queryDocs(ctx, s.db, q)
	if err != nil {
		return err
	}
	return docstore.DecodeList(raws, out)
}

func queryDocs(ctx context.Context, qr querier, q docstore.Query) ([]json.RawMessage, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT body FROM documents WHERE collection = ?`)
	args := []any{q.Collection}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return nil, fmt.Errorf("query: bad filter field %q", f.Field)
		}
		sb.WriteString(fmt.Sprintf(` AND json_extract(body, '$.%s') = ?`, f.Field))
		args = append(args, f.Value)
	}
	sb.WriteString(` ORDER BY id`)

	rows, err := qr.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var raws []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		raws = append(raws, json.RawMessage(body))
	}
	return raws, rows.Err()
}

// =============================================================================
// WRITES
// =============================================================================

func (s *Store) Set(ctx context.Context, collection, id string, doc any) error {
	s.mu.Lock()
	err := setDoc(ctx, s.db, collection, id, doc)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ctx, collection)
	return nil
}

func setDoc(ctx context.Context, q querier, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			body = excluded.body,
			version = documents.version + 1,
			updated_at = excluded.updated_at`,
		collection, id, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	err := deleteDoc(ctx, s.db, collection, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ctx, collection)
	return nil
}

func deleteDoc(ctx context.Context, q querier, collection, id string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// RunTransaction executes fn within a database transaction. All writes the
// body performs commit together or not at all.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	s.mu.Lock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	view := &txView{tx: sqlTx}
	if err := fn(view); err != nil {
		sqlTx.Rollback()
		s.mu.Unlock()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("commit: %w", err)
	}

	changed := view.changed
	s.mu.Unlock()

	for collection := range changed {
		s.notify(ctx, collection)
	}
	return nil
}

type txView struct {
	tx      *sql.Tx
	changed map[string]bool
}

func (v *txView) Get(ctx context.Context, collection, id string, out any) error {
	return getDoc(ctx, v.tx, collection, id, out)
}

func (v *txView) Query(ctx context.Context, q docstore.Query, out any) error {
	raws, err := queryDocs(ctx, v.tx, q)
	if err != nil {
		return err
	}
	return docstore.DecodeList(raws, out)
}

func (v *txView) Set(ctx context.Context, collection, id string, doc any) error {
	if err := setDoc(ctx, v.tx, collection, id, doc); err != nil {
		return err
	}
	v.markChanged(collection)
	return nil
}

func (v *txView) Delete(ctx context.Context, collection, id string) error {
	if err := deleteDoc(ctx, v.tx, collection, id); err != nil {
		return err
	}
	v.markChanged(collection)
	return nil
}

func (v *txView) markChanged(collection string) {
	if v.changed == nil {
		v.changed = make(map[string]bool)
	}
	v.changed[collection] = true
}

// =============================================================================
// BATCH - Grouped writes, NOT atomic
// =============================================================================

type batchOp struct {
	del        bool
	collection string
	id         string
	doc        any
}

type batch struct {
	store *Store
	ops   []batchOp
}

func (s *Store) Batch() docstore.Batch { return &batch{store: s} }

func (b *batch) Set(collection, id string, doc any) docstore.Batch {
	b.ops = append(b.ops, batchOp{collection: collection, id: id, doc: doc})
	return b
}

func (b *batch) Delete(collection, id string) docstore.Batch {
	b.ops = append(b.ops, batchOp{del: true, collection: collection, id: id})
	return b
}

// Apply runs each queued write as its own autocommit statement. Earlier
// writes stay applied when a later one fails; the BatchError says how far
// it got so callers can surface the inconsistency.
func (b *batch) Apply(ctx context.Context) error {
	for i, op := range b.ops {
		var err error
		if op.del {
			err = b.store.Delete(ctx, op.collection, op.id)
		} else {
			err = b.store.Set(ctx, op.collection, op.id, op.doc)
		}
		if err != nil {
			kind := "set"
			if op.del {
				kind = "delete"
			}
			return &docstore.BatchError{
				Applied:    i,
				FailedOp:   kind,
				Collection: op.collection,
				ID:         op.id,
				Err:        err,
			}
		}
	}
	return nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (s *Store) Subscribe(q docstore.Query, fn func(docstore.Snapshot)) (docstore.CancelFunc, error) {
	// Initial snapshot, so subscribers start from current state.
	raws, err := queryDocs(context.Background(), s.db, q)
	if err != nil {
		return nil, err
	}

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscriber{query: q, fn: fn}
	s.subMu.Unlock()

	fn(docstore.Snapshot{Query: q, Docs: raws})

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}, nil
}

func (s *Store) notify(ctx context.Context, collection string) {
	s.subMu.Lock()
	var targets []subscriber
	for _, sub := range s.subs {
		if sub.query.Collection == collection {
			targets = append(targets, sub)
		}
	}
	s.subMu.Unlock()

	for _, sub := range targets {
		raws, err := queryDocs(ctx, s.db, sub.query)
		if err != nil {
			continue
		}
		sub.fn(docstore.Snapshot{Query: sub.query, Docs: raws})
	}
}
