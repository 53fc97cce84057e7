/*
Package docstore defines the document-store abstraction the engine runs on.

PURPOSE:
  The ledger and booking services never talk to a database directly; they
  talk to this interface. Implementations:
  - docstore/memory: in-memory, optimistic-concurrency (tests/dev)
  - store/sqlite:    SQLite-backed JSON documents (production)

CONCURRENCY MODEL:
  RunTransaction is optimistic read-modify-write: the body reads documents,
  computes new values, and commits. If any document read by the body was
  modified by another committed transaction in the meantime, the whole body
  is aborted and re-run by the store (bounded attempts). Callers never build
  their own retry loop - and must keep bodies free of non-idempotent side
  effects (no outbound notifications inside the atomic block).

BATCH vs TRANSACTION:
  Batch groups writes for convenience but is NOT atomic: partial completion
  is possible and is reported via BatchError, never swallowed. Use
  RunTransaction when cross-document consistency matters.

SUBSCRIPTIONS:
  Subscribe pushes a full snapshot of the matching documents after every
  committed change touching the collection. There is no client-side merge
  logic: subscribers replace state with each pushed snapshot.
*/
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned by Get when no document matches.
	ErrNotFound = errors.New("document not found")

	// ErrContention is returned by RunTransaction after the retry budget is
	// exhausted without a clean commit.
	ErrContention = errors.New("transaction aborted: too much contention")
)

// BatchError reports partial completion of a non-atomic batch.
type BatchError struct {
	Applied    int // writes that committed before the failure
	FailedOp   string
	Collection string
	ID         string
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed at op %d (%s %s/%s) after %d applied: %v",
		e.Applied, e.FailedOp, e.Collection, e.ID, e.Applied, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// =============================================================================
// QUERY - Equality filters over document fields
// =============================================================================

// Filter matches a top-level JSON field against a value.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from one collection by field equality.
type Query struct {
	Collection string
	Filters    []Filter
}

// NewQuery starts a query over a collection.
func NewQuery(collection string) Query {
	return Query{Collection: collection}
}

// Where adds an equality filter. Chainable.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Value: value})
	return q
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Reader is the read half, available both directly and inside transactions.
type Reader interface {
	// Get decodes the document into out. Returns ErrNotFound when missing.
	Get(ctx context.Context, collection, id string, out any) error

	// Query decodes all matching documents into out, which must be a pointer
	// to a slice.
	Query(ctx context.Context, q Query, out any) error
}

// Writer is the write half.
type Writer interface {
	// Set creates or replaces a document (last-writer-wins outside
	// transactions).
	Set(ctx context.Context, collection, id string, doc any) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// Tx is the view handed to a RunTransaction body. Reads are tracked for
// conflict detection; writes are buffered until commit.
type Tx interface {
	Reader
	Writer
}

// Batch groups writes applied together but NOT atomically.
type Batch interface {
	Set(collection, id string, doc any) Batch
	Delete(collection, id string) Batch

	// Apply executes the queued writes in order. On failure it returns a
	// *BatchError describing how far it got; earlier writes stay applied.
	Apply(ctx context.Context) error
}

// Snapshot is one pushed view of a subscribed query's result set.
type Snapshot struct {
	Query Query
	Docs  []json.RawMessage
}

// CancelFunc stops a subscription.
type CancelFunc func()

// Store is the full document-store contract the engine depends on.
type Store interface {
	Reader
	Writer

	// RunTransaction executes fn atomically. The body may be invoked more
	// than once under contention; see package comment.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Batch starts a grouped (non-atomic) write set.
	Batch() Batch

	// Subscribe pushes a snapshot of q's results after every committed
	// change to q's collection, and once immediately on subscribing.
	Subscribe(q Query, fn func(Snapshot)) (CancelFunc, error)

	Close() error
}

// =============================================================================
// SHARED HELPERS - Used by implementations
// =============================================================================

// DecodeList unmarshals raw documents into out, a pointer to a slice.
func DecodeList(docs []json.RawMessage, out any) error {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("docstore: out must be a pointer to a slice, got %T", out)
	}
	slice := v.Elem()
	slice.SetLen(0)
	elemType := slice.Type().Elem()
	for _, raw := range docs {
		elem := reflect.New(elemType)
		if err := json.Unmarshal(raw, elem.Interface()); err != nil {
			return fmt.Errorf("docstore: decode element: %w", err)
		}
		slice = reflect.Append(slice, elem.Elem())
	}
	v.Elem().Set(slice)
	return nil
}

// Matches reports whether a raw document satisfies every filter of q.
// Values are compared loosely (via their default string form) because JSON
// decoding erases the distinction between numeric types.
func Matches(raw json.RawMessage, filters []Filter) bool {
	if len(filters) == 0 {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	for _, f := range filters {
		got, ok := fields[f.Field]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}
