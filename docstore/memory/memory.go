// Package memory provides an in-memory docstore.Store.
//
// Used by tests and dev mode. It honors the full contract: versioned
// documents, optimistic RunTransaction with bounded retries, non-atomic
// batches, and push subscriptions.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/warp/studio-engine/docstore"
)

// maxTxAttempts bounds the optimistic retry loop, mirroring the default
// retry policy of hosted document stores.
const maxTxAttempts = 5

type document struct {
	raw     json.RawMessage
	version int64
}

type docKey struct {
	collection string
	id         string
}

type subscriber struct {
	query docstore.Query
	fn    func(docstore.Snapshot)
}

// Store is the in-memory implementation.
type Store struct {
	mu sync.RWMutex

	docs map[string]map[string]document
	// colVersions bumps on every change to a collection, so transactions
	// that queried the collection abort when membership changed (phantoms).
	colVersions map[string]int64

	subs    map[int]*subscriber
	nextSub int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		docs:        make(map[string]map[string]document),
		colVersions: make(map[string]int64),
		subs:        make(map[int]*subscriber),
	}
}

func (s *Store) Close() error { return nil }

// =============================================================================
// PLAIN READS / WRITES - Last-writer-wins, no transaction
// =============================================================================

func (s *Store) Get(_ context.Context, collection, id string, out any) error {
	s.mu.RLock()
	doc, ok := s.docs[collection][id]
	s.mu.RUnlock()
	if !ok {
		return docstore.ErrNotFound
	}
	return json.Unmarshal(doc.raw, out)
}

func (s *Store) Query(_ context.Context, q docstore.Query, out any) error {
	s.mu.RLock()
	raws := s.collectLocked(q)
	s.mu.RUnlock()
	return docstore.DecodeList(raws, out)
}

func (s *Store) Set(_ context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.setLocked(collection, id, raw)
	subs := s.snapshotsLocked(collection)
	s.mu.Unlock()
	push(subs)
	return nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	s.deleteLocked(collection, id)
	subs := s.snapshotsLocked(collection)
	s.mu.Unlock()
	push(subs)
	return nil
}

func (s *Store) setLocked(collection, id string, raw json.RawMessage) {
	col := s.docs[collection]
	if col == nil {
		col = make(map[string]document)
		s.docs[collection] = col
	}
	col[id] = document{raw: raw, version: col[id].version + 1}
	s.colVersions[collection]++
}

func (s *Store) deleteLocked(collection, id string) {
	if col, ok := s.docs[collection]; ok {
		if _, existed := col[id]; existed {
			delete(col, id)
			s.colVersions[collection]++
		}
	}
}

// collectLocked returns matching documents in stable (id) order.
func (s *Store) collectLocked(q docstore.Query) []json.RawMessage {
	col := s.docs[q.Collection]
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var raws []json.RawMessage
	for _, id := range ids {
		if docstore.Matches(col[id].raw, q.Filters) {
			raws = append(raws, col[id].raw)
		}
	}
	return raws
}

// =============================================================================
// TRANSACTIONS - Optimistic read-modify-write with bounded retries
// =============================================================================

func (s *Store) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{
			store:    s,
			docReads: make(map[docKey]int64),
			colReads: make(map[string]int64),
			writes:   make(map[docKey]json.RawMessage),
			deletes:  make(map[docKey]bool),
		}
		if err := fn(tx); err != nil {
			// Body errors are business failures, not contention: no retry.
			return err
		}
		if tx.commit() {
			return nil
		}
	}
	return docstore.ErrContention
}

type memTx struct {
	store *Store

	// docReads records the version each document had when the body read it
	// (0 when absent). colReads does the same for whole-collection queries.
	docReads map[docKey]int64
	colReads map[string]int64

	// Buffered mutations, applied only on a clean commit.
	writes  map[docKey]json.RawMessage
	deletes map[docKey]bool
}

func (t *memTx) Get(_ context.Context, collection, id string, out any) error {
	k := docKey{collection, id}
	if t.deletes[k] {
		return docstore.ErrNotFound
	}
	if raw, ok := t.writes[k]; ok {
		return json.Unmarshal(raw, out)
	}

	t.store.mu.RLock()
	doc, ok := t.store.docs[collection][id]
	t.store.mu.RUnlock()

	if _, seen := t.docReads[k]; !seen {
		if ok {
			t.docReads[k] = doc.version
		} else {
			t.docReads[k] = 0
		}
	}
	if !ok {
		return docstore.ErrNotFound
	}
	return json.Unmarshal(doc.raw, out)
}

func (t *memTx) Query(_ context.Context, q docstore.Query, out any) error {
	t.store.mu.RLock()
	raws := t.store.collectLocked(q)
	if _, seen := t.colReads[q.Collection]; !seen {
		t.colReads[q.Collection] = t.store.colVersions[q.Collection]
	}
	t.store.mu.RUnlock()

	// Overlay buffered writes so the body reads its own mutations.
	raws = t.overlay(q, raws)
	return docstore.DecodeList(raws, out)
}

func (t *memTx) overlay(q docstore.Query, raws []json.RawMessage) []json.RawMessage {
	if len(t.writes) == 0 && len(t.deletes) == 0 {
		return raws
	}
	kept := raws[:0]
	for _, raw := range raws {
		id := rawID(raw)
		k := docKey{q.Collection, id}
		if t.deletes[k] {
			continue
		}
		if _, rewritten := t.writes[k]; rewritten {
			continue
		}
		kept = append(kept, raw)
	}
	for k, raw := range t.writes {
		if k.collection == q.Collection && docstore.Matches(raw, q.Filters) {
			kept = append(kept, raw)
		}
	}
	return kept
}

func rawID(raw json.RawMessage) string {
	var doc struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &doc)
	return doc.ID
}

func (t *memTx) Set(_ context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	k := docKey{collection, id}
	delete(t.deletes, k)
	t.writes[k] = raw
	return nil
}

func (t *memTx) Delete(_ context.Context, collection, id string) error {
	k := docKey{collection, id}
	delete(t.writes, k)
	t.deletes[k] = true
	return nil
}

// commit verifies nothing read by the body changed, then applies the
// buffered writes. Returns false when the transaction must be re-run.
func (t *memTx) commit() bool {
	s := t.store
	s.mu.Lock()

	for k, version := range t.docReads {
		current := int64(0)
		if doc, ok := s.docs[k.collection][k.id]; ok {
			current = doc.version
		}
		if current != version {
			s.mu.Unlock()
			return false
		}
	}
	for collection, version := range t.colReads {
		if s.colVersions[collection] != version {
			s.mu.Unlock()
			return false
		}
	}

	changed := make(map[string]bool)
	for k := range t.deletes {
		s.deleteLocked(k.collection, k.id)
		changed[k.collection] = true
	}
	for k, raw := range t.writes {
		s.setLocked(k.collection, k.id, raw)
		changed[k.collection] = true
	}

	var pending []pushItem
	for collection := range changed {
		pending = append(pending, s.snapshotsLocked(collection)...)
	}
	s.mu.Unlock()
	push(pending)
	return true
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
// SUBSCRIPTIONS - Push snapshots on every committed change
// =============================================================================

type pushItem struct {
	fn       func(docstore.Snapshot)
	snapshot docstore.Snapshot
}

func (s *Store) Subscribe(q docstore.Query, fn func(docstore.Snapshot)) (docstore.CancelFunc, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscriber{query: q, fn: fn}
	initial := pushItem{fn: fn, snapshot: docstore.Snapshot{Query: q, Docs: s.collectLocked(q)}}
	s.mu.Unlock()

	// Initial snapshot, so subscribers start from current state.
	push([]pushItem{initial})

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return cancel, nil
}

// snapshotsLocked builds the pending notifications for a changed collection.
// Callers invoke push() after releasing the lock.
func (s *Store) snapshotsLocked(collection string) []pushItem {
	var pending []pushItem
	for _, sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		pending = append(pending, pushItem{
			fn:       sub.fn,
			snapshot: docstore.Snapshot{Query: sub.query, Docs: s.collectLocked(sub.query)},
		})
	}
	return pending
}

func push(items []pushItem) {
	for _, item := range items {
		item.fn(item.snapshot)
	}
}
