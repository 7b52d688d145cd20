// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
)

var errRolledBack = errors.New("transaction was rolled back")
var errCommitted = errors.New("transaction was committed")

// inMemoryTx buffers writes until Commit. An id is in at most one of inserts, updates or deletes.
type inMemoryTx struct {
	store *InMemoryStore

	mu         sync.Mutex
	committed  bool
	rolledBack bool
	inserts    map[string]map[string]persistence.Document
	updates    map[string]map[string]persistence.Document
	deletes    map[string]map[string]bool
}

func (tx *inMemoryTx) open() error {
	switch {
	case tx.committed:
		return persistence.ErrTxClosed
	case tx.rolledBack:
		return persistence.ErrTxClosed
	default:
		return nil
	}
}

func bucket[T any](m map[string]map[string]T, collection string) map[string]T {
	b, ok := m[collection]
	if !ok {
		b = make(map[string]T)
		m[collection] = b
	}

	return b
}

// pending returns the buffered version of a document. deleted is true if the tx removed it.
func (tx *inMemoryTx) pending(collection, id string) (doc persistence.Document, deleted bool, ok bool) {
	if tx.deletes[collection][id] {
		return nil, true, true
	}

	if doc, found := tx.inserts[collection][id]; found {
		return doc, false, true
	}

	if doc, found := tx.updates[collection][id]; found {
		return doc, false, true
	}

	return nil, false, false
}

// exists reports whether id is visible to this transaction.
func (tx *inMemoryTx) exists(ctx context.Context, collection, id string) (bool, error) {
	if _, deleted, ok := tx.pending(collection, id); ok {
		return !deleted, nil
	}

	_, err := tx.store.Get(ctx, collection, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}

	return err == nil, err
}

func (tx *inMemoryTx) CreateCollection(ctx context.Context, name string, schema *persistence.Schema) error {
	return tx.store.CreateCollection(ctx, name, schema)
}

func (tx *inMemoryTx) DropCollection(ctx context.Context, name string) error {
	return tx.store.DropCollection(ctx, name)
}

func (tx *inMemoryTx) Insert(ctx context.Context, collection string, doc persistence.Document) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}

	docCopy, err := copyDocument(doc)
	if err != nil {
		return "", err
	}

	id := docCopy.ID()
	if id == "" {
		id = uuid.NewString()
		docCopy["id"] = id
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.open(); err != nil {
		return "", err
	}

	found, err := tx.exists(ctx, collection, id)
	if err != nil {
		return "", err
	}

	if found {
		return "", persistence.ErrConflict
	}

	if tx.deletes[collection][id] {
		// deleted earlier in this tx: the stored row still exists, so this is a replace
		delete(tx.deletes[collection], id)
		bucket(tx.updates, collection)[id] = docCopy

		return id, nil
	}

	bucket(tx.inserts, collection)[id] = docCopy

	return id, nil
}

func (tx *inMemoryTx) Get(ctx context.Context, collection string, id string) (persistence.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.open(); err != nil {
		return nil, err
	}

	if doc, deleted, ok := tx.pending(collection, id); ok {
		if deleted {
			return nil, persistence.ErrNotFound
		}

		return copyDocument(doc)
	}

	return tx.store.Get(ctx, collection, id)
}

func (tx *inMemoryTx) Update(ctx context.Context, collection string, id string, doc persistence.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	docCopy, err := copyDocument(doc)
	if err != nil {
		return err
	}

	docCopy["id"] = id

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.open(); err != nil {
		return err
	}

	found, err := tx.exists(ctx, collection, id)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrNotFound
	}

	if _, inserted := tx.inserts[collection][id]; inserted {
		tx.inserts[collection][id] = docCopy

		return nil
	}

	bucket(tx.updates, collection)[id] = docCopy

	return nil
}

func (tx *inMemoryTx) Delete(ctx context.Context, collection string, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.open(); err != nil {
		return err
	}

	found, err := tx.exists(ctx, collection, id)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrNotFound
	}

	if _, inserted := tx.inserts[collection][id]; inserted {
		delete(tx.inserts[collection], id)

		return nil
	}

	delete(tx.updates[collection], id)
	bucket(tx.deletes, collection)[id] = true

	return nil
}

// Find evaluates query over the committed documents overlaid with this transaction's writes.
func (tx *inMemoryTx) Find(ctx context.Context, collection string, query persistence.Query) ([]persistence.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.open(); err != nil {
		return nil, err
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	view := make(map[string]persistence.Document, len(tx.store.collections[collection]))
	for id, doc := range tx.store.collections[collection] {
		view[id] = doc
	}

	for id := range tx.deletes[collection] {
		delete(view, id)
	}

	for id, doc := range tx.updates[collection] {
		view[id] = doc
	}

	for id, doc := range tx.inserts[collection] {
		view[id] = doc
	}

	return copyMatching(view, query)
}

func (tx *inMemoryTx) BeginTx(context.Context) (persistence.Tx, error) {
	return nil, persistence.ErrNestedTx
}

func (tx *inMemoryTx) Close(context.Context) error {
	return errors.New("cannot close a transaction, use Commit or Rollback")
}

// Commit applies every buffered write atomically. If an insert collides or an update or
// delete target vanished since it was buffered, nothing is applied and the tx stays open.
func (tx *inMemoryTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.rolledBack {
		return errRolledBack
	}

	if tx.committed {
		return nil
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	for collection, docs := range tx.inserts {
		for id := range docs {
			if _, exists := s.collections[collection][id]; exists {
				return persistence.ErrConflict
			}
		}
	}

	for collection, docs := range tx.updates {
		for id := range docs {
			if _, exists := s.collections[collection][id]; !exists {
				return persistence.ErrNotFound
			}
		}
	}

	for collection, ids := range tx.deletes {
		for id := range ids {
			if _, exists := s.collections[collection][id]; !exists {
				return persistence.ErrNotFound
			}
		}
	}

	for collection, ids := range tx.deletes {
		for id := range ids {
			delete(s.collections[collection], id)
		}
	}

	for _, writes := range []map[string]map[string]persistence.Document{tx.updates, tx.inserts} {
		for collection, docs := range writes {
			coll := s.collection(collection)
			for id, doc := range docs {
				coll[id] = doc
			}
		}
	}

	tx.committed = true

	return nil
}

func (tx *inMemoryTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed {
		return errCommitted
	}

	tx.rolledBack = true
	tx.inserts = nil
	tx.updates = nil
	tx.deletes = nil

	return nil
}
