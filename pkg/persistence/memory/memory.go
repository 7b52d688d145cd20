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

// Package memory provides an in-memory persistence.Store.
//
// Documents are deep-copied on every read and write, so callers can mutate what they pass in
// or get back without touching stored state. Collections are created on first write.
//
// Transactions buffer their writes and apply them under a single write lock
// on Commit. Reads inside a transaction see its own writes. Conflicts (insert over an id that
// appeared after the transaction buffered it, update of an id that disappeared) are detected
// at Commit, which then applies nothing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
)

func validateContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	return ctx.Err()
}

func copyDocument(doc persistence.Document) (persistence.Document, error) {
	var out persistence.Document
	if err := deepcopy.Copy(&out, doc); err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}

	if out == nil {
		out = persistence.Document{}
	}

	return out, nil
}

// InMemoryStore is a thread-safe in-memory document store.
type InMemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]persistence.Document
	closed      bool
}

// NewInMemoryStore creates a new empty in-memory document store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		collections: make(map[string]map[string]persistence.Document),
	}
}

func (s *InMemoryStore) check(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if s.closed {
		return persistence.ErrStoreClosed
	}

	return nil
}

func (s *InMemoryStore) CreateCollection(ctx context.Context, name string, _ *persistence.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if _, exists := s.collections[name]; exists {
		return fmt.Errorf("collection %q already exists", name)
	}

	s.collections[name] = make(map[string]persistence.Document)

	return nil
}

func (s *InMemoryStore) DropCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if _, exists := s.collections[name]; !exists {
		return fmt.Errorf("collection %q: %w", name, persistence.ErrNotFound)
	}

	delete(s.collections, name)

	return nil
}

// Insert stores a copy of doc. A missing id is replaced by a generated uuid.
func (s *InMemoryStore) Insert(ctx context.Context, collection string, doc persistence.Document) (string, error) {
	docCopy, err := copyDocument(doc)
	if err != nil {
		return "", err
	}

	id := docCopy.ID()
	if id == "" {
		id = uuid.NewString()
		docCopy["id"] = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return "", err
	}

	coll := s.collection(collection)
	if _, exists := coll[id]; exists {
		return "", persistence.ErrConflict
	}

	coll[id] = docCopy

	return id, nil
}

func (s *InMemoryStore) Get(ctx context.Context, collection string, id string) (persistence.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	doc, exists := s.collections[collection][id]
	if !exists {
		return nil, persistence.ErrNotFound
	}

	return copyDocument(doc)
}

// Update replaces an existing document. The stored id is kept even if doc carries another one.
func (s *InMemoryStore) Update(ctx context.Context, collection string, id string, doc persistence.Document) error {
	docCopy, err := copyDocument(doc)
	if err != nil {
		return err
	}

	docCopy["id"] = id

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	coll := s.collections[collection]
	if _, exists := coll[id]; !exists {
		return persistence.ErrNotFound
	}

	coll[id] = docCopy

	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, collection string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	coll := s.collections[collection]
	if _, exists := coll[id]; !exists {
		return persistence.ErrNotFound
	}

	delete(coll, id)

	return nil
}

// Find returns copies of the documents matching query. An unknown collection yields no documents.
func (s *InMemoryStore) Find(ctx context.Context, collection string, query persistence.Query) ([]persistence.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	return copyMatching(s.collections[collection], query)
}

func (s *InMemoryStore) BeginTx(ctx context.Context) (persistence.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	return &inMemoryTx{
		store:   s,
		inserts: make(map[string]map[string]persistence.Document),
		updates: make(map[string]map[string]persistence.Document),
		deletes: make(map[string]map[string]bool),
	}, nil
}

// Close drops all data. Later calls return persistence.ErrStoreClosed.
func (s *InMemoryStore) Close(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections = make(map[string]map[string]persistence.Document)
	s.closed = true

	return nil
}

// collection returns the named collection, creating it. Callers hold the write lock.
func (s *InMemoryStore) collection(name string) map[string]persistence.Document {
	coll, exists := s.collections[name]
	if !exists {
		coll = make(map[string]persistence.Document)
		s.collections[name] = coll
	}

	return coll
}

func copyMatching(coll map[string]persistence.Document, query persistence.Query) ([]persistence.Document, error) {
	candidates := make([]persistence.Document, 0, len(coll))
	for _, doc := range coll {
		candidates = append(candidates, doc)
	}

	matched := query.Apply(candidates)

	results := make([]persistence.Document, 0, len(matched))
	for _, doc := range matched {
		docCopy, err := copyDocument(doc)
		if err != nil {
			return nil, err
		}

		results = append(results, docCopy)
	}

	return results, nil
}
