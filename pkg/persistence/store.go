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

// Package persistence defines the document store that backs lifecycle storage clients.
//
// DESIGN DECISION: Documents are schemaless maps keyed by a string "id" field.
// WHY: The lifecycle layer tracks arbitrary field sets per collection, so the store only
// has to round-trip maps faithfully. Typed records live above this layer.
//
// DESIGN DECISION: Transactions are optional per call site, not per store.
// WHY: Every Store can open a Tx, but callers that do not need atomicity use the Store directly.
// TRADE-OFF: A Tx is never nested. BeginTx on a Tx returns an error.
package persistence

import (
	"context"
	"errors"
)

// Document is one stored record. The "id" field identifies it within its collection.
type Document map[string]interface{}

// ID returns the document's id field, or "" if it has none or it is not a string.
func (d Document) ID() string {
	id, _ := d["id"].(string)

	return id
}

// Schema is reserved for backends that want a collection layout. Current backends ignore it.
type Schema struct {
	Indexes []string
}

// Store is a collection-oriented document store.
//
// All methods take a context and return early with ctx.Err() when it is already done.
// Get, Update and Delete return ErrNotFound for unknown ids. Insert returns ErrConflict
// when the id is taken.
type Store interface {
	CreateCollection(ctx context.Context, name string, schema *Schema) error
	DropCollection(ctx context.Context, name string) error

	// Insert stores doc and returns its id. A doc without id gets a generated one.
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	Get(ctx context.Context, collection string, id string) (Document, error)
	// Update replaces the stored document.
	Update(ctx context.Context, collection string, id string, doc Document) error
	Delete(ctx context.Context, collection string, id string) error
	Find(ctx context.Context, collection string, query Query) ([]Document, error)

	BeginTx(ctx context.Context) (Tx, error)

	// Close releases the backend. The store cannot be used afterwards.
	Close(ctx context.Context) error
}

// Tx is a Store whose writes become visible to others only on Commit.
// Reads through the Tx see its own uncommitted writes.
// Commit after Rollback (and the reverse) is an error; repeating the same call is not.
type Tx interface {
	Store

	Commit() error
	Rollback() error
}

var (
	// ErrNotFound is returned when a document or collection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert hits an existing id.
	ErrConflict = errors.New("conflict")

	// ErrTxClosed is returned when a committed or rolled back transaction is used.
	ErrTxClosed = errors.New("transaction already closed")

	// ErrNestedTx is returned by BeginTx on a transaction.
	ErrNestedTx = errors.New("nested transactions are not supported")

	// ErrStoreClosed is returned by a closed store.
	ErrStoreClosed = errors.New("store closed")
)
