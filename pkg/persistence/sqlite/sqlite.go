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

// Package sqlite provides a persistence.Store backed by a single SQLite file.
//
// Each collection is a table (id TEXT PRIMARY KEY, data BLOB NOT NULL) holding the JSON
// encoded document, zstd compressed when large. Tables are created on first insert. Queries are evaluated in process
// with persistence.Query.Apply after loading the collection.
//
// The pool is limited to one connection. While a Tx is open, calls on the Store itself
// wait for it to finish, so code holding a Tx must route all work through it.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
)

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateCollectionName(name string) error {
	if name == "" {
		return errors.New("invalid collection name: cannot be empty")
	}

	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q: must contain only alphanumeric characters and underscores, and must start with a letter or underscore", name)
	}

	return nil
}

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite implementation of persistence.Store.
type Store struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// NewStore opens (or creates) the database at dbPath in WAL mode.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", buildConnectionString(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

func buildConnectionString(dbPath string) string {
	params := "?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_cache_size=-64000"

	if runtime.GOOS == "darwin" {
		params += "&_fullfsync=1"
	}

	return "file:" + dbPath + params
}

func (s *Store) check(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	return nil
}

func (s *Store) CreateCollection(ctx context.Context, name string, _ *persistence.Schema) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return createTable(ctx, s.db, name)
}

func (s *Store) DropCollection(ctx context.Context, name string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return dropTable(ctx, s.db, name)
}

func (s *Store) Insert(ctx context.Context, collection string, doc persistence.Document) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	return insert(ctx, s.db, collection, doc)
}

func (s *Store) Get(ctx context.Context, collection string, id string) (persistence.Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	return get(ctx, s.db, collection, id)
}

func (s *Store) Update(ctx context.Context, collection string, id string, doc persistence.Document) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return update(ctx, s.db, collection, id, doc)
}

func (s *Store) Delete(ctx context.Context, collection string, id string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return remove(ctx, s.db, collection, id)
}

func (s *Store) Find(ctx context.Context, collection string, query persistence.Query) ([]persistence.Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	return find(ctx, s.db, collection, query)
}

func (s *Store) BeginTx(ctx context.Context) (persistence.Tx, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{tx: tx, store: s}, nil
}

func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persistence.ErrStoreClosed
	}

	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func createTable(ctx context.Context, q querier, name string) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`, name)

	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func dropTable(ctx context.Context, q querier, name string) error {
	if err := validateCollectionName(name); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DROP TABLE IF EXISTS `+name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}

	return nil
}

// insert uses the document's id, generating one if missing.
func insert(ctx context.Context, q querier, collection string, doc persistence.Document) (string, error) {
	if err := createTable(ctx, q, collection); err != nil {
		return "", err
	}

	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}

	data, err := encode(id, doc)
	if err != nil {
		return "", err
	}

	_, err = q.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)`, collection), id, data)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return "", persistence.ErrConflict
		}

		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return id, nil
}

func get(ctx context.Context, q querier, collection string, id string) (persistence.Document, error) {
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}

	var data []byte

	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, collection), id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingTable(err) {
			return nil, persistence.ErrNotFound
		}

		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return decode(data)
}

func update(ctx context.Context, q querier, collection string, id string, doc persistence.Document) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}

	data, err := encode(id, doc)
	if err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET data = ? WHERE id = ?`, collection), data, id)
	if err != nil {
		if isMissingTable(err) {
			return persistence.ErrNotFound
		}

		return fmt.Errorf("failed to update document: %w", err)
	}

	return requireRow(result)
}

func remove(ctx context.Context, q querier, collection string, id string) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, collection), id)
	if err != nil {
		if isMissingTable(err) {
			return persistence.ErrNotFound
		}

		return fmt.Errorf("failed to delete document: %w", err)
	}

	return requireRow(result)
}

func find(ctx context.Context, q querier, collection string, query persistence.Query) ([]persistence.Document, error) {
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT data FROM `+collection)
	if err != nil {
		if isMissingTable(err) {
			return []persistence.Document{}, nil
		}

		return nil, fmt.Errorf("failed to find documents: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var documents []persistence.Document

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		doc, err := decode(data)
		if err != nil {
			return nil, err
		}

		documents = append(documents, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return query.Apply(documents), nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}

	return nil
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
