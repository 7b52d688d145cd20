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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
)

type sqliteTx struct {
	tx    *sql.Tx
	store *Store

	mu         sync.Mutex
	committed  bool
	rolledBack bool
}

func (t *sqliteTx) check(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context cannot be nil")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.committed || t.rolledBack {
		return persistence.ErrTxClosed
	}

	return nil
}

func (t *sqliteTx) CreateCollection(ctx context.Context, name string, _ *persistence.Schema) error {
	if err := t.check(ctx); err != nil {
		return err
	}

	return createTable(ctx, t.tx, name)
}

func (t *sqliteTx) DropCollection(ctx context.Context, name string) error {
	if err := t.check(ctx); err != nil {
		return err
	}

	return dropTable(ctx, t.tx, name)
}

func (t *sqliteTx) Insert(ctx context.Context, collection string, doc persistence.Document) (string, error) {
	if err := t.check(ctx); err != nil {
		return "", err
	}

	return insert(ctx, t.tx, collection, doc)
}

func (t *sqliteTx) Get(ctx context.Context, collection string, id string) (persistence.Document, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}

	return get(ctx, t.tx, collection, id)
}

func (t *sqliteTx) Update(ctx context.Context, collection string, id string, doc persistence.Document) error {
	if err := t.check(ctx); err != nil {
		return err
	}

	return update(ctx, t.tx, collection, id, doc)
}

func (t *sqliteTx) Delete(ctx context.Context, collection string, id string) error {
	if err := t.check(ctx); err != nil {
		return err
	}

	return remove(ctx, t.tx, collection, id)
}

func (t *sqliteTx) Find(ctx context.Context, collection string, query persistence.Query) ([]persistence.Document, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}

	return find(ctx, t.tx, collection, query)
}

func (t *sqliteTx) BeginTx(context.Context) (persistence.Tx, error) {
	return nil, persistence.ErrNestedTx
}

func (t *sqliteTx) Close(context.Context) error {
	return errors.New("cannot close a transaction, use Commit or Rollback")
}

func (t *sqliteTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rolledBack {
		return errors.New("transaction was rolled back")
	}

	if t.committed {
		return nil
	}

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.committed = true

	return nil
}

func (t *sqliteTx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.committed {
		return errors.New("transaction was committed")
	}

	if t.rolledBack {
		return nil
	}

	t.rolledBack = true

	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}
