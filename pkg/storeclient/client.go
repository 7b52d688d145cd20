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

// Package storeclient adapts a persistence.Store to the storage client the lifecycle
// package writes through.
//
// Every document carries a version field. The client remembers the version it last saw per
// identity and refuses to overwrite a record another client changed in between. Pessimistic
// locks are leases in a LockTable shared by all clients of a store. A write or delete of an
// identity leased by another owner fails with ErrLockConflict: a read lease of another owner
// blocks it as much as a write lease does.
package storeclient

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/constants"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/ctxutil/ctxmutex"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/lifecycle"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/logger"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/metrics"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/persistence"
)

var (
	_ lifecycle.StorageClient = (*DocumentClient)(nil)
	_ lifecycle.Transactional = (*DocumentClient)(nil)
	_ lifecycle.LockReleaser  = (*DocumentClient)(nil)
)

// DocumentClient stores lifecycle nodes as documents, one collection per node collection.
// It is safe for concurrent use, but one PersistenceContext per client is the intended use.
type DocumentClient struct {
	store  persistence.Store
	locks  *LockTable
	owner  string
	logger *zap.SugaredLogger

	mu *ctxmutex.Mutex
	tx persistence.Tx

	// versions holds the document version this client last read or wrote per identity.
	versions map[lifecycle.Identity]int64
	// txVersions is versions as of Begin, restored on Rollback.
	txVersions map[lifecycle.Identity]int64

	held map[lifecycle.Identity]struct{}
}

// Option configures a DocumentClient.
type Option func(*DocumentClient)

// WithLockTable shares lock leases with other clients of the same store.
func WithLockTable(t *LockTable) Option {
	return func(c *DocumentClient) {
		if t != nil {
			c.locks = t
		}
	}
}

// WithOwner names the client in lock conflicts. The default is a random uuid.
func WithOwner(owner string) Option {
	return func(c *DocumentClient) {
		if owner != "" {
			c.owner = owner
		}
	}
}

// WithLogger replaces the storage client component logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *DocumentClient) {
		if log != nil {
			c.logger = log
		}
	}
}

// New returns a client writing to store. Without WithLockTable its leases are private to it.
func New(store persistence.Store, opts ...Option) *DocumentClient {
	c := &DocumentClient{
		store:    store,
		owner:    uuid.NewString(),
		mu:       ctxmutex.New(),
		versions: make(map[lifecycle.Identity]int64),
		held:     make(map[lifecycle.Identity]struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.locks == nil {
		c.locks = NewLockTable(constants.DefaultLockLeaseTTL, constants.LockLeaseCullInterval)
	}

	if c.logger == nil {
		c.logger = logger.For(logger.ComponentStorageClient)
	}

	return c
}

// Owner returns the name the client holds lock leases under.
func (c *DocumentClient) Owner() string { return c.owner }

// InTransaction reports whether Begin was called without a matching Commit or Rollback.
func (c *DocumentClient) InTransaction() bool {
	return c.tx != nil
}

// target returns the open transaction or the store. Callers hold mu.
func (c *DocumentClient) target() persistence.Store {
	if c.tx != nil {
		return c.tx
	}

	return c.store
}

// Write inserts or updates the document for id and bumps its version.
func (c *DocumentClient) Write(ctx context.Context, id lifecycle.Identity, fields lifecycle.Fields) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	defer metrics.ObserveStoreOperation("write", time.Now())

	if err := c.locks.checkWrite(c.owner, id); err != nil {
		c.logger.Debugf("Write of %s refused for %s: %v", id, c.owner, err)

		return err
	}

	s := c.target()

	existing, err := s.Get(ctx, id.Collection, id.ID)
	if errors.Is(err, persistence.ErrNotFound) {
		if _, err := s.Insert(ctx, id.Collection, toDocument(id, fields, 1)); err != nil {
			return fmt.Errorf("failed to insert %s: %w", id, err)
		}

		c.versions[id] = 1

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read %s before writing: %w", id, err)
	}

	version, err := c.checkVersion(id, existing)
	if err != nil {
		return err
	}

	if err := s.Update(ctx, id.Collection, id.ID, toDocument(id, fields, version+1)); err != nil {
		return fmt.Errorf("failed to update %s: %w", id, err)
	}

	c.versions[id] = version + 1

	return nil
}

// Delete removes the document for id.
func (c *DocumentClient) Delete(ctx context.Context, id lifecycle.Identity) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	defer metrics.ObserveStoreOperation("delete", time.Now())

	if err := c.locks.checkWrite(c.owner, id); err != nil {
		c.logger.Debugf("Delete of %s refused for %s: %v", id, c.owner, err)

		return err
	}

	if err := c.target().Delete(ctx, id.Collection, id.ID); err != nil {
		return mapNotFound(id, err)
	}

	delete(c.versions, id)

	return nil
}

// Read returns the fields of the document for id and remembers its version.
func (c *DocumentClient) Read(ctx context.Context, id lifecycle.Identity) (lifecycle.Fields, error) {
	if err := c.mu.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()
	defer metrics.ObserveStoreOperation("read", time.Now())

	doc, err := c.target().Get(ctx, id.Collection, id.ID)
	if err != nil {
		return nil, mapNotFound(id, err)
	}

	c.versions[id] = versionOf(doc)

	return toFields(doc), nil
}

// Lock applies mode to id. Optimistic modes check the record's version against the one this
// client last saw; pessimistic modes take a lease that ReleaseLocks frees.
func (c *DocumentClient) Lock(ctx context.Context, id lifecycle.Identity, mode lifecycle.LockMode) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	defer metrics.ObserveStoreOperation("lock", time.Now())

	switch mode {
	case lifecycle.LockNone:
		return nil

	case lifecycle.LockOptimistic, lifecycle.LockOptimisticForceIncrement:
		s := c.target()

		doc, err := s.Get(ctx, id.Collection, id.ID)
		if err != nil {
			return mapNotFound(id, err)
		}

		version, err := c.checkVersion(id, doc)
		if err != nil {
			return err
		}

		if mode == lifecycle.LockOptimistic {
			c.versions[id] = version

			return nil
		}

		doc[constants.VersionField] = version + 1
		if err := s.Update(ctx, id.Collection, id.ID, doc); err != nil {
			return fmt.Errorf("failed to increment version of %s: %w", id, err)
		}

		c.versions[id] = version + 1

		return nil

	case lifecycle.LockPessimisticRead, lifecycle.LockPessimisticWrite:
		if err := c.locks.acquire(c.owner, id, mode); err != nil {
			c.logger.Debugf("Lock %s on %s refused for %s: %v", mode, id, c.owner, err)

			return err
		}

		c.held[id] = struct{}{}

		return nil

	default:
		return fmt.Errorf("unsupported lock mode %s", mode)
	}
}

// ReleaseLocks frees every pessimistic lease this client holds.
func (c *DocumentClient) ReleaseLocks(ctx context.Context) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()

	for id := range c.held {
		c.locks.release(c.owner, id)
	}

	clear(c.held)

	return nil
}

// Begin opens a store transaction that later calls run in.
func (c *DocumentClient) Begin(ctx context.Context) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.tx != nil {
		return fmt.Errorf("%w: transaction already open", persistence.ErrNestedTx)
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	c.tx = tx
	c.txVersions = maps.Clone(c.versions)

	return nil
}

// Commit commits the open transaction. A failed commit rolls the transaction back.
func (c *DocumentClient) Commit(ctx context.Context) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	defer metrics.ObserveStoreOperation("commit", time.Now())

	if c.tx == nil {
		return ErrNoTransaction
	}

	tx := c.tx
	c.tx = nil

	if err := tx.Commit(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Warnf("Failed to roll back after failed commit: %v", rbErr)
		}

		c.versions = c.txVersions
		c.txVersions = nil

		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.txVersions = nil

	return nil
}

// Rollback discards the open transaction. Without one it does nothing.
func (c *DocumentClient) Rollback(ctx context.Context) error {
	if err := c.mu.Lock(ctx); err != nil {
		return err
	}
	defer c.mu.Unlock()
	defer metrics.ObserveStoreOperation("rollback", time.Now())

	if c.tx == nil {
		return nil
	}

	tx := c.tx
	c.tx = nil
	c.versions = c.txVersions
	c.txVersions = nil

	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}

	return nil
}

// checkVersion returns the stored version of doc, failing if this client saw another one.
func (c *DocumentClient) checkVersion(id lifecycle.Identity, doc persistence.Document) (int64, error) {
	version := versionOf(doc)

	if seen, ok := c.versions[id]; ok && seen != version {
		return 0, fmt.Errorf("%w: %s is at version %d, expected %d", ErrVersionConflict, id, version, seen)
	}

	return version, nil
}

func mapNotFound(id lifecycle.Identity, err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%s: %w", id, lifecycle.ErrNotFound)
	}

	return err
}

func toDocument(id lifecycle.Identity, fields lifecycle.Fields, version int64) persistence.Document {
	doc := make(persistence.Document, len(fields)+2)
	for k, v := range fields {
		doc[k] = v
	}

	doc[constants.IDField] = id.ID
	doc[constants.VersionField] = version

	return doc
}

func toFields(doc persistence.Document) lifecycle.Fields {
	fields := make(lifecycle.Fields, len(doc))
	for k, v := range doc {
		if k == constants.IDField || k == constants.VersionField {
			continue
		}

		fields[k] = v
	}

	return fields
}

// versionOf reads the version field, which comes back as float64 from JSON backends.
func versionOf(doc persistence.Document) int64 {
	switch v := doc[constants.VersionField].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
