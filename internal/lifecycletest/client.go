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

// Package lifecycletest provides in-memory storage clients that record every call, for
// tests of the lifecycle package and its users.
package lifecycletest

import (
	"context"
	"fmt"
	"sync"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/lifecycle"
)

const (
	OpWrite    = "write"
	OpDelete   = "delete"
	OpRead     = "read"
	OpLock     = "lock"
	OpBegin    = "begin"
	OpCommit   = "commit"
	OpRollback = "rollback"
)

// Call is one recorded storage call.
type Call struct {
	Op       string
	Identity lifecycle.Identity
	Mode     lifecycle.LockMode
}

type failureKey struct {
	op string
	id lifecycle.Identity
}

// Client is a non-transactional lifecycle.StorageClient over a map.
type Client struct {
	mu       sync.Mutex
	records  map[lifecycle.Identity]lifecycle.Fields
	calls    []Call
	failures map[failureKey]error
	once     map[string]error
}

var _ lifecycle.StorageClient = (*Client)(nil)

func New() *Client {
	return &Client{
		records:  make(map[lifecycle.Identity]lifecycle.Fields),
		failures: make(map[failureKey]error),
		once:     make(map[string]error),
	}
}

// Fail makes every op call for id return err until ClearFailures.
func (c *Client) Fail(op string, id lifecycle.Identity, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures[failureKey{op: op, id: id}] = err
}

// FailNext makes the next op call, for any identity, return err.
func (c *Client) FailNext(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.once[op] = err
}

func (c *Client) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.failures)
	clear(c.once)
}

// Put changes a record behind the persistence context's back.
func (c *Client) Put(id lifecycle.Identity, fields lifecycle.Fields) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[id] = fields.Clone()
}

// Record returns a copy of the stored fields for id.
func (c *Client) Record(id lifecycle.Identity) (lifecycle.Fields, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.records[id]
	if !ok {
		return nil, false
	}

	return f.Clone(), true
}

// Count returns how many op calls were made.
func (c *Client) Count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, call := range c.calls {
		if call.Op == op {
			n++
		}
	}

	return n
}

// CountFor returns how many op calls were made for id.
func (c *Client) CountFor(op string, id lifecycle.Identity) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, call := range c.calls {
		if call.Op == op && call.Identity == id {
			n++
		}
	}

	return n
}

// Calls returns a copy of the call log.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Call(nil), c.calls...)
}

// ResetCalls forgets the call log, keeping the records.
func (c *Client) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = nil
}

// record logs the call and returns the injected failure, if any. Callers hold mu.
func (c *Client) record(call Call) error {
	c.calls = append(c.calls, call)

	if err, ok := c.once[call.Op]; ok {
		delete(c.once, call.Op)

		return err
	}

	return c.failures[failureKey{op: call.Op, id: call.Identity}]
}

func (c *Client) Write(_ context.Context, id lifecycle.Identity, fields lifecycle.Fields) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record(Call{Op: OpWrite, Identity: id}); err != nil {
		return err
	}

	c.records[id] = fields.Clone()

	return nil
}

func (c *Client) Delete(_ context.Context, id lifecycle.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record(Call{Op: OpDelete, Identity: id}); err != nil {
		return err
	}

	if _, ok := c.records[id]; !ok {
		return fmt.Errorf("%s: %w", id, lifecycle.ErrNotFound)
	}

	delete(c.records, id)

	return nil
}

func (c *Client) Read(_ context.Context, id lifecycle.Identity) (lifecycle.Fields, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record(Call{Op: OpRead, Identity: id}); err != nil {
		return nil, err
	}

	f, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, lifecycle.ErrNotFound)
	}

	return f.Clone(), nil
}

func (c *Client) Lock(_ context.Context, id lifecycle.Identity, mode lifecycle.LockMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.record(Call{Op: OpLock, Identity: id, Mode: mode})
}

// TxClient is a Client that also implements lifecycle.Transactional. Begin snapshots the
// records; Rollback and a failed Commit restore the snapshot.
type TxClient struct {
	*Client

	backup map[lifecycle.Identity]lifecycle.Fields
}

var _ lifecycle.Transactional = (*TxClient)(nil)

func NewTx() *TxClient {
	return &TxClient{Client: New()}
}

// InTransaction reports whether Begin was called without a matching Commit or Rollback.
func (t *TxClient) InTransaction() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.backup != nil
}

func (t *TxClient) Begin(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(Call{Op: OpBegin}); err != nil {
		return err
	}

	if t.backup != nil {
		return fmt.Errorf("transaction already open")
	}

	t.backup = make(map[lifecycle.Identity]lifecycle.Fields, len(t.records))
	for id, f := range t.records {
		t.backup[id] = f.Clone()
	}

	return nil
}

func (t *TxClient) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(Call{Op: OpCommit}); err != nil {
		t.restore()

		return err
	}

	t.backup = nil

	return nil
}

func (t *TxClient) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.record(Call{Op: OpRollback}); err != nil {
		return err
	}

	t.restore()

	return nil
}

// restore puts back the records saved by Begin. Callers hold mu.
func (t *TxClient) restore() {
	if t.backup != nil {
		t.records = t.backup
		t.backup = nil
	}
}
