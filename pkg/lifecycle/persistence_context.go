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

package lifecycle

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/constants"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/ctxutil"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/metrics"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/sentry"
)

// PersistenceContext is one unit of work. It owns the identity map of tracked nodes and
// dispatches every operation to the handler of the node's current state.
//
// A PersistenceContext is not safe for concurrent use. Each goroutine works on its own.
type PersistenceContext struct {
	name     string
	client   StorageClient
	tx       Transactional
	resolver CascadeResolver
	mode     Mode
	logger   *zap.SugaredLogger
	newID    func() string

	nodes map[Identity]*NodeStateContext

	txOpen bool
	// storeRolledBack is set while rollback handlers run after the storage transaction
	// was rolled back, meaning the store holds the committed values again.
	storeRolledBack bool
	closed          bool
}

// NewPersistenceContext returns an empty unit of work writing through client. If client
// implements Transactional, Begin opens a storage transaction that Commit and Rollback end.
func NewPersistenceContext(client StorageClient, opts ...Option) *PersistenceContext {
	pc := &PersistenceContext{
		client: client,
		nodes:  make(map[Identity]*NodeStateContext),
	}

	for _, opt := range append(defaults(), opts...) {
		opt(pc)
	}

	pc.tx, _ = client.(Transactional)

	return pc
}

// Name returns the name the context logs and reports metrics under.
func (pc *PersistenceContext) Name() string { return pc.name }

// Mode returns whether commit and rollback keep or detach managed nodes.
func (pc *PersistenceContext) Mode() Mode { return pc.mode }

// Len returns the number of tracked (Managed or Removed) nodes.
func (pc *PersistenceContext) Len() int { return len(pc.nodes) }

func (pc *PersistenceContext) inTransaction() bool { return pc.txOpen }

// Begin opens a storage transaction when the client supports one. Without a transactional
// client every write is applied immediately and Begin does nothing.
func (pc *PersistenceContext) Begin(ctx context.Context) error {
	if err := pc.ready(ctx); err != nil {
		return err
	}

	if pc.txOpen {
		return ErrUnitOfWorkActive
	}

	if pc.tx == nil {
		return nil
	}

	if err := pc.tx.Begin(ctx); err != nil {
		return &StoreError{Op: OpCommit, Err: fmt.Errorf("begin: %w", err)}
	}

	pc.txOpen = true
	pc.logger.Debugf("Persistence context %s began a storage transaction", pc.name)

	return nil
}

// Persist writes a new or removed node and manages it. On a managed node it only cascades.
func (pc *PersistenceContext) Persist(ctx context.Context, n *Node) error {
	_, err := pc.dispatch(ctx, OpPersist, n, nil)

	return err
}

// Remove deletes the node's record. Removing a removed node does nothing.
func (pc *PersistenceContext) Remove(ctx context.Context, n *Node) error {
	_, err := pc.dispatch(ctx, OpRemove, n, nil)

	return err
}

// Refresh reloads a managed node from the store, discarding local changes.
func (pc *PersistenceContext) Refresh(ctx context.Context, n *Node) error {
	_, err := pc.dispatch(ctx, OpRefresh, n, nil)

	return err
}

// Merge returns the managed node holding n's state. For a managed n that is n itself;
// for a detached n it is another node and n stays detached.
func (pc *PersistenceContext) Merge(ctx context.Context, n *Node) (*Node, error) {
	res, err := pc.dispatch(ctx, OpMerge, n, nil)

	return res.node, err
}

// Detach stops synchronizing a managed node and drops it from the identity map.
func (pc *PersistenceContext) Detach(ctx context.Context, n *Node) error {
	_, err := pc.dispatch(ctx, OpDetach, n, nil)

	return err
}

// Lock forwards a lock request for a managed node to the storage client.
func (pc *PersistenceContext) Lock(ctx context.Context, n *Node, mode LockMode) error {
	_, err := pc.dispatch(ctx, OpLock, n, func(p *pass) { p.lockMode = mode })

	return err
}

// FindNode resolves n to its managed instance. It returns n for a managed node, an
// ErrNotFound error for a removed one and nil for a detached one.
func (pc *PersistenceContext) FindNode(ctx context.Context, n *Node) (*Node, error) {
	res, err := pc.dispatch(ctx, OpFind, n, nil)

	return res.node, err
}

// Find returns the managed node for an identity, loading it from the store when it is not
// tracked yet. A removed node is reported as not found without asking the store.
func (pc *PersistenceContext) Find(ctx context.Context, collection, id string) (*Node, error) {
	if err := pc.ready(ctx); err != nil {
		return nil, err
	}

	ident := Identity{Collection: collection, ID: id}
	if c, ok := pc.nodes[ident]; ok {
		return pc.FindNode(ctx, c.node)
	}

	fields, err := pc.client.Read(ctx, ident)
	if err != nil {
		metrics.IncOperation(OpFind.String(), StateTransient.String(), metrics.OutcomeFailure)

		if IsNotFound(err) {
			return nil, fmt.Errorf("%s: %w", ident, ErrNotFound)
		}

		return nil, &StoreError{Op: OpFind, Identity: ident, Err: err}
	}

	n := NewNode(collection, id, fields.Clone())
	if err := transientLoad(ctx, newNodeStateContext(pc, n), fields); err != nil {
		n.state = nil

		return nil, err
	}

	metrics.IncOperation(OpFind.String(), StateTransient.String(), metrics.OutcomeSuccess)

	return n, nil
}

// GetReference returns a reference to an identity without reading the store. The reference
// is bound to the managed node when one is tracked.
func (pc *PersistenceContext) GetReference(ctx context.Context, collection, id string) (*Reference, error) {
	if err := pc.ready(ctx); err != nil {
		return nil, err
	}

	ident := Identity{Collection: collection, ID: id}
	if c, ok := pc.nodes[ident]; ok {
		return pc.ReferenceOf(ctx, c.node)
	}

	return &Reference{identity: ident, pc: pc}, nil
}

// ReferenceOf returns a reference bound to n. Detached nodes yield nil.
func (pc *PersistenceContext) ReferenceOf(ctx context.Context, n *Node) (*Reference, error) {
	res, err := pc.dispatch(ctx, OpGetReference, n, nil)
	if err != nil || res.node == nil {
		return nil, err
	}

	return &Reference{identity: res.node.Identity(), pc: pc, node: res.node}, nil
}

// Contains reports whether n is managed by this context. Removed nodes are not contained.
func (pc *PersistenceContext) Contains(n *Node) bool {
	if pc.closed || n == nil || n.state == nil || n.state.pc != pc {
		return false
	}

	res, _ := n.state.handle(context.Background(), OpContains, newPass(OpContains, n))

	return res.present
}

// StateOf returns n's state in this context. Nodes this context never handled are Transient.
func (pc *PersistenceContext) StateOf(n *Node) State {
	if n == nil || n.state == nil || n.state.pc != pc {
		return StateTransient
	}

	return n.state.State()
}

// Lookup returns the context tracking identity, if any.
func (pc *PersistenceContext) Lookup(id Identity) (*NodeStateContext, bool) {
	c, ok := pc.nodes[id]

	return c, ok
}

// LookupOrCreate returns the context governing n, creating a Transient one for a node this
// context has not seen. A fresh node whose identity is already tracked by a different node
// instance is an identity conflict. A node detached from another context is detached here
// as well: the returned context is not bound to n, so n keeps its own context.
func (pc *PersistenceContext) LookupOrCreate(n *Node) (*NodeStateContext, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil node", ErrIllegalOperation)
	}

	if n.state != nil {
		if n.state.pc == pc {
			return n.state, nil
		}

		if n.state.State() == StateDetached {
			return newStateContext(pc, n, StateDetached), nil
		}

		return nil, fmt.Errorf("%w: %s belongs to persistence context %s", ErrIllegalOperation, n, n.state.pc.name)
	}

	if n.ID != "" {
		if _, tracked := pc.nodes[n.Identity()]; tracked {
			pc.logger.Errorf("Node instance for %s conflicts with the tracked one", n.Identity())

			return nil, &IdentityConflictError{Identity: n.Identity()}
		}
	}

	return newNodeStateContext(pc, n), nil
}

// Untrack drops identity from the identity map. A managed node is detached on the way.
func (pc *PersistenceContext) Untrack(ctx context.Context, id Identity) error {
	c, ok := pc.nodes[id]
	if !ok {
		return nil
	}

	if c.State() == StateManaged {
		return pc.Detach(ctx, c.node)
	}

	delete(pc.nodes, id)
	metrics.SetTrackedNodes(pc.name, len(pc.nodes))

	return nil
}

// Flush writes every managed node whose fields changed since they were last written.
func (pc *PersistenceContext) Flush(ctx context.Context) error {
	if err := pc.ready(ctx); err != nil {
		return err
	}

	return pc.forEach(ctx, OpFlush)
}

// Commit flushes, commits the storage transaction and then finalizes every node: removed
// nodes become Transient, managed nodes stay managed in extended mode and are detached in
// transactional mode. If the flush or the storage commit fails no node changes state. A
// failed storage commit ends the transaction, and the next flush repeats every write and
// delete it discarded, so Begin and Commit can be retried.
func (pc *PersistenceContext) Commit(ctx context.Context) error {
	if err := pc.ready(ctx); err != nil {
		return err
	}

	if err := pc.forEach(ctx, OpFlush); err != nil {
		return fmt.Errorf("flush before commit: %w", err)
	}

	if pc.txOpen {
		if err := pc.tx.Commit(ctx); err != nil {
			sentry.ReportIssueWithContext(err, sentry.IssueTypeWarning, pc.logger, map[string]string{
				"operation": OpCommit.String(),
				"context":   pc.name,
			})

			pc.txOpen = false
			pc.forgetWrites()

			return &StoreError{Op: OpCommit, Err: err}
		}

		pc.txOpen = false
	}

	err := pc.forEach(ctx, OpCommit)
	pc.releaseLocks(ctx)
	pc.logger.Debugf("Persistence context %s committed, %d nodes tracked", pc.name, len(pc.nodes))

	return err
}

// Rollback rolls back the storage transaction and reverts every node to its committed
// fields. In extended mode removed nodes are managed again; in transactional mode every
// node is detached.
func (pc *PersistenceContext) Rollback(ctx context.Context) error {
	if err := pc.ready(ctx); err != nil {
		return err
	}

	if err := pc.rollbackStore(ctx); err != nil {
		return err
	}

	defer func() { pc.storeRolledBack = false }()

	err := pc.forEach(ctx, OpRollback)
	pc.releaseLocks(ctx)
	pc.logger.Debugf("Persistence context %s rolled back, %d nodes tracked", pc.name, len(pc.nodes))

	return err
}

// Clear detaches every managed node and empties the identity map. An open storage
// transaction stays open.
func (pc *PersistenceContext) Clear(ctx context.Context) error {
	if err := pc.ready(ctx); err != nil {
		return err
	}

	err := pc.forEach(ctx, OpClear)
	pc.dropAll()
	pc.releaseLocks(ctx)

	return err
}

// Close rolls back an open storage transaction, detaches every managed node and makes the
// context unusable. Closing twice is allowed.
func (pc *PersistenceContext) Close(ctx context.Context) error {
	if pc.closed {
		return nil
	}

	if ctx == nil {
		return fmt.Errorf("%w: nil context", ErrIllegalOperation)
	}

	var result *multierror.Error

	if err := pc.rollbackStore(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	if err := pc.forEach(ctx, OpClose); err != nil {
		result = multierror.Append(result, err)
	}

	pc.storeRolledBack = false
	pc.dropAll()
	pc.releaseLocks(ctx)
	pc.closed = true

	return result.ErrorOrNil()
}

func (pc *PersistenceContext) ready(ctx context.Context) error {
	if pc.closed {
		return ErrClosed
	}

	return ctxutil.CheckBeforeCall(ctx, constants.StoreOperationMinTime)
}

func (pc *PersistenceContext) rollbackStore(ctx context.Context) error {
	if !pc.txOpen {
		return nil
	}

	if err := pc.tx.Rollback(ctx); err != nil {
		sentry.ReportIssueWithContext(err, sentry.IssueTypeWarning, pc.logger, map[string]string{
			"operation": OpRollback.String(),
			"context":   pc.name,
		})

		return &StoreError{Op: OpRollback, Err: err}
	}

	pc.txOpen = false
	pc.storeRolledBack = true

	return nil
}

// dispatch runs op on n and then every node the op cascades to.
func (pc *PersistenceContext) dispatch(ctx context.Context, op Operation, n *Node, configure func(*pass)) (result, error) {
	if err := pc.ready(ctx); err != nil {
		return result{}, err
	}

	c, err := pc.LookupOrCreate(n)
	if err != nil {
		metrics.IncOperation(op.String(), StateTransient.String(), metrics.OutcomeFailure)

		return result{}, err
	}

	from := c.State()

	p := newPass(op, n)
	if configure != nil {
		configure(p)
	}

	res, err := c.handle(ctx, op, p)
	pc.unbind(c)

	if err == nil {
		err = pc.drain(ctx, p)
	}

	if err == nil && op == OpMerge {
		p.rewire()
	}

	metrics.AddCascadeVisits(op.String(), p.cascadeHits)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}

	metrics.IncOperation(op.String(), from.String(), outcome)

	return res, err
}

// drain handles the nodes queued by the pass until none are left. The first failure ends
// the pass.
func (pc *PersistenceContext) drain(ctx context.Context, p *pass) error {
	for n := p.next(); n != nil; n = p.next() {
		c, err := pc.LookupOrCreate(n)
		if err == nil {
			_, err = c.handle(ctx, p.op, p)
			pc.unbind(c)
		}

		if err != nil {
			pc.logger.Warnf("Cascading %s from %s to %s failed: %v", p.op, p.root, n, err)

			return &CascadeError{Op: p.op, Root: p.root.Identity(), Failed: n.Identity(), Err: err}
		}
	}

	return nil
}

// forEach runs op on a snapshot of the tracked nodes and collects every failure.
func (pc *PersistenceContext) forEach(ctx context.Context, op Operation) error {
	var result *multierror.Error

	for _, c := range pc.snapshot() {
		if c.node.state != c {
			continue
		}

		from := c.State()
		p := newPass(op, c.node)

		_, err := c.handle(ctx, op, p)
		if err == nil {
			err = pc.drain(ctx, p)
		}

		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
			result = multierror.Append(result, err)
		}

		metrics.IncOperation(op.String(), from.String(), outcome)
	}

	return result.ErrorOrNil()
}

// snapshot returns the tracked contexts ordered by identity.
func (pc *PersistenceContext) snapshot() []*NodeStateContext {
	out := make([]*NodeStateContext, 0, len(pc.nodes))
	for _, c := range pc.nodes {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].identity.String() < out[j].identity.String()
	})

	return out
}

// claim fails if identity is tracked by a context other than c.
func (pc *PersistenceContext) claim(c *NodeStateContext) error {
	if tracked, ok := pc.nodes[c.identity]; ok && tracked != c {
		pc.logger.Errorf("Node instance for %s conflicts with the tracked one", c.identity)

		return &IdentityConflictError{Identity: c.identity}
	}

	return nil
}

// afterTransition keeps the identity map in line with a state change of c.
func (pc *PersistenceContext) afterTransition(c *NodeStateContext, _ State, to State) {
	switch to {
	case StateManaged, StateRemoved:
		pc.nodes[c.identity] = c
	case StateDetached:
		if pc.nodes[c.identity] == c {
			delete(pc.nodes, c.identity)
		}

		c.lockMode = LockNone
	case StateTransient:
		if pc.nodes[c.identity] == c {
			delete(pc.nodes, c.identity)
		}

		c.node.state = nil
	}

	metrics.SetTrackedNodes(pc.name, len(pc.nodes))
}

// unbind releases a node that is still Transient after an operation, so that any context
// can take it on later.
func (pc *PersistenceContext) unbind(c *NodeStateContext) {
	if c.node.state == c && c.State() == StateTransient {
		c.node.state = nil
	}
}

// forgetWrites runs after the store discarded a transaction. Managed nodes count as never
// written and removed nodes are deleted again by the next flush.
func (pc *PersistenceContext) forgetWrites() {
	for _, c := range pc.nodes {
		switch c.State() {
		case StateManaged:
			c.synced = nil
		case StateRemoved:
			c.deleteLost = true
		}
	}
}

func (pc *PersistenceContext) dropAll() {
	clear(pc.nodes)
	metrics.SetTrackedNodes(pc.name, 0)
}

func (pc *PersistenceContext) releaseLocks(ctx context.Context) {
	for _, c := range pc.nodes {
		c.lockMode = LockNone
	}

	releaser, ok := pc.client.(LockReleaser)
	if !ok {
		return
	}

	if err := releaser.ReleaseLocks(context.WithoutCancel(ctx)); err != nil {
		pc.logger.Warnf("Failed to release locks of persistence context %s: %v", pc.name, err)
	}
}
