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
	"errors"
)

// Managed nodes are tracked and synchronized. Every cell except contains may touch the store
// or change state.
func managedHandlers() [opCount]handler {
	return [opCount]handler{
		OpPersist:      managedPersist,
		OpRemove:       managedRemove,
		OpRefresh:      managedRefresh,
		OpMerge:        managedMerge,
		OpFind:         self,
		OpClose:        managedDetach,
		OpClear:        managedDetach,
		OpFlush:        managedFlush,
		OpLock:         managedLock,
		OpDetach:       managedDetach,
		OpCommit:       managedCommit,
		OpRollback:     managedRollback,
		OpGetReference: self,
		OpContains:     present,
	}
}

func self(_ context.Context, c *NodeStateContext, _ *pass) (result, error) {
	return result{node: c.node, present: true}, nil
}

// managedPersist re-asserts the node: no write, but the cascade reaches related nodes that
// became reachable since the node was persisted.
func managedPersist(_ context.Context, c *NodeStateContext, p *pass) (result, error) {
	c.cascade(p)

	return result{node: c.node}, nil
}

// managedRemove deletes the record. A record that is already gone counts as deleted.
func managedRemove(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	err := c.pc.client.Delete(ctx, c.Identity())
	if err != nil && !IsNotFound(err) {
		c.logger.Warnf("Failed to delete node %s: %v", c.Identity(), err)

		return result{}, &StoreError{Op: p.op, Identity: c.Identity(), Err: err}
	}

	c.synced = nil

	if err := c.setCurrentState(ctx, StateRemoved); err != nil {
		return result{}, err
	}

	c.cascade(p)

	return result{}, nil
}

// managedRefresh replaces the fields with the stored ones, discarding local changes.
func managedRefresh(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	fields, err := c.pc.client.Read(ctx, c.Identity())
	if err != nil {
		return result{}, &StoreError{Op: p.op, Identity: c.Identity(), Err: err}
	}

	c.node.Fields = fields.Clone()
	c.markSynced(fields)

	if !c.pc.inTransaction() {
		c.committed = fields.Clone()
	}

	c.cascade(p)

	return result{node: c.node}, nil
}

// managedMerge accepts the node's current fields as the state to store. The write happens
// on the next flush.
func managedMerge(_ context.Context, c *NodeStateContext, p *pass) (result, error) {
	c.MarkDirty()
	p.recordMerge(c.node, c.node)
	c.cascade(p)

	return result{node: c.node}, nil
}

func managedFlush(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	if !c.needsWrite() {
		return result{}, nil
	}

	return result{}, c.write(ctx, p.op)
}

func managedLock(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	if err := c.pc.client.Lock(ctx, c.Identity(), p.lockMode); err != nil {
		return result{}, &StoreError{Op: p.op, Identity: c.Identity(), Err: err}
	}

	c.lockMode = p.lockMode

	return result{}, nil
}

func managedDetach(ctx context.Context, c *NodeStateContext, _ *pass) (result, error) {
	return result{}, c.setCurrentState(ctx, StateDetached)
}

// managedCommit runs after the flush and the storage commit succeeded.
func managedCommit(ctx context.Context, c *NodeStateContext, _ *pass) (result, error) {
	c.markCommitted()

	if c.pc.mode == ModeTransactional {
		return result{}, c.setCurrentState(ctx, StateDetached)
	}

	return result{}, nil
}

// managedRollback reverts the fields to the last committed values. Nodes never committed
// keep their fields. When the storage transaction was rolled back, the store again holds
// the committed values, so a node that was new in this unit of work will be written again
// by the next flush.
func managedRollback(ctx context.Context, c *NodeStateContext, _ *pass) (result, error) {
	c.revert()

	if c.pc.mode == ModeTransactional {
		return result{}, c.setCurrentState(ctx, StateDetached)
	}

	return result{}, nil
}

func (c *NodeStateContext) revert() {
	if c.committed != nil {
		c.node.Fields = c.committed.Clone()
	}

	c.node.dirty = false

	if c.pc.storeRolledBack {
		if c.committed == nil {
			c.synced = nil
		} else {
			c.markSynced(c.committed)
		}
	}
}

var errMergeRemoved = errors.New("merge is not allowed on a removed node")
