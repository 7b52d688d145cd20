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

import "context"

// Removed nodes stay in the identity map until commit makes the removal permanent or
// rollback undoes it. They are not visible to find, getReference or contains.
func removedHandlers() [opCount]handler {
	return [opCount]handler{
		OpPersist:      removedPersist,
		OpRemove:       noop,
		OpRefresh:      noop,
		OpMerge:        reject(ErrIllegalOperation),
		OpFind:         notTracked,
		OpClose:        noop,
		OpClear:        noop,
		OpFlush:        removedFlush,
		OpLock:         noop,
		OpDetach:       noop,
		OpCommit:       removedCommit,
		OpRollback:     removedRollback,
		OpGetReference: notTracked,
		OpContains:     absent,
	}
}

// removedPersist writes the node back and manages it again.
func removedPersist(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	if err := c.pc.claim(c); err != nil {
		return result{}, err
	}

	if err := c.write(ctx, p.op); err != nil {
		return result{}, err
	}

	if err := c.setCurrentState(ctx, StateManaged); err != nil {
		return result{}, err
	}

	c.cascade(p)

	return result{node: c.node}, nil
}

// removedFlush repeats a delete the store discarded with a failed commit.
func removedFlush(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	if !c.deleteLost {
		return result{}, nil
	}

	if err := c.pc.client.Delete(ctx, c.Identity()); err != nil && !IsNotFound(err) {
		return result{}, &StoreError{Op: p.op, Identity: c.Identity(), Err: err}
	}

	c.deleteLost = false

	return result{}, nil
}

func removedCommit(ctx context.Context, c *NodeStateContext, _ *pass) (result, error) {
	return result{}, c.setCurrentState(ctx, StateTransient)
}

// removedRollback undoes the removal in extended mode. A storage client without
// transactions already applied the delete, so the committed fields are written back first;
// if that fails the node stays Removed.
func removedRollback(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	if c.pc.mode == ModeTransactional {
		c.revert()

		return result{}, c.setCurrentState(ctx, StateDetached)
	}

	if !c.pc.storeRolledBack {
		previous := c.node.Fields
		if c.committed != nil {
			c.node.Fields = c.committed.Clone()
		}

		if err := c.write(ctx, p.op); err != nil {
			c.node.Fields = previous

			return result{}, err
		}

		c.node.dirty = false
	} else {
		c.revert()
	}

	return result{}, c.setCurrentState(ctx, StateManaged)
}
