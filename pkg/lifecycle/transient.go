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

// Transient nodes are untracked. Only persist does anything.
func transientHandlers() [opCount]handler {
	return [opCount]handler{
		OpPersist:      transientPersist,
		OpRemove:       reject(ErrIllegalState),
		OpRefresh:      noop,
		OpMerge:        reject(ErrIllegalState),
		OpFind:         reject(ErrIllegalState),
		OpClose:        noop,
		OpClear:        noop,
		OpFlush:        noop,
		OpLock:         noop,
		OpDetach:       noop,
		OpCommit:       noop,
		OpRollback:     noop,
		OpGetReference: reject(ErrIllegalState),
		OpContains:     absent,
	}
}

// transientPersist assigns an identity if needed, writes the node and starts tracking it.
// On failure the node is left as it was, including an empty ID.
func transientPersist(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	n := c.node

	assigned := false
	if n.ID == "" {
		n.ID = c.pc.newID()
		assigned = true
	}

	c.identity = n.Identity()

	restore := func() {
		if assigned {
			n.ID = ""
			c.identity = n.Identity()
		}
	}

	if err := c.pc.claim(c); err != nil {
		restore()

		return result{}, err
	}

	if err := c.write(ctx, p.op); err != nil {
		restore()

		return result{}, err
	}

	if err := c.setCurrentState(ctx, StateManaged); err != nil {
		return result{}, err
	}

	c.cascade(p)

	return result{node: n}, nil
}

// transientLoad adopts a node whose fields were just read from the store.
func transientLoad(ctx context.Context, c *NodeStateContext, stored Fields) error {
	c.identity = c.node.Identity()

	if err := c.pc.claim(c); err != nil {
		return err
	}

	c.markSynced(stored)
	c.committed = stored.Clone()

	return c.setCurrentState(ctx, StateManaged)
}
