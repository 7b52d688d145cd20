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

// Detached nodes keep their context but are no longer in the identity map. Their state can
// only flow back through merge, which never changes the detached node itself.
func detachedHandlers() [opCount]handler {
	return [opCount]handler{
		OpPersist:      reject(ErrIllegalState),
		OpRemove:       reject(ErrIllegalState),
		OpRefresh:      reject(ErrIllegalState),
		OpMerge:        detachedMerge,
		OpFind:         noop,
		OpClose:        noop,
		OpClear:        noop,
		OpFlush:        noop,
		OpLock:         noop,
		OpDetach:       noop,
		OpCommit:       noop,
		OpRollback:     noop,
		OpGetReference: noop,
		OpContains:     absent,
	}
}

// detachedMerge copies the detached node's fields into the managed node for its identity.
// A managed node already in the identity map receives the fields; otherwise the stored
// record is loaded and overlaid, or a new record is written when none exists.
func detachedMerge(ctx context.Context, c *NodeStateContext, p *pass) (result, error) {
	source := c.node
	id := source.Identity()

	if tracked, ok := c.pc.nodes[id]; ok {
		if tracked.State() == StateRemoved {
			return result{}, tracked.reject(p.op, errMergeRemoved)
		}

		tracked.node.Fields = source.Fields.Clone()
		tracked.MarkDirty()
		p.recordMerge(source, tracked.node)
		c.cascade(p)

		return result{node: tracked.node}, nil
	}

	stored, err := c.pc.client.Read(ctx, id)
	if err != nil && !IsNotFound(err) {
		return result{}, &StoreError{Op: p.op, Identity: id, Err: err}
	}

	managed := NewNode(source.Collection, source.ID, nil)
	mc := newNodeStateContext(c.pc, managed)

	if err == nil {
		if err := transientLoad(ctx, mc, stored); err != nil {
			return result{}, err
		}

		merged := stored.Clone()
		for k, v := range source.Fields.Clone() {
			merged[k] = v
		}

		managed.Fields = merged
	} else {
		managed.Fields = source.Fields.Clone()

		if _, err := transientPersist(ctx, mc, &pass{op: p.op}); err != nil {
			managed.state = nil

			return result{}, err
		}
	}

	p.recordMerge(source, managed)
	c.cascade(p)

	return result{node: managed}, nil
}
