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

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/metrics"
)

// NodeStateContext holds the current state of one node inside one PersistenceContext,
// together with the bookkeeping the state handlers need: the last field values written
// to the store and the last committed ones.
type NodeStateContext struct {
	node *Node
	pc   *PersistenceContext

	// fsm guards which (from, to) moves are legal. It is only advanced by setCurrentState.
	fsm *fsm.FSM

	// identity is captured when the node first becomes Managed and keys the identity map.
	identity Identity

	// synced is what the store holds for this node, nil if nothing was written yet.
	synced     Fields
	syncedHash uint64

	// committed is the field set as of the last commit or load, nil if never committed.
	committed Fields

	// deleteLost is set on a removed node whose delete was discarded with a failed
	// storage commit.
	deleteLost bool

	lockMode LockMode

	logger *zap.SugaredLogger
}

func newNodeStateContext(pc *PersistenceContext, n *Node) *NodeStateContext {
	c := newStateContext(pc, n, StateTransient)
	n.state = c

	return c
}

// newStateContext returns a context for n in state initial without binding it to n.
func newStateContext(pc *PersistenceContext, n *Node, initial State) *NodeStateContext {
	c := &NodeStateContext{
		node:     n,
		pc:       pc,
		identity: n.Identity(),
		logger:   pc.logger,
	}

	c.fsm = fsm.NewFSM(
		initial.String(),
		fsm.Events{
			{Name: eventManage, Src: []string{StateTransient.String(), StateRemoved.String()}, Dst: StateManaged.String()},
			{Name: eventRemove, Src: []string{StateManaged.String()}, Dst: StateRemoved.String()},
			{Name: eventDetach, Src: []string{StateManaged.String(), StateRemoved.String()}, Dst: StateDetached.String()},
			{Name: eventRelease, Src: []string{StateRemoved.String()}, Dst: StateTransient.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debugf("Node %s entering %s state from %s", c.identity, e.Dst, e.Src)
				metrics.IncTransition(e.Src, e.Dst)
			},
		},
	)

	return c
}

// State returns the active state.
func (c *NodeStateContext) State() State {
	s, err := ParseState(c.fsm.Current())
	if err != nil {
		// the fsm only knows the states declared above
		panic(err)
	}

	return s
}

// Node returns the node this context governs.
func (c *NodeStateContext) Node() *Node {
	return c.node
}

// Identity returns the identity the node is tracked under.
func (c *NodeStateContext) Identity() Identity {
	if c.identity.IsZero() {
		return c.node.Identity()
	}

	return c.identity
}

// LockMode returns the last lock mode requested for the node in this unit of work.
func (c *NodeStateContext) LockMode() LockMode {
	return c.lockMode
}

// MarkDirty forces the next flush to write the node even if its fields look unchanged.
func (c *NodeStateContext) MarkDirty() {
	c.node.dirty = true
}

// setCurrentState moves the node to the given state. Only state handlers call it.
// The identity map follows the transition: Managed and Removed nodes are tracked,
// Detached and Transient ones are not.
func (c *NodeStateContext) setCurrentState(ctx context.Context, to State) error {
	from := c.State()
	if from == to {
		return nil
	}

	if err := c.fsm.Event(context.WithoutCancel(ctx), eventForTarget[to]); err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", ErrIllegalState, from, to, err)
	}

	if to == StateManaged && c.identity.IsZero() {
		c.identity = c.node.Identity()
	}

	c.pc.afterTransition(c, from, to)

	return nil
}

// cascade queues the nodes related to this one that the pass operation propagates to.
func (c *NodeStateContext) cascade(p *pass) {
	p.push(c.pc.resolver.Resolve(c.node, p.op)...)
}

// needsWrite reports whether the node's fields differ from what the store holds.
func (c *NodeStateContext) needsWrite() bool {
	if c.node.dirty || c.synced == nil {
		return true
	}

	h, err := fingerprint(c.node.Fields)
	if err != nil {
		return true
	}

	return h != c.syncedHash
}

// markSynced records that the store now holds fields.
func (c *NodeStateContext) markSynced(fields Fields) {
	c.synced = fields.Clone()
	c.syncedHash, _ = fingerprint(c.synced)
	c.node.dirty = false
}

func (c *NodeStateContext) markCommitted() {
	c.committed = c.node.Fields.Clone()
}

// write stores the node's current fields.
func (c *NodeStateContext) write(ctx context.Context, op Operation) error {
	if err := c.pc.client.Write(ctx, c.Identity(), c.node.Fields); err != nil {
		c.logger.Warnf("Failed to write node %s during %s: %v", c.Identity(), op, err)

		return &StoreError{Op: op, Identity: c.Identity(), Err: err}
	}

	c.markSynced(c.node.Fields)
	c.deleteLost = false

	return nil
}

func (c *NodeStateContext) reject(op Operation, err error) error {
	return &TransitionError{Op: op, State: c.State(), Identity: c.Identity(), Err: err}
}
