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
)

// result carries what an operation hands back to the caller: a node for merge, find and
// getReference, presence for contains.
type result struct {
	node    *Node
	present bool
}

type handler func(ctx context.Context, c *NodeStateContext, p *pass) (result, error)

// handlers is the whole state machine: one handler per (state, operation) cell.
var handlers = buildHandlers()

func buildHandlers() [stateCount][opCount]handler {
	var table [stateCount][opCount]handler

	table[StateTransient] = transientHandlers()
	table[StateManaged] = managedHandlers()
	table[StateRemoved] = removedHandlers()
	table[StateDetached] = detachedHandlers()

	for s := range table {
		for o := range table[s] {
			if table[s][o] == nil {
				panic(fmt.Sprintf("lifecycle: no handler for %s in %s state", Operation(o), State(s)))
			}
		}
	}

	return table
}

// handle runs the cell for the context's current state.
func (c *NodeStateContext) handle(ctx context.Context, op Operation, p *pass) (result, error) {
	return handlers[c.State()][op](ctx, c, p)
}

func noop(context.Context, *NodeStateContext, *pass) (result, error) {
	return result{}, nil
}

func absent(context.Context, *NodeStateContext, *pass) (result, error) {
	return result{present: false}, nil
}

func present(context.Context, *NodeStateContext, *pass) (result, error) {
	return result{present: true}, nil
}

// reject builds a handler that refuses the operation with err.
func reject(err error) handler {
	return func(_ context.Context, c *NodeStateContext, p *pass) (result, error) {
		return result{}, c.reject(p.op, err)
	}
}

func notTracked(_ context.Context, c *NodeStateContext, _ *pass) (result, error) {
	return result{}, fmt.Errorf("%s: %w", c.Identity(), ErrNotFound)
}
