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

// pass is one cascade traversal started by an operation on a root node. Related nodes are
// queued on an explicit stack and each identity is handled at most once, so cyclic graphs
// terminate and stack depth stays constant. Nodes without an ID are told apart by instance.
// The root is recorded by instance only, since persist may assign its ID.
type pass struct {
	op       Operation
	root     *Node
	lockMode LockMode

	stack   []*Node
	visited map[any]struct{}

	// merged maps each merge source to the managed node that received its state.
	merged      map[*Node]*Node
	mergeOrder  []*Node
	cascadeHits int
}

func newPass(op Operation, root *Node) *pass {
	return &pass{
		op:      op,
		root:    root,
		visited: map[any]struct{}{root: {}},
	}
}

// seen reports whether n, or another instance with the same identity, was visited.
func (p *pass) seen(n *Node) bool {
	if _, ok := p.visited[n]; ok {
		return true
	}

	if n.ID == "" {
		return false
	}

	_, ok := p.visited[n.Identity()]

	return ok
}

func (p *pass) visit(n *Node) {
	p.visited[n] = struct{}{}

	if n.ID != "" {
		p.visited[n.Identity()] = struct{}{}
	}
}

// push queues nodes so that the first one is handled first.
func (p *pass) push(nodes ...*Node) {
	for i := len(nodes) - 1; i >= 0; i-- {
		if p.seen(nodes[i]) {
			continue
		}

		p.stack = append(p.stack, nodes[i])
	}
}

// next pops the next unvisited node, or returns nil when the pass is done.
func (p *pass) next() *Node {
	for len(p.stack) > 0 {
		n := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]

		if p.seen(n) {
			continue
		}

		p.visit(n)
		p.cascadeHits++

		return n
	}

	return nil
}

func (p *pass) recordMerge(source, managed *Node) {
	if p.merged == nil {
		p.merged = make(map[*Node]*Node)
	}

	if _, ok := p.merged[source]; !ok {
		p.mergeOrder = append(p.mergeOrder, source)
	}

	p.merged[source] = managed
}

// rewire points the relations of every node the pass merged into at the managed copies of
// their targets, so a merged graph references no detached nodes it merged. A managed node
// merged into itself keeps its relations with the targets replaced.
func (p *pass) rewire() {
	for _, source := range p.mergeOrder {
		managed := p.merged[source]

		relations := make([]Relation, 0, len(source.Relations))
		for _, r := range source.Relations {
			if target, ok := p.merged[r.Target]; ok {
				r.Target = target
			}

			r.Cascade = append([]CascadeType(nil), r.Cascade...)
			relations = append(relations, r)
		}

		managed.Relations = relations
	}
}
