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
	"fmt"
	"slices"

	"github.com/tiendc/go-deepcopy"
)

// Identity addresses one record in the backing store.
type Identity struct {
	Collection string
	ID         string
}

func (i Identity) String() string {
	return i.Collection + "/" + i.ID
}

// IsZero reports whether the identity has no ID yet.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// Fields maps field names to values.
type Fields map[string]interface{}

// Clone returns a deep copy. A nil Fields clones to an empty one.
func (f Fields) Clone() Fields {
	var out Fields
	if err := deepcopy.Copy(&out, f); err != nil || out == nil {
		out = make(Fields, len(f))
		for k, v := range f {
			out[k] = v
		}
	}

	return out
}

// CascadeType names which operations follow a relation.
type CascadeType int

const (
	CascadeNone CascadeType = iota
	CascadePersist
	CascadeRemove
	CascadeRefresh
	CascadeMerge
	CascadeAll
)

var cascadeNames = [...]string{
	CascadeNone:    "none",
	CascadePersist: "persist",
	CascadeRemove:  "remove",
	CascadeRefresh: "refresh",
	CascadeMerge:   "merge",
	CascadeAll:     "all",
}

func (c CascadeType) String() string {
	if c < 0 || int(c) >= len(cascadeNames) {
		return fmt.Sprintf("cascade(%d)", int(c))
	}

	return cascadeNames[c]
}

// ParseCascadeType parses a cascade type by its String form.
func ParseCascadeType(name string) (CascadeType, error) {
	for c, n := range cascadeNames {
		if n == name {
			return CascadeType(c), nil
		}
	}

	return 0, fmt.Errorf("unknown cascade type %q", name)
}

// Relation is a named reference from one node to another.
type Relation struct {
	Name    string
	Target  *Node
	Cascade []CascadeType
}

// Cascades reports whether op propagates along this relation.
func (r Relation) Cascades(op Operation) bool {
	want, ok := cascadeFor(op)
	if !ok {
		return false
	}

	return slices.ContainsFunc(r.Cascade, func(c CascadeType) bool {
		return c == CascadeAll || c == want
	})
}

func cascadeFor(op Operation) (CascadeType, bool) {
	switch op {
	case OpPersist:
		return CascadePersist, true
	case OpRemove:
		return CascadeRemove, true
	case OpRefresh:
		return CascadeRefresh, true
	case OpMerge:
		return CascadeMerge, true
	default:
		return CascadeNone, false
	}
}

// Node is the in-memory form of one record. Applications read and write Fields directly;
// Collection and ID must not change while the node is tracked.
type Node struct {
	Collection string
	ID         string
	Fields     Fields
	Relations  []Relation

	dirty bool
	state *NodeStateContext
}

// NewNode returns a Transient node. id may be empty; persist assigns one.
func NewNode(collection, id string, fields Fields) *Node {
	if fields == nil {
		fields = Fields{}
	}

	return &Node{
		Collection: collection,
		ID:         id,
		Fields:     fields,
	}
}

// Identity returns the node's collection and ID.
func (n *Node) Identity() Identity {
	return Identity{Collection: n.Collection, ID: n.ID}
}

// Relate adds or replaces the relation called name and returns n.
func (n *Node) Relate(name string, target *Node, cascade ...CascadeType) *Node {
	rel := Relation{Name: name, Target: target, Cascade: cascade}

	for i := range n.Relations {
		if n.Relations[i].Name == name {
			n.Relations[i] = rel

			return n
		}
	}

	n.Relations = append(n.Relations, rel)

	return n
}

// Related returns the target of the relation called name, or nil.
func (n *Node) Related(name string) *Node {
	for _, r := range n.Relations {
		if r.Name == name {
			return r.Target
		}
	}

	return nil
}

func (n *Node) String() string {
	if n.ID == "" {
		return n.Collection + "/<new>"
	}

	return n.Identity().String()
}
