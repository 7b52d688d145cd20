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

// Reference is an identity-only handle to a record. It is resolved on Load.
type Reference struct {
	identity Identity
	pc       *PersistenceContext
	node     *Node
}

// Identity returns the identity the reference points at.
func (r *Reference) Identity() Identity {
	return r.identity
}

// Loaded reports whether the reference is bound to a managed node.
func (r *Reference) Loaded() bool {
	return r.node != nil && r.pc.StateOf(r.node) == StateManaged
}

// Load returns the managed node for the reference, reading the store if needed.
func (r *Reference) Load(ctx context.Context) (*Node, error) {
	if r.Loaded() {
		return r.node, nil
	}

	n, err := r.pc.Find(ctx, r.identity.Collection, r.identity.ID)
	if err != nil {
		return nil, err
	}

	r.node = n

	return n, nil
}
