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

// StorageClient performs reads and writes against the backing store on behalf of the
// state handlers. Every call is synchronous. Read returns an error matching ErrNotFound
// when the record does not exist.
type StorageClient interface {
	Write(ctx context.Context, id Identity, fields Fields) error
	Delete(ctx context.Context, id Identity) error
	Read(ctx context.Context, id Identity) (Fields, error)
	Lock(ctx context.Context, id Identity, mode LockMode) error
}

// Transactional is implemented by storage clients that can group writes atomically.
// Between Begin and Commit or Rollback all client calls belong to one transaction. A
// Commit that fails ends the transaction as Rollback would, so a new Begin is allowed.
type Transactional interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// LockReleaser is implemented by storage clients that hold lock state between calls.
type LockReleaser interface {
	ReleaseLocks(ctx context.Context) error
}

// CascadeResolver yields, in order, the nodes related to n that op propagates to.
type CascadeResolver interface {
	Resolve(n *Node, op Operation) []*Node
}

// PolicyResolver follows every relation whose declared cascade types include op or CascadeAll.
type PolicyResolver struct{}

func (PolicyResolver) Resolve(n *Node, op Operation) []*Node {
	var out []*Node

	for _, r := range n.Relations {
		if r.Target != nil && r.Cascades(op) {
			out = append(out, r.Target)
		}
	}

	return out
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
