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
	"errors"
	"fmt"
)

var (
	// ErrIllegalState is returned when an operation is forbidden in the node's current state.
	ErrIllegalState = errors.New("illegal state transition")

	// ErrIllegalOperation is returned for operations that are never allowed on the node,
	// such as merging a removed node.
	ErrIllegalOperation = errors.New("illegal operation")

	// ErrIdentityConflict is returned when two distinct nodes claim one identity.
	ErrIdentityConflict = errors.New("identity conflict")

	// ErrNotFound is returned when no record exists for an identity.
	ErrNotFound = errors.New("not found")

	// ErrUnitOfWorkActive is returned by Begin while a storage transaction is open.
	ErrUnitOfWorkActive = errors.New("unit of work already active")

	// ErrClosed is returned by every call on a closed PersistenceContext.
	ErrClosed = errors.New("persistence context closed")
)

// TransitionError reports an operation rejected by the node's current state.
// No state changed.
type TransitionError struct {
	Op       Operation
	State    State
	Identity Identity
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s on %s node %s: %v", e.Op, e.State, e.Identity, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// StoreError reports a failed storage client call. The node kept its previous state.
type StoreError struct {
	Op       Operation
	Identity Identity
	Err      error
}

func (e *StoreError) Error() string {
	if e.Identity.IsZero() {
		return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("store %s of %s failed: %v", e.Op, e.Identity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// CascadeError reports that op succeeded on Root but failed on the related node Failed.
// Effects already applied to Root and to nodes visited before Failed remain in place.
type CascadeError struct {
	Op     Operation
	Root   Identity
	Failed Identity
	Err    error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascading %s from %s to %s: %v", e.Op, e.Root, e.Failed, e.Err)
}

func (e *CascadeError) Unwrap() error {
	return e.Err
}

// IdentityConflictError names the identity two distinct nodes claimed.
type IdentityConflictError struct {
	Identity Identity
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("%s is already tracked by another node instance", e.Identity)
}

func (e *IdentityConflictError) Unwrap() error {
	return ErrIdentityConflict
}
