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
	"strings"
)

// Operation is a lifecycle operation dispatched to the current state of a node.
type Operation int

const (
	OpPersist Operation = iota
	OpRemove
	OpRefresh
	OpMerge
	OpFind
	OpClose
	OpClear
	OpFlush
	OpLock
	OpDetach
	OpCommit
	OpRollback
	OpGetReference
	OpContains

	opCount = iota
)

var operationNames = [opCount]string{
	OpPersist:      "persist",
	OpRemove:       "remove",
	OpRefresh:      "refresh",
	OpMerge:        "merge",
	OpFind:         "find",
	OpClose:        "close",
	OpClear:        "clear",
	OpFlush:        "flush",
	OpLock:         "lock",
	OpDetach:       "detach",
	OpCommit:       "commit",
	OpRollback:     "rollback",
	OpGetReference: "getReference",
	OpContains:     "contains",
}

func (o Operation) String() string {
	if o < 0 || int(o) >= opCount {
		return fmt.Sprintf("operation(%d)", int(o))
	}

	return operationNames[o]
}

// ParseOperation accepts the names returned by Operation.String, case-insensitively.
func ParseOperation(name string) (Operation, error) {
	for o, n := range operationNames {
		if strings.EqualFold(n, name) {
			return Operation(o), nil
		}
	}

	return 0, fmt.Errorf("unknown operation %q", name)
}

// Operations lists every operation in declaration order.
func Operations() []Operation {
	out := make([]Operation, opCount)
	for i := range out {
		out[i] = Operation(i)
	}

	return out
}

// Mode selects what the end of a unit of work does to Managed nodes.
type Mode int

const (
	// ModeExtended keeps nodes Managed across commit and rollback.
	ModeExtended Mode = iota
	// ModeTransactional detaches every node when the unit of work ends.
	ModeTransactional
)

func (m Mode) String() string {
	switch m {
	case ModeExtended:
		return "extended"
	case ModeTransactional:
		return "transactional"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name case-insensitively. An empty name is ModeExtended.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(name) {
	case "", "extended":
		return ModeExtended, nil
	case "transactional":
		return ModeTransactional, nil
	default:
		return 0, fmt.Errorf("unknown unit-of-work mode %q", name)
	}
}

// LockMode is forwarded verbatim to the storage client by lock.
type LockMode int

const (
	LockNone LockMode = iota
	LockOptimistic
	LockOptimisticForceIncrement
	LockPessimisticRead
	LockPessimisticWrite
)

var lockModeNames = map[LockMode]string{
	LockNone:                     "none",
	LockOptimistic:               "optimistic",
	LockOptimisticForceIncrement: "optimistic_force_increment",
	LockPessimisticRead:          "pessimistic_read",
	LockPessimisticWrite:         "pessimistic_write",
}

func (m LockMode) String() string {
	if name, ok := lockModeNames[m]; ok {
		return name
	}

	return fmt.Sprintf("lockmode(%d)", int(m))
}

// ParseLockMode parses a lock mode by its String form, ignoring case.
func ParseLockMode(name string) (LockMode, error) {
	for m, n := range lockModeNames {
		if strings.EqualFold(n, name) {
			return m, nil
		}
	}

	if name == "" {
		return LockNone, nil
	}

	return 0, fmt.Errorf("unknown lock mode %q", name)
}
