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

import "fmt"

// State is the synchronization state of a node with respect to one PersistenceContext.
type State int

const (
	// StateTransient nodes are not tracked and have never been written by this context.
	StateTransient State = iota
	// StateManaged nodes are tracked and synchronized with the store.
	StateManaged
	// StateRemoved nodes are tracked but their record was deleted. The removal becomes
	// permanent on commit.
	StateRemoved
	// StateDetached nodes were Managed once and are no longer synchronized.
	StateDetached

	stateCount = iota
)

var stateNames = [stateCount]string{
	StateTransient: "transient",
	StateManaged:   "managed",
	StateRemoved:   "removed",
	StateDetached:  "detached",
}

var statesByName = func() map[string]State {
	m := make(map[string]State, stateCount)
	for s, name := range stateNames {
		m[name] = State(s)
	}

	return m
}()

func (s State) String() string {
	if s < 0 || int(s) >= stateCount {
		return fmt.Sprintf("state(%d)", int(s))
	}

	return stateNames[s]
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	s, ok := statesByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown node state %q", name)
	}

	return s, nil
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, stateCount)
	for i := range out {
		out[i] = State(i)
	}

	return out
}

// fsm events, one per target state. Only the (from, to) pairs listed in newStateMachine
// are accepted.
const (
	eventManage  = "manage"
	eventRemove  = "remove"
	eventDetach  = "detach"
	eventRelease = "release"
)

var eventForTarget = [stateCount]string{
	StateTransient: eventRelease,
	StateManaged:   eventManage,
	StateRemoved:   eventRemove,
	StateDetached:  eventDetach,
}
