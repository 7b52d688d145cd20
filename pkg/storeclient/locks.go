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

package storeclient

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/lifecycle"
)

var (
	// ErrLockConflict is returned when another owner holds an incompatible pessimistic lock.
	ErrLockConflict = errors.New("lock held by another owner")

	// ErrVersionConflict is returned when a record changed since this client last read or wrote it.
	ErrVersionConflict = errors.New("version conflict")

	// ErrNoTransaction is returned by Commit without Begin.
	ErrNoTransaction = errors.New("no transaction open")
)

// LockError names the owner that blocked a pessimistic lock request. For a refused write or
// delete, Mode is the lease that blocked it.
type LockError struct {
	Identity lifecycle.Identity
	Mode     lifecycle.LockMode
	Holder   string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s lock on %s: held by %s", e.Mode, e.Identity, e.Holder)
}

func (e *LockError) Unwrap() error {
	return ErrLockConflict
}

// lease is the lock state of one identity. readers is replaced, never mutated, once stored.
type lease struct {
	writer  string
	readers map[string]struct{}
	expires time.Time
}

func (l lease) empty() bool {
	return l.writer == "" && len(l.readers) == 0
}

// LockTable holds the pessimistic lock leases of every client sharing one store.
// A lease that is not released within the TTL expires.
type LockTable struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases *expiremap.ExpireMap[string, lease]
	now    func() time.Time
}

// NewLockTable returns an empty table whose leases last ttl. Expired leases are culled
// every cullInterval.
func NewLockTable(ttl, cullInterval time.Duration) *LockTable {
	return &LockTable{
		ttl:    ttl,
		leases: expiremap.NewEx[string, lease](cullInterval, ttl),
		now:    time.Now,
	}
}

// current returns the live lease for key. Callers hold mu.
func (t *LockTable) current(key string) lease {
	l, ok := t.leases.Load(key)
	if !ok || l == nil || !t.now().Before(l.expires) {
		return lease{}
	}

	return *l
}

func (t *LockTable) acquire(owner string, id lifecycle.Identity, mode lifecycle.LockMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := id.String()
	cur := t.current(key)

	if cur.writer != "" && cur.writer != owner {
		return &LockError{Identity: id, Mode: mode, Holder: cur.writer}
	}

	readers := make(map[string]struct{}, len(cur.readers)+1)
	for r := range cur.readers {
		readers[r] = struct{}{}
	}

	switch mode {
	case lifecycle.LockPessimisticRead:
		readers[owner] = struct{}{}
	case lifecycle.LockPessimisticWrite:
		if holder := otherReader(readers, owner); holder != "" {
			return &LockError{Identity: id, Mode: mode, Holder: holder}
		}

		cur.writer = owner
	default:
		return fmt.Errorf("%s is not a pessimistic lock mode", mode)
	}

	cur.readers = readers
	cur.expires = t.now().Add(t.ttl)
	t.leases.Set(key, cur)

	return nil
}

// checkWrite fails if an owner other than owner holds any lease on id.
func (t *LockTable) checkWrite(owner string, id lifecycle.Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current(id.String())

	if cur.writer != "" && cur.writer != owner {
		return &LockError{Identity: id, Mode: lifecycle.LockPessimisticWrite, Holder: cur.writer}
	}

	if holder := otherReader(cur.readers, owner); holder != "" {
		return &LockError{Identity: id, Mode: lifecycle.LockPessimisticRead, Holder: holder}
	}

	return nil
}

// otherReader returns the first reader other than owner, in name order.
func otherReader(readers map[string]struct{}, owner string) string {
	names := make([]string, 0, len(readers))
	for r := range readers {
		if r != owner {
			names = append(names, r)
		}
	}

	if len(names) == 0 {
		return ""
	}

	sort.Strings(names)

	return names[0]
}

func (t *LockTable) release(owner string, id lifecycle.Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := id.String()
	cur := t.current(key)

	if cur.writer == owner {
		cur.writer = ""
	}

	readers := make(map[string]struct{}, len(cur.readers))
	for r := range cur.readers {
		if r != owner {
			readers[r] = struct{}{}
		}
	}

	cur.readers = readers
	if cur.empty() {
		cur.expires = t.now()
	}

	t.leases.Set(key, cur)
}

// Holders returns the owners currently holding a lock on id.
func (t *LockTable) Holders(id lifecycle.Identity) (writer string, readers []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current(id.String())
	for r := range cur.readers {
		readers = append(readers, r)
	}

	sort.Strings(readers)

	return cur.writer, readers
}
