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

// Package ctxmutex provides a mutex whose Lock gives up when the context is done.
package ctxmutex

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Mutex is a semaphore of weight 1. The zero value is not usable; use New.
type Mutex struct {
	sem *semaphore.Weighted
}

func New() *Mutex {
	return &Mutex{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the mutex is held or ctx is done. The returned error wraps the
// context's cause.
func (m *Mutex) Lock(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("mutex not acquired: %w", context.Cause(ctx))
	}

	return nil
}

func (m *Mutex) Unlock() {
	m.sem.Release(1)
}

// Do runs fn while holding the mutex.
func (m *Mutex) Do(ctx context.Context, fn func() error) error {
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()

	return fn()
}
