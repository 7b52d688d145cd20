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
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/logger"
)

// Option configures a PersistenceContext.
type Option func(*PersistenceContext)

// WithMode sets the unit-of-work mode. The default is ModeExtended.
func WithMode(mode Mode) Option {
	return func(pc *PersistenceContext) {
		pc.mode = mode
	}
}

// WithLogger replaces the lifecycle component logger. A nil logger is ignored.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(pc *PersistenceContext) {
		if log != nil {
			pc.logger = log
		}
	}
}

// WithResolver replaces the PolicyResolver that decides where operations cascade.
func WithResolver(r CascadeResolver) Option {
	return func(pc *PersistenceContext) {
		if r != nil {
			pc.resolver = r
		}
	}
}

// WithName labels the context in logs and metrics.
func WithName(name string) Option {
	return func(pc *PersistenceContext) {
		pc.name = name
	}
}

// WithIDGenerator sets how persist assigns identities to nodes without one.
func WithIDGenerator(gen func() string) Option {
	return func(pc *PersistenceContext) {
		if gen != nil {
			pc.newID = gen
		}
	}
}

func defaults() []Option {
	return []Option{
		WithName("default"),
		WithIDGenerator(uuid.NewString),
		WithResolver(PolicyResolver{}),
		func(pc *PersistenceContext) {
			pc.logger = logger.For(logger.ComponentPersistenceContext)
		},
	}
}
