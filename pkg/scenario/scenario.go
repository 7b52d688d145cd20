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

// Package scenario replays scripted unit-of-work sessions against a PersistenceContext.
//
// A script is a list of steps. Each step names an operation, the node it applies to and
// what should hold afterwards:
//
//	name: crud
//	mode: extended
//	steps:
//	  - op: persist
//	    collection: person
//	    id: "1"
//	    fields: {name: vivek, age: 10}
//	    expectState: managed
//	  - op: clear
//	  - op: find
//	    collection: person
//	    id: "1"
//	    expectFields: {name: vivek}
//
// Nodes are addressed by alias, which defaults to "collection/id".
package scenario

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/lifecycle"
)

// Script is one scenario file.
type Script struct {
	Name  string `yaml:"name"`
	Mode  string `yaml:"mode,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Step is one operation plus the expectations checked after it.
type Step struct {
	Op string `yaml:"op"`

	// Node is the alias of the node the step works on. Collection and ID address it when
	// the alias is unknown.
	Node       string                 `yaml:"node,omitempty"`
	Collection string                 `yaml:"collection,omitempty"`
	ID         string                 `yaml:"id,omitempty"`
	Fields     map[string]interface{} `yaml:"fields,omitempty"`
	Relations  []RelationSpec         `yaml:"relations,omitempty"`
	LockMode   string                 `yaml:"lockMode,omitempty"`

	// As stores the node returned by find, merge or getReference under another alias.
	As string `yaml:"as,omitempty"`

	ExpectState    string                 `yaml:"expectState,omitempty"`
	ExpectError    string                 `yaml:"expectError,omitempty"`
	ExpectFields   map[string]interface{} `yaml:"expectFields,omitempty"`
	ExpectContains *bool                  `yaml:"expectContains,omitempty"`
}

type RelationSpec struct {
	Name    string   `yaml:"name"`
	Target  string   `yaml:"target"`
	Cascade []string `yaml:"cascade,omitempty"`
}

// OpBegin opens a storage transaction. Every other op name is a lifecycle.Operation.
const OpBegin = "begin"

// errorNames maps the expectError values to the errors they match.
var errorNames = map[string]error{
	"illegal_state":       lifecycle.ErrIllegalState,
	"illegal_operation":   lifecycle.ErrIllegalOperation,
	"identity_conflict":   lifecycle.ErrIdentityConflict,
	"not_found":           lifecycle.ErrNotFound,
	"unit_of_work_active": lifecycle.ErrUnitOfWorkActive,
	"closed":              lifecycle.ErrClosed,
}

// ExpectAnyError matches every error.
const ExpectAnyError = "any"

func Parse(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("failed to parse scenario: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Script{}, err
	}

	return s, nil
}

func LoadFile(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("failed to read scenario: %w", err)
	}

	return Parse(data)
}

// Validate checks names before anything runs, so a typo does not fail halfway through.
func (s Script) Validate() error {
	var errs []error

	if _, err := lifecycle.ParseMode(s.Mode); err != nil {
		errs = append(errs, err)
	}

	for i, step := range s.Steps {
		if step.Op != OpBegin {
			if _, err := lifecycle.ParseOperation(step.Op); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
			}
		}

		if step.LockMode != "" {
			if _, err := lifecycle.ParseLockMode(step.LockMode); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
			}
		}

		if step.ExpectState != "" {
			if _, err := lifecycle.ParseState(step.ExpectState); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", i+1, err))
			}
		}

		if step.ExpectError != "" && step.ExpectError != ExpectAnyError {
			if _, ok := errorNames[step.ExpectError]; !ok {
				errs = append(errs, fmt.Errorf("step %d: unknown error name %q", i+1, step.ExpectError))
			}
		}

		for _, r := range step.Relations {
			for _, c := range r.Cascade {
				if _, err := lifecycle.ParseCascadeType(c); err != nil {
					errs = append(errs, fmt.Errorf("step %d relation %s: %w", i+1, r.Name, err))
				}
			}
		}
	}

	return errors.Join(errs...)
}

// alias returns the name the step's node is known under.
func (s Step) alias() string {
	if s.Node != "" {
		return s.Node
	}

	if s.Collection == "" && s.ID == "" {
		return ""
	}

	return lifecycle.Identity{Collection: s.Collection, ID: s.ID}.String()
}
