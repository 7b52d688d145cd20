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

package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/lifecycle"
	"github.com/united-manufacturing-hub/umh-lifecycle/pkg/logger"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Index int
	Op    string
	Node  string
	// State is the node's state after the step, empty for steps without a node.
	State    string
	Err      error
	Failures []string
}

func (r StepResult) Passed() bool {
	return len(r.Failures) == 0
}

// Report collects the step results of one run.
type Report struct {
	Name  string
	Steps []StepResult
}

func (r Report) Passed() bool {
	for _, s := range r.Steps {
		if !s.Passed() {
			return false
		}
	}

	return true
}

// Failed returns the steps with at least one unmet expectation.
func (r Report) Failed() []StepResult {
	var out []StepResult

	for _, s := range r.Steps {
		if !s.Passed() {
			out = append(out, s)
		}
	}

	return out
}

func (r Report) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "scenario %s: %d steps, %d failed\n", r.Name, len(r.Steps), len(r.Failed()))

	for _, s := range r.Steps {
		status := "ok"
		if !s.Passed() {
			status = "FAIL " + strings.Join(s.Failures, "; ")
		}

		target := s.Node
		if target == "" {
			target = "-"
		}

		state := s.State
		if state == "" {
			state = "-"
		}

		fmt.Fprintf(&b, "%3d %-13s %-24s %-10s %s\n", s.Index, s.Op, target, state, status)
	}

	return b.String()
}

// Runner replays scripts against one PersistenceContext. Node aliases persist across runs.
type Runner struct {
	pc     *lifecycle.PersistenceContext
	nodes  map[string]*lifecycle.Node
	logger *zap.SugaredLogger
}

func NewRunner(pc *lifecycle.PersistenceContext, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = logger.For(logger.ComponentScenario)
	}

	return &Runner{
		pc:     pc,
		nodes:  make(map[string]*lifecycle.Node),
		logger: log,
	}
}

// Node returns the node known under alias.
func (r *Runner) Node(alias string) *lifecycle.Node {
	return r.nodes[alias]
}

// Run creates a PersistenceContext over client in the script's mode, replays the script
// and closes the context.
func Run(ctx context.Context, client lifecycle.StorageClient, s Script, log *zap.SugaredLogger) (Report, error) {
	if err := s.Validate(); err != nil {
		return Report{}, err
	}

	mode, _ := lifecycle.ParseMode(s.Mode)

	if log == nil {
		log = logger.For(logger.ComponentScenario)
	}

	pc := lifecycle.NewPersistenceContext(client,
		lifecycle.WithMode(mode),
		lifecycle.WithName(s.Name),
		lifecycle.WithLogger(log),
	)

	report := NewRunner(pc, log).Run(ctx, s)

	if err := pc.Close(ctx); err != nil {
		return report, fmt.Errorf("failed to close persistence context: %w", err)
	}

	return report, nil
}

// Run executes every step, continuing after failed expectations.
func (r *Runner) Run(ctx context.Context, s Script) Report {
	report := Report{Name: s.Name, Steps: make([]StepResult, 0, len(s.Steps))}

	for i, step := range s.Steps {
		res := r.runStep(ctx, i, step)
		if res.Passed() {
			r.logger.Debugf("Step %d %s %s passed", res.Index, res.Op, res.Node)
		} else {
			r.logger.Warnf("Step %d %s %s failed: %s", res.Index, res.Op, res.Node, strings.Join(res.Failures, "; "))
		}

		report.Steps = append(report.Steps, res)
	}

	return report
}

func (r *Runner) runStep(ctx context.Context, i int, step Step) StepResult {
	res := StepResult{Index: i + 1, Op: step.Op, Node: step.alias()}

	node, err := r.prepare(step)
	if err != nil {
		res.Failures = append(res.Failures, err.Error())

		return res
	}

	out, opErr := r.apply(ctx, step, node)
	res.Err = opErr

	subject := node
	if out != nil {
		subject = out

		alias := step.As
		if alias == "" && (node == nil || step.Op == lifecycle.OpFind.String()) {
			alias = res.Node
		}

		if alias != "" {
			r.nodes[alias] = out
		}
	}

	res.Failures = append(res.Failures, checkError(step.ExpectError, opErr)...)

	if subject != nil {
		res.State = r.pc.StateOf(subject).String()
	}

	if step.ExpectState != "" {
		switch {
		case subject == nil:
			res.Failures = append(res.Failures, "expected state "+step.ExpectState+" but the step has no node")
		case res.State != step.ExpectState:
			res.Failures = append(res.Failures, fmt.Sprintf("expected state %s, got %s", step.ExpectState, res.State))
		}
	}

	if len(step.ExpectFields) > 0 {
		if subject == nil {
			res.Failures = append(res.Failures, "expected fields but the step has no node")
		} else {
			res.Failures = append(res.Failures, checkFields(step.ExpectFields, subject.Fields)...)
		}
	}

	if step.ExpectContains != nil {
		if got := r.pc.Contains(subject); got != *step.ExpectContains {
			res.Failures = append(res.Failures, fmt.Sprintf("expected contains %t, got %t", *step.ExpectContains, got))
		}
	}

	return res
}

// prepare resolves the step's node, creating it when the alias is new, and applies the
// step's fields and relations to it. find and getReference on a new alias have no node yet.
func (r *Runner) prepare(step Step) (*lifecycle.Node, error) {
	alias := step.alias()
	if alias == "" {
		if needsNode(step.Op) {
			return nil, fmt.Errorf("%s needs a node", step.Op)
		}

		return nil, nil
	}

	node, known := r.nodes[alias]
	if !known {
		if step.Op == lifecycle.OpFind.String() || step.Op == lifecycle.OpGetReference.String() {
			return nil, nil
		}

		if step.Collection == "" {
			return nil, fmt.Errorf("unknown node %q", alias)
		}

		node = lifecycle.NewNode(step.Collection, step.ID, nil)
		r.nodes[alias] = node
	}

	for k, v := range step.Fields {
		node.Fields[k] = v
	}

	for _, rel := range step.Relations {
		target, ok := r.nodes[rel.Target]
		if !ok {
			return nil, fmt.Errorf("relation %s: unknown target %q", rel.Name, rel.Target)
		}

		cascade := make([]lifecycle.CascadeType, 0, len(rel.Cascade))
		for _, name := range rel.Cascade {
			c, err := lifecycle.ParseCascadeType(name)
			if err != nil {
				return nil, err
			}

			cascade = append(cascade, c)
		}

		node.Relate(rel.Name, target, cascade...)
	}

	return node, nil
}

func needsNode(op string) bool {
	switch op {
	case lifecycle.OpPersist.String(), lifecycle.OpRemove.String(), lifecycle.OpRefresh.String(),
		lifecycle.OpMerge.String(), lifecycle.OpLock.String(), lifecycle.OpDetach.String(),
		lifecycle.OpContains.String(), lifecycle.OpFind.String(), lifecycle.OpGetReference.String():
		return true
	default:
		return false
	}
}

// apply runs the step's operation. It returns the node handed back by find and merge.
func (r *Runner) apply(ctx context.Context, step Step, node *lifecycle.Node) (*lifecycle.Node, error) {
	if step.Op == OpBegin {
		return nil, r.pc.Begin(ctx)
	}

	op, err := lifecycle.ParseOperation(step.Op)
	if err != nil {
		return nil, err
	}

	switch op {
	case lifecycle.OpPersist:
		return nil, r.pc.Persist(ctx, node)
	case lifecycle.OpRemove:
		return nil, r.pc.Remove(ctx, node)
	case lifecycle.OpRefresh:
		return nil, r.pc.Refresh(ctx, node)
	case lifecycle.OpDetach:
		return nil, r.pc.Detach(ctx, node)
	case lifecycle.OpMerge:
		return r.pc.Merge(ctx, node)
	case lifecycle.OpFind:
		// find looks up by identity, so a detached alias resolves to the stored record
		id := lifecycle.Identity{Collection: step.Collection, ID: step.ID}
		if node != nil {
			id = node.Identity()
		}

		return r.pc.Find(ctx, id.Collection, id.ID)
	case lifecycle.OpGetReference:
		if node != nil {
			_, err := r.pc.ReferenceOf(ctx, node)

			return nil, err
		}

		_, err := r.pc.GetReference(ctx, step.Collection, step.ID)

		return nil, err
	case lifecycle.OpLock:
		mode, err := lifecycle.ParseLockMode(step.LockMode)
		if err != nil {
			return nil, err
		}

		return nil, r.pc.Lock(ctx, node, mode)
	case lifecycle.OpFlush:
		return nil, r.pc.Flush(ctx)
	case lifecycle.OpCommit:
		return nil, r.pc.Commit(ctx)
	case lifecycle.OpRollback:
		return nil, r.pc.Rollback(ctx)
	case lifecycle.OpClear:
		return nil, r.pc.Clear(ctx)
	case lifecycle.OpClose:
		return nil, r.pc.Close(ctx)
	case lifecycle.OpContains:
		return nil, nil
	default:
		return nil, fmt.Errorf("operation %s cannot be scripted", op)
	}
}

func checkError(expected string, got error) []string {
	switch {
	case expected == "":
		if got != nil {
			return []string{fmt.Sprintf("unexpected error: %v", got)}
		}
	case expected == ExpectAnyError:
		if got == nil {
			return []string{"expected an error"}
		}
	default:
		if !errors.Is(got, errorNames[expected]) {
			return []string{fmt.Sprintf("expected %s error, got %v", expected, got)}
		}
	}

	return nil
}

// checkFields compares by printed value, so 10 read back from a JSON store as 10.0 still matches.
func checkFields(expected map[string]interface{}, got lifecycle.Fields) []string {
	var failures []string

	for k, want := range expected {
		have, ok := got[k]
		if !ok {
			failures = append(failures, fmt.Sprintf("field %s missing", k))

			continue
		}

		if fmt.Sprint(have) != fmt.Sprint(want) {
			failures = append(failures, fmt.Sprintf("field %s is %v, expected %v", k, have, want))
		}
	}

	return failures
}
