// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"iter"
	"sort"

	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// OnEpochFn is the type of the OnEpochStart, OnEpochEnd and OnEnd hooks.
type OnEpochFn func(t *Trainer) error

// OnStepFn is the type of OnStep hooks, called after each training step with its result.
type OnStepFn func(t *Trainer, result StepResult) error

// OnEpochStart adds a hook called at the start of each epoch, after the metrics are reset.
func (t *Trainer) OnEpochStart(name string, priority Priority, fn OnEpochFn) {
	t.onEpochStart.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// OnStep adds a hook called after each training step.
func (t *Trainer) OnStep(name string, priority Priority, fn OnStepFn) {
	t.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpochEnd adds a hook called at the end of each epoch, after summaries, weights and the printed report.
func (t *Trainer) OnEpochEnd(name string, priority Priority, fn OnEpochFn) {
	t.onEpochEnd.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// OnEnd adds a hook called once when the loop finishes, either after the last epoch or after a stop request.
// It is not called if training fails.
func (t *Trainer) OnEnd(name string, priority Priority, fn OnEpochFn) {
	t.onEnd.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// EveryNEpochs registers fn to run at the end of every n-th epoch (epochs n-1, 2n-1, ...).
// If n <= 0 it does nothing.
func EveryNEpochs(t *Trainer, n int, name string, priority Priority, fn OnEpochFn) {
	if n <= 0 {
		return
	}
	t.OnEpochEnd(name, priority, func(t *Trainer) error {
		if (t.state.Epoch+1)%n != 0 {
			return nil
		}
		return fn(t)
	})
}

func runEpochHooks(t *Trainer, hooks *priorityHooks[*hookWithName[OnEpochFn]], kind string) error {
	for hook := range hooks.All() {
		if err := hook.fn(t); err != nil {
			return errors.WithMessagef(err, "%s(hook %q)", kind, hook.name)
		}
	}
	return nil
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all registered hooks in priority order, and in order of
// registration within the same priority.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i] < keys[j]
		})
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
