// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"slices"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// TrainingState is the mutable state of one training run. It is owned by the Trainer and passed by reference
// to the hooks; hooks should only read it.
type TrainingState struct {
	// Epoch currently running, starting from 0.
	Epoch int

	// Step within the current epoch, starting from 0.
	Step int

	// GlobalStep counts the training steps completed in this run.
	GlobalStep int

	// Metrics are the running means of the current epoch.
	Metrics *Metrics

	// LastReconstructed, LastContent and LastStyle are retained from the last step, for the visual comparison.
	// They are nil before the first step of the run.
	LastReconstructed, LastContent, LastStyle *tensors.Tensor

	// StepDurations of the training steps of the run.
	StepDurations []time.Duration

	// IOFailures counts failed auxiliary writes (summaries, weight snapshots, comparison images).
	IOFailures int

	// Stopped is set if the run ended early because of a stop request.
	Stopped bool
}

func newTrainingState() *TrainingState {
	return &TrainingState{Metrics: NewMetrics()}
}

// MedianStepDuration returns the median duration of the training steps. It returns 1 millisecond
// if no step was recorded (to avoid potential division by 0).
func (s *TrainingState) MedianStepDuration() time.Duration {
	if len(s.StepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(s.StepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// retain keeps the images of the last step and frees the ones of the previous step and the batch features.
func (s *TrainingState) retain(batch *Batch, reconstructed *tensors.Tensor) {
	s.release()
	if batch.Features != nil && batch.Features.Ok() {
		_ = batch.Features.FinalizeAll()
	}
	s.LastReconstructed, s.LastContent, s.LastStyle = reconstructed, batch.Content, batch.Style
}

// release frees the retained images.
func (s *TrainingState) release() {
	for _, t := range []*tensors.Tensor{s.LastReconstructed, s.LastContent, s.LastStyle} {
		if t != nil && t.Ok() {
			_ = t.FinalizeAll()
		}
	}
	s.LastReconstructed, s.LastContent, s.LastStyle = nil, nil, nil
}
