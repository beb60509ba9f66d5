// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trainer implements the epoch loop that trains the MST decoder: it draws a fixed number of batches per
// epoch, runs the training step on each, keeps the running means of the losses, and at the end of every epoch
// writes the scalar summaries, the decoder snapshot and a visual comparison of the last batch.
//
// The model, the dataset and the telemetry are given as interfaces (Model, Provider and Sink), so the loop
// can be exercised with fakes.
package trainer

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Trainer runs the fixed-length training: Config.NumEpochs epochs of Config.StepsPerEpoch steps each.
//
// There is no early-stopping, no learning-rate scheduling and no convergence check. The only interruption
// point is the start of an epoch, see Stop.
type Trainer struct {
	model    Model
	provider Provider
	sink     Sink
	config   Config
	state    *TrainingState
	out      io.Writer

	stopRequested atomic.Bool

	onEpochStart *priorityHooks[*hookWithName[OnEpochFn]]
	onStep       *priorityHooks[*hookWithName[OnStepFn]]
	onEpochEnd   *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd        *priorityHooks[*hookWithName[OnEpochFn]]
}

// New creates a Trainer. The sink can be nil, in which case no summaries or comparisons are emitted.
func New(model Model, provider Provider, sink Sink, config Config) *Trainer {
	return &Trainer{
		model:        model,
		provider:     provider,
		sink:         sink,
		config:       config,
		state:        newTrainingState(),
		out:          os.Stdout,
		onEpochStart: newPriorityHooks[*hookWithName[OnEpochFn]](),
		onStep:       newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpochEnd:   newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:        newPriorityHooks[*hookWithName[OnEpochFn]](),
	}
}

// WithOutput sets where the human-readable epoch reports are printed. Default is os.Stdout.
func (t *Trainer) WithOutput(w io.Writer) *Trainer {
	t.out = w
	return t
}

// Config returns the loop configuration.
func (t *Trainer) Config() Config { return t.config }

// State returns the training state. It is only meant to be read.
func (t *Trainer) State() *TrainingState { return t.state }

// Stop requests the loop to end before starting the next epoch. The current epoch is completed.
// It is safe to call from any goroutine.
func (t *Trainer) Stop() {
	t.stopRequested.Store(true)
}

// Run trains for Config.NumEpochs epochs and returns the final state.
//
// Configuration errors (including a dataset exhausted before Config.StepsPerEpoch draws) and divergence
// (a non-finite loss) abort the run immediately with a *ConfigurationError or a *DivergenceError.
// Failures writing summaries, snapshots or comparison images are logged and training continues.
func (t *Trainer) Run() (*TrainingState, error) {
	if err := t.config.Validate(); err != nil {
		return t.state, err
	}
	defer t.state.release()

	state := t.state
	for epoch := 0; epoch < t.config.NumEpochs; epoch++ {
		if t.stopRequested.Load() {
			klog.Infof("Stop requested, ending training before epoch %d", epoch)
			state.Stopped = true
			break
		}

		// EpochStart
		state.Epoch, state.Step = epoch, 0
		state.Metrics.Reset()
		if err := runEpochHooks(t, t.onEpochStart, "OnEpochStart"); err != nil {
			return state, errors.WithMessagef(err, "epoch %d", epoch)
		}

		// StepLoop
		for step := 0; step < t.config.StepsPerEpoch; step++ {
			state.Step = step
			if err := t.step(); err != nil {
				return state, err
			}
		}

		// EpochEnd
		if err := t.endEpoch(); err != nil {
			return state, err
		}
	}

	if err := runEpochHooks(t, t.onEnd, "OnEnd"); err != nil {
		return state, err
	}
	return state, nil
}

// step draws one batch and runs the training step on it.
func (t *Trainer) step() error {
	state := t.state
	batch, err := t.provider.Next()
	if err != nil {
		if err == io.EOF {
			return &ConfigurationError{
				Epoch: state.Epoch,
				Step:  state.Step,
				Err: errors.Errorf("dataset %q exhausted after %d of the %d steps per epoch -- the dataset "+
					"must repeat indefinitely", t.provider.Name(), state.Step, t.config.StepsPerEpoch),
			}
		}
		return errors.WithMessagef(err, "epoch %d, step %d: failed reading batch", state.Epoch, state.Step)
	}
	if err = batch.Validate(); err != nil {
		batch.Finalize()
		return &ConfigurationError{Epoch: state.Epoch, Step: state.Step, Err: err}
	}

	startTime := time.Now()
	result, err := t.model.TrainStep(batch)
	state.StepDurations = append(state.StepDurations, time.Since(startTime))
	if err != nil {
		batch.Finalize()
		return errors.WithMessagef(err, "epoch %d, step %d: training step failed", state.Epoch, state.Step)
	}
	if math.IsNaN(result.Loss) || math.IsInf(result.Loss, 0) {
		batch.Finalize()
		if result.Reconstructed != nil {
			_ = result.Reconstructed.FinalizeAll()
		}
		return &DivergenceError{
			Epoch:       state.Epoch,
			Step:        state.Step,
			Loss:        result.Loss,
			ContentLoss: result.ContentLoss,
			StyleLoss:   result.StyleLoss,
		}
	}

	state.Metrics.Update(result)
	state.GlobalStep++
	state.retain(batch, result.Reconstructed)
	if klog.V(2).Enabled() {
		klog.Infof("epoch %d, step %d: loss=%g content_loss=%g style_loss=%g",
			state.Epoch, state.Step, result.Loss, result.ContentLoss, result.StyleLoss)
	}

	for hook := range t.onStep.All() {
		if err := hook.fn(t, result); err != nil {
			return errors.WithMessagef(err, "epoch %d, step %d: OnStep(hook %q)", state.Epoch, state.Step, hook.name)
		}
	}
	return nil
}

// endEpoch flushes the summaries, saves the decoder, renders the comparison and prints the report.
func (t *Trainer) endEpoch() error {
	state := t.state
	epoch := state.Epoch

	if t.sink != nil {
		if err := t.sink.WriteScalars(epoch, state.Metrics.Scalars()); err != nil {
			t.ioFailure("writing scalar summaries", err)
		}
	}
	if err := t.model.SaveDecoderWeights(t.config.WeightsDir, epoch); err != nil {
		t.ioFailure("saving decoder weights", err)
	}

	fmt.Fprintln(t.out, "Testing images")
	if t.sink != nil {
		if state.LastReconstructed == nil {
			klog.V(1).Infof("epoch %d: no batch trained yet, skipping comparison image", epoch)
		} else if err := t.sink.RenderComparison(epoch, state.LastReconstructed, state.LastContent,
			state.LastStyle); err != nil {
			t.ioFailure("rendering comparison image", err)
		}
	}

	fmt.Fprintf(t.out, "Epoch: %d\n", epoch)
	fmt.Fprintf(t.out, "Loss: %s\n", state.Metrics.Loss.PrettyPrint())
	fmt.Fprintf(t.out, "Content Loss: %s\n", state.Metrics.ContentLoss.PrettyPrint())
	fmt.Fprintf(t.out, "Style Loss: %s\n", state.Metrics.StyleLoss.PrettyPrint())

	if err := runEpochHooks(t, t.onEpochEnd, "OnEpochEnd"); err != nil {
		return errors.WithMessagef(err, "epoch %d", epoch)
	}
	return nil
}

// ioFailure logs a failed auxiliary write. Training continues.
func (t *Trainer) ioFailure(what string, err error) {
	t.state.IOFailures++
	klog.Warningf("epoch %d: failed %s (training continues): %+v", t.state.Epoch, what, err)
}
