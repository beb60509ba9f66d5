// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Hyperparameters read from the context by ConfigFromContext.
const (
	// ParamBatchSize is the number of examples per training step.
	ParamBatchSize = "batch_size"

	// ParamNumEpochs is the number of epochs to train.
	ParamNumEpochs = "num_epochs"

	// ParamStepsPerEpoch is the number of batches drawn in each epoch.
	ParamStepsPerEpoch = "steps_per_epoch"
)

// Default values of the loop configuration.
const (
	DefaultBatchSize     = 1
	DefaultNumEpochs     = 1000
	DefaultStepsPerEpoch = 1
)

// Config of the epoch loop.
type Config struct {
	BatchSize     int
	NumEpochs     int
	StepsPerEpoch int

	// WeightsDir is where decoder snapshots are written, one per epoch.
	WeightsDir string
}

// DefaultConfig returns batch_size=1, num_epochs=1000 and steps_per_epoch=1.
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		NumEpochs:     DefaultNumEpochs,
		StepsPerEpoch: DefaultStepsPerEpoch,
	}
}

// ConfigFromContext reads the loop hyperparameters from ctx, falling back to the defaults.
func ConfigFromContext(ctx *context.Context, weightsDir string) Config {
	return Config{
		BatchSize:     context.GetParamOr(ctx, ParamBatchSize, DefaultBatchSize),
		NumEpochs:     context.GetParamOr(ctx, ParamNumEpochs, DefaultNumEpochs),
		StepsPerEpoch: context.GetParamOr(ctx, ParamStepsPerEpoch, DefaultStepsPerEpoch),
		WeightsDir:    weightsDir,
	}
}

// Validate returns a ConfigurationError for negative counts or a non-positive batch size.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return NewConfigurationError("%s must be > 0, got %d", ParamBatchSize, c.BatchSize)
	case c.NumEpochs < 0:
		return NewConfigurationError("%s must be >= 0, got %d", ParamNumEpochs, c.NumEpochs)
	case c.StepsPerEpoch < 0:
		return NewConfigurationError("%s must be >= 0, got %d", ParamStepsPerEpoch, c.StepsPerEpoch)
	}
	return nil
}
