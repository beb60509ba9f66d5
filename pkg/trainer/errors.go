// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports a setup that cannot train as requested: a missing or empty datapath, a dataset
// exhausted before steps_per_epoch draws, an unwritable job directory, inconsistent batches.
//
// Epoch and Step are -1 when the error happens before training starts.
type ConfigurationError struct {
	Epoch, Step int
	Err         error
}

// NewConfigurationError creates a ConfigurationError not tied to any epoch or step.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Epoch: -1, Step: -1, Err: errors.Errorf(format, args...)}
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	if e.Epoch < 0 {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error (epoch %d, step %d): %v", e.Epoch, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// DivergenceError is returned when the combined loss of a training step is NaN or infinite.
type DivergenceError struct {
	Epoch, Step                  int
	Loss, ContentLoss, StyleLoss float64
}

// Error implements error.
func (e *DivergenceError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d, step %d: loss=%g (content_loss=%g, style_loss=%g)",
		e.Epoch, e.Step, e.Loss, e.ContentLoss, e.StyleLoss)
}

// IsConfigurationError returns whether err is or wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsDivergenceError returns whether err is or wraps a *DivergenceError.
func IsDivergenceError(err error) bool {
	var target *DivergenceError
	return errors.As(err, &target)
}
