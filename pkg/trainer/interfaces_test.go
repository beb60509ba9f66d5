// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceDataset implements train.Dataset, yielding numInputs images per Yield, count times.
type sliceDataset struct {
	numInputs, count, next int
}

func (ds *sliceDataset) Name() string { return "slice" }
func (ds *sliceDataset) Reset()       { ds.next = 0 }
func (ds *sliceDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if ds.next >= ds.count {
		err = io.EOF
		return
	}
	ds.next++
	for range ds.numInputs {
		inputs = append(inputs, newImage(2))
	}
	return
}

func TestFromDataset(t *testing.T) {
	provider := FromDataset(&sliceDataset{numInputs: 3, count: 1})
	assert.Equal(t, "slice", provider.Name())
	batch, err := provider.Next()
	require.NoError(t, err)
	require.NoError(t, batch.Validate())
	assert.Equal(t, 2, batch.Size())
	_, err = provider.Next()
	assert.Equal(t, io.EOF, err)

	_, err = FromDataset(&sliceDataset{numInputs: 2, count: 1}).Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yielded 2 inputs")
}

func TestBatchValidate(t *testing.T) {
	assert.Error(t, (&Batch{Content: newImage(1), Style: newImage(1)}).Validate())
	assert.Error(t, (&Batch{Features: newImage(1), Content: newImage(1), Style: newImage(3)}).Validate())
	assert.NoError(t, (&Batch{Features: newImage(3), Content: newImage(3), Style: newImage(3)}).Validate())
	assert.Equal(t, 0, (&Batch{}).Size())
}
