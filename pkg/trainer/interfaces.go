// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// StyleWeight multiplies the style loss in the combined loss: loss = content_loss + StyleWeight * style_loss.
const StyleWeight = 0.01

// CombinedLoss returns contentLoss + StyleWeight*styleLoss.
func CombinedLoss(contentLoss, styleLoss float64) float64 {
	return contentLoss + StyleWeight*styleLoss
}

// Batch is one training example batch: the stylized features (decoder input) and the content and style images
// they were generated from.
//
// All tensors share the same leading (batch) dimension. Images are shaped [batch, height, width, 3].
type Batch struct {
	Features, Content, Style *tensors.Tensor
}

// Size returns the batch size (the leading dimension of Content).
func (b *Batch) Size() int {
	if b.Content == nil || b.Content.Rank() == 0 {
		return 0
	}
	return b.Content.Shape().Dimensions[0]
}

// Validate checks that all tensors are present, are rank 4 and share the batch dimension.
func (b *Batch) Validate() error {
	parts := []struct {
		name string
		t    *tensors.Tensor
	}{{"features", b.Features}, {"content", b.Content}, {"style", b.Style}}
	batchSize := -1
	for _, part := range parts {
		if part.t == nil {
			return errors.Errorf("batch is missing %s", part.name)
		}
		if part.t.Rank() != 4 {
			return errors.Errorf("batch %s must be rank 4, got shape %s", part.name, part.t.Shape())
		}
		dim := part.t.Shape().Dimensions[0]
		if batchSize == -1 {
			batchSize = dim
		} else if dim != batchSize {
			return errors.Errorf("batch %s has batch dimension %d, expected %d", part.name, dim, batchSize)
		}
	}
	return nil
}

// Finalize frees the on-device and local storage of the batch tensors.
func (b *Batch) Finalize() {
	for _, t := range []*tensors.Tensor{b.Features, b.Content, b.Style} {
		if t != nil && t.Ok() {
			_ = t.FinalizeAll()
		}
	}
}

// Provider is a lazy, repeating sequence of batches.
//
// Next returns io.EOF when the sequence is exhausted: for the training loop that is a configuration error,
// not the end of an epoch.
type Provider interface {
	Name() string
	Next() (*Batch, error)
}

// datasetProvider adapts a train.Dataset yielding [features, content, style] inputs.
type datasetProvider struct {
	ds train.Dataset
}

// FromDataset returns a Provider that reads batches from ds. Each Yield must return exactly three inputs:
// features, content and style. Labels are ignored.
func FromDataset(ds train.Dataset) Provider {
	return &datasetProvider{ds: ds}
}

// Name implements Provider.
func (p *datasetProvider) Name() string { return p.ds.Name() }

// Next implements Provider.
func (p *datasetProvider) Next() (*Batch, error) {
	_, inputs, labels, err := p.ds.Yield()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.WithMessagef(err, "failed reading from dataset %q", p.ds.Name())
	}
	for _, t := range labels {
		_ = t.FinalizeAll()
	}
	if len(inputs) != 3 {
		return nil, errors.Errorf("dataset %q yielded %d inputs, expected 3 (features, content, style)",
			p.ds.Name(), len(inputs))
	}
	return &Batch{Features: inputs[0], Content: inputs[1], Style: inputs[2]}, nil
}

// StepResult is the output of one training step.
type StepResult struct {
	// Reconstructed is the decoder output for the batch features, shaped like the content images.
	Reconstructed *tensors.Tensor

	// Loss is the combined loss, ContentLoss + StyleWeight*StyleLoss.
	Loss, ContentLoss, StyleLoss float64
}

// Model is what the training loop needs from the style transfer model.
type Model interface {
	// TrainStep runs the decoder on batch.Features, computes the losses against batch.Content and batch.Style,
	// and applies one optimizer update to the decoder parameters. It must not modify the batch tensors.
	TrainStep(batch *Batch) (StepResult, error)

	// SaveDecoderWeights writes a snapshot of the decoder parameters for the given epoch under dir.
	SaveDecoderWeights(dir string, epoch int) error
}

// Scalar is one summary value.
type Scalar struct {
	Tag   string
	Value float64
}

// Sink receives the per-epoch telemetry: scalar summaries and the visual comparison of the last batch.
type Sink interface {
	WriteScalars(epoch int, scalars []Scalar) error
	RenderComparison(epoch int, reconstructed, content, style *tensors.Tensor) error
}
