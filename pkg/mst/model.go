// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mst

import (
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/pkg/errors"
)

// Model implements trainer.Model: it owns the context with the encoder and decoder variables, the RMSProp
// optimizer and the compiled graphs.
//
// It is not safe for concurrent use: all calls must come from the same goroutine.
type Model struct {
	backend   backends.Backend
	ctx       *context.Context
	optimizer optimizers.Interface

	stepExec, featuresExec *context.Exec
}

// Assert Model implements trainer.Model.
var _ trainer.Model = (*Model)(nil)

// New creates the model on the given backend, using the hyperparameters in ctx.
//
// Variables are created (or loaded, see SeedFromFile) the first time a graph is executed.
func New(backend backends.Backend, ctx *context.Context) (*Model, error) {
	if backend == nil {
		return nil, errors.New("mst.New requires a backend")
	}
	hp := readHyperParams(ctx)
	if hp.levels < 1 {
		return nil, trainer.NewConfigurationError("%s must be >= 1, got %d", ParamLevels, hp.levels)
	}
	if hp.baseChannels < 1 {
		return nil, trainer.NewConfigurationError("%s must be >= 1, got %d", ParamBaseChannels, hp.baseChannels)
	}
	learningRate := context.GetParamOr(ctx, optimizers.ParamLearningRate, DefaultLearningRate)
	m := &Model{
		backend:   backend,
		ctx:       ctx,
		optimizer: optimizers.RMSProp().LearningRate(learningRate).Done(),
	}

	var err error
	m.stepExec, err = context.NewExec(backend, ctx, m.trainStepGraph)
	if err != nil {
		return nil, errors.WithMessage(err, "creating training step executor")
	}
	m.featuresExec, err = context.NewExec(backend, ctx,
		func(ctx *context.Context, inputs []*Node) []*Node {
			return []*Node{StylizedFeaturesGraph(ctx, inputs[0], inputs[1])}
		})
	if err != nil {
		return nil, errors.WithMessage(err, "creating stylized features executor")
	}
	return m, nil
}

// trainStepGraph takes [features, content, style] and returns [reconstructed, loss, contentLoss, styleLoss].
// Only the decoder variables are updated by the optimizer.
func (m *Model) trainStepGraph(ctx *context.Context, inputs []*Node) []*Node {
	features, content, style := inputs[0], inputs[1], inputs[2]
	g := features.Graph()
	ctx.SetTraining(g, true)
	reconstructed := Decoder(ctx, features)
	batchSize := content.Shape().Dimensions[0]
	contentLoss, styleLoss := Loss(ctx, reconstructed, content, style, batchSize)
	loss := CombinedLoss(contentLoss, styleLoss)
	m.optimizer.UpdateGraph(ctx, g, loss)
	return []*Node{reconstructed, loss, contentLoss, styleLoss}
}

// Context returns the context holding the model variables and hyperparameters.
func (m *Model) Context() *context.Context { return m.ctx }

// GlobalStep returns the number of optimizer updates applied so far.
func (m *Model) GlobalStep() int64 { return optimizers.GetGlobalStep(m.ctx) }

// TrainStep implements trainer.Model. The batch tensors are not modified.
func (m *Model) TrainStep(batch *trainer.Batch) (result trainer.StepResult, err error) {
	var reconstructed, loss, contentLoss, styleLoss *tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		reconstructed, loss, contentLoss, styleLoss, err = m.stepExec.Exec4(batch.Features, batch.Content, batch.Style)
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return result, errors.WithMessage(err, "executing training step")
	}
	result.Reconstructed = reconstructed
	result.Loss = scalarValue(loss)
	result.ContentLoss = scalarValue(contentLoss)
	result.StyleLoss = scalarValue(styleLoss)
	return result, nil
}

// scalarValue converts a float32 scalar tensor to float64 and releases it.
func scalarValue(t *tensors.Tensor) float64 {
	v := float64(tensors.ToScalar[float32](t))
	_ = t.FinalizeAll()
	return v
}

// StylizedFeatures returns the decoder input for the content and style image batches: the AdaIN of their
// last-level encoder features.
func (m *Model) StylizedFeatures(content, style *tensors.Tensor) (features *tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		features, err = m.featuresExec.Exec1(content, style)
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "computing stylized features")
	}
	return features, nil
}

// SaveDecoderWeights implements trainer.Model: it writes the decoder variables to dir/decoder_epoch_%05d.bin.
func (m *Model) SaveDecoderWeights(dir string, epoch int) error {
	return SaveWeights(m.ctx, context.ScopeSeparator+DecoderScope, filepath.Join(dir, DecoderWeightsFileName(epoch)))
}
