// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mst implements the style-transfer model trained by the trainer package: a frozen convolutional
// encoder, AdaIN stylized features, the trainable decoder, the content and style losses, and the compiled
// training step (RMSProp) over a GoMLX context.
//
// Hyperparameters are read from the context, see CreateDefaultContext.
package mst

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/mst/pkg/trainer"
)

const (
	// ParamImageSize is the height and width of the training images. Default 256.
	ParamImageSize = "image_size"

	// ParamLevels is the number of resolution levels of the encoder (and decoder). Default 3.
	ParamLevels = "mst_levels"

	// ParamBaseChannels is the number of channels of the first encoder level; each level doubles it. Default 64.
	ParamBaseChannels = "mst_base_channels"

	// ParamAdaINEpsilon is added to the variance before taking the square root in AdaIN and the style loss.
	ParamAdaINEpsilon = "adain_epsilon"

	// ParamSeed for the random initialization of the variables and the pairing of the images.
	ParamSeed = "seed"
)

const (
	// EncoderScope holds the frozen encoder variables.
	EncoderScope = "encoder"

	// DecoderScope holds the trainable decoder variables, the only ones saved by SaveDecoderWeights.
	DecoderScope = "decoder"
)

// DefaultLearningRate of the RMSProp optimizer.
const DefaultLearningRate = 5e-4

// CreateDefaultContext returns a context with the model and training loop hyperparameters set to their defaults.
// Values can be changed with context.SetParam or with the --set flag of the trainer.
//
// The data pipeline and telemetry parameters are owned by their own packages.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		trainer.ParamBatchSize:     trainer.DefaultBatchSize,
		trainer.ParamNumEpochs:     trainer.DefaultNumEpochs,
		trainer.ParamStepsPerEpoch: trainer.DefaultStepsPerEpoch,

		optimizers.ParamLearningRate: DefaultLearningRate,

		ParamImageSize:    256,
		ParamLevels:       3,
		ParamBaseChannels: 64,
		ParamAdaINEpsilon: 1e-5,
		ParamSeed:         42,
	})
	return ctx
}

// hyperParams read from the context once, at model creation.
type hyperParams struct {
	levels, baseChannels int
	epsilon              float64
}

func readHyperParams(ctx *context.Context) hyperParams {
	return hyperParams{
		levels:       context.GetParamOr(ctx, ParamLevels, 3),
		baseChannels: context.GetParamOr(ctx, ParamBaseChannels, 64),
		epsilon:      context.GetParamOr(ctx, ParamAdaINEpsilon, 1e-5),
	}
}
