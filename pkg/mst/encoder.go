// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mst

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// convBlock applies two 3x3 convolutions with ReLU, each under its own scope.
func convBlock(ctx *context.Context, x *Node, channels int) *Node {
	for ii := range 2 {
		ctx := ctx.Inf("conv_%d", ii)
		x = layers.Convolution(ctx, x).Channels(channels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
	}
	return x
}

// encoderContext returns the context for the encoder variables.
//
// The encoder is built several times per graph (reconstructed, content and style images) and its values may be
// provided by a loader, so variables are unchecked: created the first time and reused afterwards.
func encoderContext(ctx *context.Context) *context.Context {
	return ctx.InAbsPath(context.RootScope).In(EncoderScope).Checked(false)
}

// Encoder returns the activations of each level of the frozen feature extractor for the images
// (shaped [batch, height, width, 3], values in [0, 1]).
//
// Level i has mst_base_channels·2^i channels and 1/2^i of the image resolution: levels are separated by a 2x2
// mean pooling. The last level holds the content features.
//
// The encoder variables are marked as not trainable: gradients flow through the encoder to its inputs, but its
// values are never updated.
func Encoder(ctx *context.Context, images *Node) []*Node {
	hp := readHyperParams(ctx)
	ctx = encoderContext(ctx)
	features := make([]*Node, 0, hp.levels)
	x := images
	for level := range hp.levels {
		if level > 0 {
			x = MeanPool(x).Window(2).NoPadding().Done()
		}
		x = convBlock(ctx.Inf("level_%d", level), x, hp.baseChannels<<level)
		features = append(features, x)
	}
	for v := range ctx.IterVariablesInScope() {
		v.SetTrainable(false)
	}
	return features
}

// StylizedFeaturesGraph returns the AdaIN renormalization of the last-level content features to the statistics
// of the last-level style features. This is the input of the Decoder.
func StylizedFeaturesGraph(ctx *context.Context, content, style *Node) *Node {
	hp := readHyperParams(ctx)
	contentFeatures := Encoder(ctx, content)
	styleFeatures := Encoder(ctx, style)
	return AdaIN(contentFeatures[hp.levels-1], styleFeatures[hp.levels-1], hp.epsilon)
}
