// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mst

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// decoderContext returns the context for the decoder variables. Like the encoder, they may be seeded by a loader.
func decoderContext(ctx *context.Context) *context.Context {
	return ctx.InAbsPath(context.RootScope).In(DecoderScope).Checked(false)
}

// upsample2x doubles the spatial dimensions of x with nearest-neighbor interpolation.
func upsample2x(x *Node) *Node {
	dims := x.Shape().Dimensions
	return Interpolate(x, NoInterpolation, dims[1]*2, dims[2]*2, NoInterpolation).Nearest().Done()
}

// Decoder maps the stylized features (the shape of the encoder's last level) back to an image shaped
// [batch, height, width, 3] with values in [0, 1].
//
// It mirrors the encoder: levels in reverse order, each with two 3x3 convolutions and ReLU, and a 2x
// nearest-neighbor upsampling between levels. A final 3x3 convolution to 3 channels is followed by a sigmoid.
func Decoder(ctx *context.Context, features *Node) *Node {
	hp := readHyperParams(ctx)
	ctx = decoderContext(ctx)
	x := features
	for level := hp.levels - 1; level >= 0; level-- {
		x = convBlock(ctx.Inf("level_%d", level), x, hp.baseChannels<<level)
		if level > 0 {
			x = upsample2x(x)
		}
	}
	x = layers.Convolution(ctx.In("output"), x).Channels(3).KernelSize(3).PadSame().Done()
	return Sigmoid(x)
}
