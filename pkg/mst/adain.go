// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mst

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// spatialAxes of channels-last images: [batch, height, width, channels].
var spatialAxes = []int{1, 2}

// MeanStd returns the per-example, per-channel mean and standard deviation of x over its spatial axes.
// Both are shaped [batch, 1, 1, channels], so they broadcast against x.
//
// epsilon is added to the variance before the square root.
func MeanStd(x *Node, epsilon float64) (mean, std *Node) {
	mean = ReduceAndKeep(x, ReduceMean, spatialAxes...)
	variance := ReduceAndKeep(Square(Sub(x, mean)), ReduceMean, spatialAxes...)
	std = Sqrt(AddScalar(variance, epsilon))
	return
}

// AdaIN (adaptive instance normalization) renormalizes the content features to the per-channel mean and
// standard deviation of the style features: (content - μc) / σc * σs + μs.
//
// content and style must have the same number of channels, but may differ in their spatial dimensions.
func AdaIN(content, style *Node, epsilon float64) *Node {
	if content.Shape().Dimensions[3] != style.Shape().Dimensions[3] {
		exceptions.Panicf("AdaIN: content features have %d channels but style features have %d",
			content.Shape().Dimensions[3], style.Shape().Dimensions[3])
	}
	contentMean, contentStd := MeanStd(content, epsilon)
	styleMean, styleStd := MeanStd(style, epsilon)
	normalized := Div(Sub(content, contentMean), contentStd)
	return Add(Mul(normalized, styleStd), styleMean)
}
