// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mst

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/mst/pkg/trainer"
)

// batchMeanSquaredError returns the mean squared difference of each example, summed over the batch and divided by
// batchSize.
func batchMeanSquaredError(a, b *Node, batchSize int) *Node {
	squared := Square(Sub(a, b))
	nonBatchAxes := make([]int, squared.Rank()-1)
	for ii := range nonBatchAxes {
		nonBatchAxes[ii] = ii + 1
	}
	perExample := ReduceMean(squared, nonBatchAxes...)
	return DivScalar(ReduceAllSum(perExample), batchSize)
}

// Loss computes the content and style losses of the reconstructed images.
//
//   - content loss: mean squared difference between the last-level encoder features of the reconstructed and
//     the content images.
//   - style loss: sum over the encoder levels of the mean squared difference of the per-channel means, plus that
//     of the per-channel standard deviations, between the reconstructed and the style images.
//
// Both are averaged over the batch. The content and style targets are constants: only the reconstructed images
// carry gradients.
func Loss(ctx *context.Context, reconstructed, content, style *Node, batchSize int) (contentLoss, styleLoss *Node) {
	hp := readHyperParams(ctx)
	reconstructedFeatures := Encoder(ctx, reconstructed)
	contentFeatures := Encoder(ctx, content)
	styleFeatures := Encoder(ctx, style)

	last := hp.levels - 1
	contentLoss = batchMeanSquaredError(reconstructedFeatures[last], StopGradient(contentFeatures[last]), batchSize)

	for level := range hp.levels {
		recMean, recStd := MeanStd(reconstructedFeatures[level], hp.epsilon)
		styleMean, styleStd := MeanStd(StopGradient(styleFeatures[level]), hp.epsilon)
		levelLoss := Add(
			batchMeanSquaredError(recMean, styleMean, batchSize),
			batchMeanSquaredError(recStd, styleStd, batchSize))
		if styleLoss == nil {
			styleLoss = levelLoss
		} else {
			styleLoss = Add(styleLoss, levelLoss)
		}
	}
	return
}

// CombinedLoss returns content + trainer.StyleWeight·style.
func CombinedLoss(contentLoss, styleLoss *Node) *Node {
	return Add(contentLoss, MulScalar(styleLoss, trainer.StyleWeight))
}
