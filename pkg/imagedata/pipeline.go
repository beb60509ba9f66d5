// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagedata

import (
	"fmt"
	"slices"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/pkg/errors"
)

// Pipeline hyperparameters, read from the context by ConfigFromContext.
const (
	// ParamImageSize is the height and width of the training images. Default 256.
	ParamImageSize = "image_size"

	// ParamParallelism is the number of goroutines reading and preparing images. Default 32.
	ParamParallelism = "data_parallelism"

	// ParamPrefetch is the number of prepared examples buffered ahead of the batching. Default 8.
	ParamPrefetch = "data_prefetch"
)

// Config of the data pipeline.
type Config struct {
	ImageSize   int
	BatchSize   int
	Parallelism int
	Prefetch    int
}

// ConfigFromContext reads the pipeline configuration from the context hyperparameters.
func ConfigFromContext(ctx *context.Context) Config {
	return Config{
		ImageSize:   context.GetParamOr(ctx, ParamImageSize, 256),
		BatchSize:   context.GetParamOr(ctx, trainer.ParamBatchSize, trainer.DefaultBatchSize),
		Parallelism: context.GetParamOr(ctx, ParamParallelism, 32),
		Prefetch:    context.GetParamOr(ctx, ParamPrefetch, 8),
	}
}

// Featurizer computes the decoder input for batches of content and style images. It's implemented by mst.Model.
type Featurizer interface {
	StylizedFeatures(content, style *tensors.Tensor) (*tensors.Tensor, error)
}

// NewPipeline returns the trainer.Provider of the training batches:
//
//  1. source examples (content, style) are prepared by cfg.Parallelism goroutines, with cfg.Prefetch buffered;
//  2. batched into cfg.BatchSize examples (incomplete batches are dropped);
//  3. one batch is read ahead;
//  4. the stylized features are computed by the featurizer, on the goroutine calling Provider.Next.
//
// The featurizer runs on the caller's goroutine because it shares the model context with the training step.
func NewPipeline(backend backends.Backend, source train.Dataset, featurizer Featurizer, cfg Config) (trainer.Provider, error) {
	if cfg.BatchSize <= 0 {
		return nil, trainer.NewConfigurationError("%s must be > 0, got %d", trainer.ParamBatchSize, cfg.BatchSize)
	}
	if cfg.Parallelism < 0 || cfg.Prefetch < 0 {
		return nil, trainer.NewConfigurationError("%s and %s must be >= 0, got %d and %d",
			ParamParallelism, ParamPrefetch, cfg.Parallelism, cfg.Prefetch)
	}
	var ds train.Dataset = source
	if cfg.Parallelism != 1 || cfg.Prefetch > 0 {
		ds = datasets.CustomParallel(ds).Parallelism(cfg.Parallelism).Buffer(cfg.Prefetch).Start()
	}
	ds = datasets.Batch(backend, ds, cfg.BatchSize, true, true)
	ds = datasets.ReadAhead(ds, 1)
	ds = &featurizedDataset{ds: ds, featurizer: featurizer}
	return trainer.FromDataset(ds), nil
}

// featurizedDataset prepends the stylized features to the (content, style) inputs of the wrapped dataset.
type featurizedDataset struct {
	ds         train.Dataset
	featurizer Featurizer
}

// Name implements train.Dataset.
func (ds *featurizedDataset) Name() string { return fmt.Sprintf("%s [Stylized]", ds.ds.Name()) }

// Reset implements train.Dataset.
func (ds *featurizedDataset) Reset() { ds.ds.Reset() }

// Yield implements train.Dataset. It yields [features, content, style].
func (ds *featurizedDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.ds.Yield()
	if err != nil {
		return
	}
	if len(inputs) != 2 {
		for _, t := range slices.Concat(inputs, labels) {
			_ = t.FinalizeAll()
		}
		err = errors.Errorf("dataset %q yielded %d inputs, expected 2 (content, style)", ds.ds.Name(), len(inputs))
		return
	}
	features, err := ds.featurizer.StylizedFeatures(inputs[0], inputs[1])
	if err != nil {
		for _, t := range slices.Concat(inputs, labels) {
			_ = t.FinalizeAll()
		}
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{features, inputs[0], inputs[1]}
	return
}
