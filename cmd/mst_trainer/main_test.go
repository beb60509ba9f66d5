// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/mst/pkg/jobdir"
	"github.com/gomlx/mst/pkg/mst"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/gomlx/mst/ui/commandline"
	"github.com/gomlx/mst/ui/telemetry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDefaultContext(t *testing.T) {
	ctx := createDefaultContext()
	defaults := map[string]any{
		"batch_size":        1,
		"num_epochs":        1000,
		"steps_per_epoch":   1,
		"image_size":        256,
		"mst_levels":        3,
		"mst_base_channels": 64,
		"data_parallelism":  32,
		"data_prefetch":     8,
		"plots_period":      10,
		"seed":              42,
	}
	for key, want := range defaults {
		got, found := ctx.GetParam(key)
		require.True(t, found, key)
		assert.Equal(t, want, got, key)
	}
	assert.Equal(t, 5e-4, context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0))
	assert.Equal(t, 1e-5, context.GetParamOr(ctx, "adain_epsilon", 0.0))

	_, err := commandline.ParseContextSettings(ctx, "batch_size=4;num_epochs=10;steps_per_epoch=100")
	require.NoError(t, err)
	cfg := trainer.ConfigFromContext(ctx, "weights")
	assert.Equal(t, trainer.Config{BatchSize: 4, NumEpochs: 10, StepsPerEpoch: 100, WeightsDir: "weights"}, cfg)
}

func TestDescribeError(t *testing.T) {
	divergence := errors.WithMessage(&trainer.DivergenceError{Epoch: 3, Step: 7, Loss: 1}, "run")
	assert.Contains(t, describeError(divergence), "epoch 3, step 7")
	assert.Contains(t, describeError(divergence), "learning_rate")

	configuration := &trainer.ConfigurationError{Epoch: 2, Step: 0, Err: errors.New("dataset exhausted")}
	assert.Equal(t, "configuration error (epoch 2, step 0): dataset exhausted", describeError(configuration))
}

// writeTestImages writes n small PNG images with different colors in dir.
func writeTestImages(t *testing.T, dir string, n int) {
	require.NoError(t, os.MkdirAll(dir, 0o777))
	for ii := range n {
		level := uint8(40 + ii*60)
		img := imaging.New(12, 10, color.NRGBA{R: level, G: 255 - level, B: level / 2, A: 255})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, fmt.Sprintf("img_%d.png", ii))))
	}
}

func countLines(t *testing.T, filePath string) int {
	f, err := os.Open(filePath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		count++
	}
	require.NoError(t, scanner.Err())
	return count
}

func TestTrainEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end training in short mode")
	}
	dataPath := t.TempDir()
	writeTestImages(t, dataPath, 3)
	layout := jobdir.New(t.TempDir())
	require.NoError(t, layout.Prepare())

	backend, err := simplego.New("")
	require.NoError(t, err)
	ctx := createDefaultContext()
	ctx.SetParams(map[string]any{
		mst.ParamImageSize:    8,
		mst.ParamLevels:       2,
		mst.ParamBaseChannels: 2,
		"num_epochs":          2,
		"steps_per_epoch":     1,
		"batch_size":          1,
		"data_parallelism":    2,
		"data_prefetch":       2,
		"plots_period":        1,
	})

	tr, err := newTrainer(ctx, backend, layout, dataPath)
	require.NoError(t, err)
	state, err := tr.WithOutput(io.Discard).Run()
	require.NoError(t, err)
	assert.Equal(t, 2, state.GlobalStep)
	assert.Zero(t, state.IOFailures)

	for epoch := range 2 {
		assert.FileExists(t, filepath.Join(layout.Weights, mst.DecoderWeightsFileName(epoch)))
		assert.FileExists(t, filepath.Join(layout.TestOutput, telemetry.ComparisonFileName(epoch)))
	}
	weights, err := filepath.Glob(filepath.Join(layout.Weights, "decoder_epoch_*.bin"))
	require.NoError(t, err)
	assert.Len(t, weights, 2)
	comparisons, err := filepath.Glob(filepath.Join(layout.TestOutput, "*.png"))
	require.NoError(t, err)
	assert.Len(t, comparisons, 2)

	// One line per tag (loss, content_loss, style_loss) per epoch.
	assert.Equal(t, 6, countLines(t, filepath.Join(layout.Tensorboard, telemetry.ScalarsFileName)))
	assert.FileExists(t, filepath.Join(layout.Tensorboard, telemetry.CSVFileName))
}

func TestFailedWritesMetric(t *testing.T) {
	cfg := trainer.Config{BatchSize: 1, NumEpochs: 1, StepsPerEpoch: 1, WeightsDir: t.TempDir()}
	tr := trainer.New(nil, nil, nil, cfg)
	name, value := failedWritesMetric(tr)()
	assert.Equal(t, "Failed writes", name)
	assert.Equal(t, "0", value)
}
