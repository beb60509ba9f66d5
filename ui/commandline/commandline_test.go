// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestContext() *context.Context {
	ctx := context.New()
	ctx.SetParam("x", 11.0)
	ctx.SetParam("y", 7)
	ctx.SetParam("z", false)
	ctx.SetParam("s", "foo")
	ctx.SetParam("seed", int64(42))
	ctx.SetParam("list_int", []int{})
	ctx.SetParam("list_float", []float64{})
	ctx.SetParam("list_str", []string{})
	return ctx
}

func TestParseContextSettings(t *testing.T) {
	ctx := createTestContext()

	paramsSet, err := ParseContextSettings(ctx,
		"x=13;/a/z=true;/a/b/y=3;s=bar;seed=1_000;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "/a/z", "/a/b/y", "s", "seed", "list_int", "list_float", "list_str"}, paramsSet)
	assert.Equal(t, 13.0, context.GetParamOr(ctx, "x", 0.0))
	assert.Equal(t, 7, context.GetParamOr(ctx, "y", 0))
	assert.Equal(t, 7, context.GetParamOr(ctx.In("a"), "y", 0))
	assert.Equal(t, 3, context.GetParamOr(ctx.In("a").In("b"), "y", 0))
	assert.False(t, context.GetParamOr(ctx, "z", true))
	assert.True(t, context.GetParamOr(ctx.In("a"), "z", false))
	assert.Equal(t, "bar", context.GetParamOr(ctx, "s", ""))
	assert.Equal(t, int64(1000), context.GetParamOr(ctx, "seed", int64(0)))
	assert.Equal(t, []int{1, 3, 7}, context.GetParamOr(ctx, "list_int", []int{}))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, context.GetParamOr(ctx, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, context.GetParamOr(ctx, "list_str", []string{}))

	modified := SprintModifiedContextSettings(ctx, append(paramsSet, "x"))
	assert.Equal(t, 1, strings.Count(modified, `"x"`), "duplicates are removed")

	for _, bad := range []string{"q=3", "y=3.14", "a/abc=3.14", "x"} {
		_, err = ParseContextSettings(ctx, bad)
		assert.Error(t, err, bad)
	}

	// Known in a sub-scope only is still unknown.
	ctx.In("c").SetParam("q", 13)
	_, err = ParseContextSettings(ctx, "q=3")
	require.Error(t, err)
}

func TestParseContextSettingsFile(t *testing.T) {
	ctx := createTestContext()
	filePath := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("# Comment\nx=2.5\n\ny=9;s=baz\n"), 0o666))
	paramsSet, err := ParseContextSettings(ctx, "file:"+filePath+";z=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "s", "z"}, paramsSet)
	assert.Equal(t, 2.5, context.GetParamOr(ctx, "x", 0.0))
	assert.Equal(t, 9, context.GetParamOr(ctx, "y", 0))
	assert.Equal(t, "baz", context.GetParamOr(ctx, "s", ""))

	_, err = ParseContextSettings(ctx, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23ms", FormatDuration(1234567*time.Nanosecond))
	assert.Equal(t, "2.5s", FormatDuration(2500*time.Millisecond))
	assert.Equal(t, "12.35µs", FormatDuration(12345*time.Nanosecond))
	assert.Equal(t, "500ns", FormatDuration(500*time.Nanosecond))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

type constantModel struct{}

func (constantModel) TrainStep(batch *trainer.Batch) (trainer.StepResult, error) {
	return trainer.StepResult{
		Reconstructed: tensors.FromShape(batch.Content.Shape()),
		ContentLoss:   2,
		StyleLoss:     100,
		Loss:          3,
	}, nil
}

func (constantModel) SaveDecoderWeights(string, int) error { return nil }

type zerosProvider struct{}

func (zerosProvider) Name() string { return "zeros" }

func (zerosProvider) Next() (*trainer.Batch, error) {
	images := func() *tensors.Tensor { return tensors.FromShape(shapes.Make(dtypes.Float32, 1, 4, 4, 3)) }
	return &trainer.Batch{
		Features: tensors.FromShape(shapes.Make(dtypes.Float32, 1, 2, 2, 4)),
		Content:  images(),
		Style:    images(),
	}, nil
}

func TestProgressBar(t *testing.T) {
	for _, inNotebook := range []bool{false, true} {
		cfg := trainer.Config{BatchSize: 1, NumEpochs: 2, StepsPerEpoch: 3, WeightsDir: t.TempDir()}
		tr := trainer.New(constantModel{}, zerosProvider{}, nil, cfg).WithOutput(io.Discard)
		var out bytes.Buffer
		extraCalls := 0
		attachProgressBar(tr, &out, inNotebook, func() (string, string) {
			extraCalls++
			return "Extra", "value"
		})
		state, err := tr.Run()
		require.NoError(t, err)
		assert.Equal(t, 6, state.GlobalStep)

		display := out.String()
		if inNotebook {
			assert.Contains(t, display, "[loss=3.000]")
			assert.Zero(t, extraCalls)
		} else {
			// The last step of each epoch is always displayed.
			assert.Contains(t, display, "2 of 2")
			assert.Contains(t, display, "6 of 6")
			assert.Contains(t, display, "style_loss")
			assert.GreaterOrEqual(t, extraCalls, 2)
		}
	}
}

func TestReportTraining(t *testing.T) {
	cfg := trainer.Config{BatchSize: 1, NumEpochs: 1, StepsPerEpoch: 2, WeightsDir: t.TempDir()}
	tr := trainer.New(constantModel{}, zerosProvider{}, nil, cfg).WithOutput(io.Discard)
	state, err := tr.Run()
	require.NoError(t, err)
	var out bytes.Buffer
	ReportTraining(&out, state)
	report := out.String()
	assert.Contains(t, report, "completed")
	assert.Contains(t, report, "Last epoch content_loss")
	assert.Contains(t, report, "100.000")
	assert.NotContains(t, report, "Failed writes")
}
