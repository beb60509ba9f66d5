// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/mst/pkg/jobdir"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) (*Sink, *jobdir.Layout) {
	layout := jobdir.New(t.TempDir())
	require.NoError(t, layout.Prepare())
	return New(layout), layout
}

func epochScalars(loss float64) []trainer.Scalar {
	return []trainer.Scalar{
		{Tag: trainer.MetricLoss, Value: loss},
		{Tag: trainer.MetricContentLoss, Value: loss / 2},
		{Tag: trainer.MetricStyleLoss, Value: loss * 50},
	}
}

func TestWriteScalars(t *testing.T) {
	sink, _ := newTestSink(t)
	require.NoError(t, sink.WriteScalars(0, epochScalars(4)))
	require.NoError(t, sink.WriteScalars(1, epochScalars(2)))

	contents, err := os.ReadFile(sink.ScalarsPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	assert.Len(t, lines, 6)

	scalars, err := LoadScalars(sink.ScalarsPath())
	require.NoError(t, err)
	require.Len(t, scalars, 6)
	assert.Equal(t, sink.Run(), scalars[0].Run)
	assert.Equal(t, trainer.MetricLoss, scalars[0].Tag)
	assert.Equal(t, 0, scalars[0].Epoch)
	assert.Equal(t, 4.0, scalars[0].Value)
	assert.Equal(t, 1, scalars[5].Epoch)
	assert.Equal(t, 100.0, scalars[5].Value)
	assert.Greater(t, scalars[0].WallTime, 0.0)

	missing, err := LoadScalars(filepath.Join(t.TempDir(), ScalarsFileName))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestRenderComparison(t *testing.T) {
	sink, layout := newTestSink(t)
	batch := func(value float32) *tensors.Tensor {
		data := make([]float32, 2*6*4*3)
		for ii := range data {
			data[ii] = value
		}
		return tensors.FromFlatDataAndDimensions(data, 2, 6, 4, 3)
	}
	require.NoError(t, sink.RenderComparison(3, batch(0), batch(0.5), batch(1)))

	img, err := imaging.Open(filepath.Join(layout.TestOutput, ComparisonFileName(3)))
	require.NoError(t, err)
	assert.Equal(t, 3*4, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
	r, _, _, _ := img.At(11, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r, "style image is the rightmost third")
	r, _, _, _ = img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0), r, "reconstruction is the leftmost third")

	// Not a batch of images.
	err = sink.RenderComparison(4, tensors.FromShape(shapes.Make(dtypes.Float32, 6, 4, 3)), batch(0), batch(0))
	require.Error(t, err)
}

func TestFlush(t *testing.T) {
	sink, layout := newTestSink(t)
	// Nothing recorded: no charts, no error.
	require.NoError(t, sink.Flush())
	_, err := os.Stat(filepath.Join(layout.Tensorboard, HTMLFileName))
	assert.True(t, os.IsNotExist(err))

	for epoch, loss := range []float64{8, 4, 2} {
		require.NoError(t, sink.WriteScalars(epoch, epochScalars(loss)))
	}
	require.NoError(t, sink.Flush())
	for _, name := range []string{HTMLFileName, PNGFileName, CSVFileName} {
		info, err := os.Stat(filepath.Join(layout.Tensorboard, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}

	html, err := os.ReadFile(filepath.Join(layout.Tensorboard, HTMLFileName))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(html), "Plotly.newPlot("))

	csv, err := os.ReadFile(filepath.Join(layout.Tensorboard, CSVFileName))
	require.NoError(t, err)
	csvLines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	assert.Equal(t, "run,tag,epoch,value,wall_time", csvLines[0])
	assert.Len(t, csvLines, 1+9)
}

func TestGroupSeries(t *testing.T) {
	scalars := []Scalar{
		{Run: "b", Tag: "style_loss", Epoch: 1, Value: 3},
		{Run: "a", Tag: "loss", Epoch: 1, Value: 2},
		{Run: "a", Tag: "loss", Epoch: 0, Value: 1},
		{Run: "b", Tag: "loss", Epoch: 0, Value: 5},
		{Run: "a", Tag: "extra", Epoch: 0, Value: 7},
	}
	series := GroupSeries(scalars)
	require.Len(t, series, 3)
	assert.Equal(t, "loss", series[0].Tag)
	assert.Equal(t, "style_loss", series[1].Tag)
	assert.Equal(t, "extra", series[2].Tag)

	require.Len(t, series[0].Lines, 2)
	assert.Equal(t, "a", series[0].Lines[0].Run)
	assert.Equal(t, []float64{0, 1}, series[0].Lines[0].Epochs)
	assert.Equal(t, []float64{1, 2}, series[0].Lines[0].Values)
	assert.Equal(t, "b", series[0].Lines[1].Run)

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, series))
	assert.Contains(t, buf.String(), "plot2")
}

func TestTable(t *testing.T) {
	scalars := []Scalar{
		{Run: "r1", Tag: "loss", Epoch: 0, Value: 1.5},
		{Run: "r1", Tag: "content_loss", Epoch: 0, Value: 1},
		{Run: "r1", Tag: "loss", Epoch: 1, Value: 0.5},
	}
	table := Table(scalars)
	assert.Contains(t, table, "Epoch")
	assert.Contains(t, table, "content_loss")
	assert.Contains(t, table, "1.500000")
	assert.NotContains(t, table, "Run", "single run has no run column")
	assert.Less(t, strings.Index(table, "loss"), strings.Index(table, "content_loss"))

	scalars = append(scalars, Scalar{Run: "r2", Tag: "loss", Epoch: 0, Value: 9})
	assert.Contains(t, Table(scalars), "Run")
}

// staticModel and repeatProvider drive a trainer for a fixed number of epochs.
type staticModel struct{}

func (staticModel) TrainStep(batch *trainer.Batch) (trainer.StepResult, error) {
	return trainer.StepResult{
		Reconstructed: tensors.FromShape(batch.Content.Shape()),
		ContentLoss:   1,
		StyleLoss:     1,
		Loss:          1.01,
	}, nil
}

func (staticModel) SaveDecoderWeights(dir string, epoch int) error { return nil }

type repeatProvider struct{}

func (repeatProvider) Name() string { return "repeat" }

func (repeatProvider) Next() (*trainer.Batch, error) {
	images := func() *tensors.Tensor { return tensors.FromShape(shapes.Make(dtypes.Float32, 1, 4, 4, 3)) }
	return &trainer.Batch{
		Features: tensors.FromShape(shapes.Make(dtypes.Float32, 1, 2, 2, 4)),
		Content:  images(),
		Style:    images(),
	}, nil
}

func TestAttach(t *testing.T) {
	sink, layout := newTestSink(t)
	cfg := trainer.Config{BatchSize: 1, NumEpochs: 3, StepsPerEpoch: 1, WeightsDir: layout.Weights}
	tr := trainer.New(staticModel{}, repeatProvider{}, sink, cfg).WithOutput(io.Discard)
	ctx := context.New()
	ctx.SetParam(ParamPlotsPeriod, 100)
	sink.Attach(ctx, tr)
	_, err := tr.Run()
	require.NoError(t, err)

	// The period is longer than the run, so the charts come from the end-of-training flush.
	scalars, err := LoadScalars(sink.ScalarsPath())
	require.NoError(t, err)
	assert.Len(t, scalars, 9)
	_, err = os.Stat(filepath.Join(layout.Tensorboard, PNGFileName))
	require.NoError(t, err)
	for epoch := range 3 {
		_, err = os.Stat(filepath.Join(layout.TestOutput, ComparisonFileName(epoch)))
		require.NoError(t, err)
	}
}
