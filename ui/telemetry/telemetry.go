// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package telemetry implements the trainer.Sink of the MST trainer: it records the per-epoch scalar summaries
// as JSON lines, renders the side-by-side comparison images, and regenerates loss charts (HTML and PNG) and a
// CSV export from the recorded summaries.
package telemetry

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/mst/pkg/jobdir"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// File names within the job directory sub-directories.
const (
	ScalarsFileName = "scalars.jsonl"
	HTMLFileName    = "losses.html"
	PNGFileName     = "losses.png"
	CSVFileName     = "scalars.csv"
)

// ParamPlotsPeriod is the number of epochs between regenerations of the charts. Default 10.
const ParamPlotsPeriod = "plots_period"

// Scalar is one recorded summary value.
type Scalar struct {
	// Run identifies the training process that recorded the value.
	Run string `json:"run"`

	// Tag is the metric name: "loss", "content_loss" or "style_loss".
	Tag string `json:"tag"`

	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`

	// WallTime in seconds since the Unix epoch.
	WallTime float64 `json:"wall_time"`
}

// ComparisonFileName returns the name of the comparison image of the given epoch.
func ComparisonFileName(epoch int) string {
	return fmt.Sprintf("epoch_%05d.png", epoch)
}

// Sink implements trainer.Sink, writing to the job directory layout.
type Sink struct {
	layout *jobdir.Layout
	run    string

	mu sync.Mutex
}

var _ trainer.Sink = (*Sink)(nil)

// New creates a sink writing under the given layout, with a new run identifier.
func New(layout *jobdir.Layout) *Sink {
	return &Sink{layout: layout, run: uuid.NewString()}
}

// Run returns the identifier of this run, recorded with every scalar.
func (s *Sink) Run() string { return s.run }

// ScalarsPath returns the path of the JSON lines file with the scalar summaries.
func (s *Sink) ScalarsPath() string { return filepath.Join(s.layout.Tensorboard, ScalarsFileName) }

// WriteScalars implements trainer.Sink: it appends one JSON line per scalar.
func (s *Sink) WriteScalars(epoch int, scalars []trainer.Scalar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	filePath := s.ScalarsPath()
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
	if err != nil {
		return errors.Wrapf(err, "failed to open scalars file %q for append", filePath)
	}
	enc := json.NewEncoder(f)
	wallTime := float64(time.Now().UnixNano()) / 1e9
	for _, scalar := range scalars {
		err = enc.Encode(Scalar{Run: s.run, Tag: scalar.Tag, Epoch: epoch, Value: scalar.Value, WallTime: wallTime})
		if err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "failed to encode scalar %q of epoch %d", scalar.Tag, epoch)
		}
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close scalars file %q", filePath)
	}
	return nil
}

// firstImage converts the first example of a [batch, height, width, channels] tensor with values in [0, 1].
func firstImage(t *tensors.Tensor) (img image.Image, err error) {
	if t == nil || t.Rank() != 4 || t.Shape().Dimensions[0] == 0 {
		return nil, errors.Errorf("expected a non-empty batch of images, got %v", t)
	}
	err = exceptions.TryCatch[error](func() {
		img = images.ToImage().MaxValue(1.0).Batch(t)[0]
	})
	return
}

// RenderComparison implements trainer.Sink: it writes test_output/epoch_%05d.png with the first reconstructed,
// content and style images side by side.
func (s *Sink) RenderComparison(epoch int, reconstructed, content, style *tensors.Tensor) error {
	var parts []image.Image
	for _, t := range []*tensors.Tensor{reconstructed, content, style} {
		img, err := firstImage(t)
		if err != nil {
			return errors.WithMessagef(err, "epoch %d comparison", epoch)
		}
		parts = append(parts, img)
	}
	width, height := 0, 0
	for _, img := range parts {
		width += img.Bounds().Dx()
		height = max(height, img.Bounds().Dy())
	}
	canvas := imaging.New(width, height, image.Black)
	x := 0
	for _, img := range parts {
		canvas = imaging.Paste(canvas, img, image.Pt(x, 0))
		x += img.Bounds().Dx()
	}
	filePath := filepath.Join(s.layout.TestOutput, ComparisonFileName(epoch))
	if err := imaging.Save(canvas, filePath); err != nil {
		return errors.Wrapf(err, "failed to save comparison image %q", filePath)
	}
	return nil
}

// Flush regenerates the HTML and PNG loss charts and the CSV export from all the recorded scalars.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteCharts(s.layout.Tensorboard)
}

// WriteCharts regenerates losses.html, losses.png and scalars.csv in dir from dir/scalars.jsonl.
func WriteCharts(dir string) error {
	scalars, err := LoadScalars(filepath.Join(dir, ScalarsFileName))
	if err != nil {
		return err
	}
	if len(scalars) == 0 {
		klog.V(1).Infof("no scalars recorded in %q yet, skipping charts", dir)
		return nil
	}
	series := GroupSeries(scalars)
	if err = WriteHTMLChart(filepath.Join(dir, HTMLFileName), series); err != nil {
		return err
	}
	if err = WritePNGChart(filepath.Join(dir, PNGFileName), series); err != nil {
		return err
	}
	return WriteCSV(filepath.Join(dir, CSVFileName), scalars)
}

// LoadScalars parses all scalars in a JSON lines file written by WriteScalars.
// A missing file returns no scalars and no error.
func LoadScalars(filePath string) ([]Scalar, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read scalars file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var scalars []Scalar
	for {
		var scalar Scalar
		err := dec.Decode(&scalar)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding scalars file %q", filePath)
		}
		scalars = append(scalars, scalar)
	}
	return scalars, nil
}

// Attach registers the sink's chart regeneration with the trainer: every plots_period epochs (read from ctx)
// and at the end of the run. Failures are logged and training continues.
func (s *Sink) Attach(ctx *context.Context, t *trainer.Trainer) {
	period := context.GetParamOr(ctx, ParamPlotsPeriod, 10)
	flush := func(t *trainer.Trainer) error {
		if err := s.Flush(); err != nil {
			klog.Warningf("failed to regenerate charts (training continues): %+v", err)
		}
		return nil
	}
	trainer.EveryNEpochs(t, period, "telemetry charts", 100, flush)
	t.OnEnd("telemetry charts", 100, flush)
}
