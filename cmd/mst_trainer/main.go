// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// mst_trainer trains the decoder of the MST style transfer model on a folder of images.
//
// Example:
//
//	mst_trainer --datapath=~/data/mst --job-dir=~/jobs/mst_01 --progress --set="batch_size=4;steps_per_epoch=100"
//
// The images are read from <datapath>/content and <datapath>/style, or from <datapath> itself for both.
// Decoder snapshots, scalar summaries, loss charts and comparison images are written under the job directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/mst/pkg/imagedata"
	"github.com/gomlx/mst/pkg/jobdir"
	"github.com/gomlx/mst/pkg/mst"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/gomlx/mst/ui/commandline"
	"github.com/gomlx/mst/ui/telemetry"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// backendEnvVar configures the backend created by backends.New.
const backendEnvVar = "GOMLX_BACKEND"

var (
	flagDataPath       = flag.String("datapath", "", "Folder with the training images (required).")
	flagJobDir         = flag.String("job-dir", "./trainer/data/", "Job directory: weights, summaries and comparison images are written under it.")
	flagWeights        = flag.String("weights", "", "Optional decoder weights file to start from, as saved in <job-dir>/weights.")
	flagEncoderWeights = flag.String("encoder_weights", "", "Optional pretrained values of the (frozen) encoder.")
	flagProgress       = flag.Bool("progress", false, "Display a progress bar with the running losses.")
	flagBackend        = flag.String("backend", "", "GoMLX backend configuration. Defaults to $"+backendEnvVar+" or auto-detection.")
)

// createDefaultContext with the model, loop, data pipeline and telemetry hyperparameters.
func createDefaultContext() *context.Context {
	ctx := mst.CreateDefaultContext()
	ctx.SetParams(map[string]any{
		imagedata.ParamParallelism: 32,
		imagedata.ParamPrefetch:    8,
		telemetry.ParamPlotsPeriod: 10,
	})
	return ctx
}

func main() {
	klog.InitFlags(nil)
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	flag.Parse()
	paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
	if err != nil {
		klog.Exitf("Failed to parse --set: %+v", err)
	}
	if len(paramsSet) > 0 {
		fmt.Printf("Hyperparameters set:\n%s\n", commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}
	if *flagBackend != "" {
		must.M(os.Setenv(backendEnvVar, *flagBackend))
	}

	err = run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Training failed: %s\n", describeError(err))
		klog.V(1).Infof("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// run sets up the model, the data pipeline and the telemetry, and trains.
func run(ctx *context.Context) error {
	if *flagDataPath == "" {
		return trainer.NewConfigurationError("--datapath is required")
	}
	layout := jobdir.New(*flagJobDir)
	if err := layout.Prepare(); err != nil {
		return err
	}

	backend, err := backends.New()
	if err != nil {
		return errors.WithMessage(err, "failed to create backend")
	}
	fmt.Printf("Backend: %s\n", backend.Name())

	if *flagWeights != "" {
		if err = mst.SeedFromFile(ctx, *flagWeights, context.ScopeSeparator+mst.DecoderScope); err != nil {
			return err
		}
	}
	if *flagEncoderWeights != "" {
		if err = mst.SeedFromFile(ctx, *flagEncoderWeights, context.ScopeSeparator+mst.EncoderScope); err != nil {
			return err
		}
	}
	t, err := newTrainer(ctx, backend, layout, *flagDataPath)
	if err != nil {
		return err
	}
	if *flagProgress {
		commandline.AttachProgressBar(t, failedWritesMetric(t))
	}
	stopOnSignal(t)

	state, err := t.Run()
	if err != nil {
		return err
	}
	commandline.ReportTraining(os.Stdout, state)
	return nil
}

// newTrainer creates the model, the image pipeline over dataPath and the telemetry sink, and returns the trainer
// wiring them together.
func newTrainer(ctx *context.Context, backend backends.Backend, layout *jobdir.Layout, dataPath string) (*trainer.Trainer, error) {
	seed := context.GetParamOr(ctx, mst.ParamSeed, 42)
	if err := ctx.SetRNGStateFromSeed(int64(seed)); err != nil {
		return nil, errors.WithMessage(err, "failed to seed the random number generator")
	}
	model, err := mst.New(backend, ctx)
	if err != nil {
		return nil, err
	}

	pipelineConfig := imagedata.ConfigFromContext(ctx)
	source, err := imagedata.NewImageFolder(dataPath, pipelineConfig.ImageSize, uint64(seed))
	if err != nil {
		return nil, err
	}
	fmt.Printf("Images: %d content, %d style\n", source.NumContent(), source.NumStyle())
	provider, err := imagedata.NewPipeline(backend, source, model, pipelineConfig)
	if err != nil {
		return nil, err
	}

	sink := telemetry.New(layout)
	t := trainer.New(model, provider, sink, trainer.ConfigFromContext(ctx, layout.Weights))
	sink.Attach(ctx, t)
	return t, nil
}

// failedWritesMetric displays the number of auxiliary writes that failed so far.
func failedWritesMetric(t *trainer.Trainer) commandline.ExtraMetricFn {
	return func() (name, value string) {
		return "Failed writes", strconv.Itoa(t.State().IOFailures)
	}
}

// stopOnSignal makes the first interrupt stop training at the next epoch boundary. A second one exits.
func stopOnSignal(t *trainer.Trainer) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		klog.Infof("Interrupted: training stops at the end of the current epoch (interrupt again to exit now)")
		t.Stop()
		<-signals
		klog.Flush()
		os.Exit(1)
	}()
}

// describeError returns the message reported to the user on a failed run.
func describeError(err error) string {
	var divergence *trainer.DivergenceError
	if errors.As(err, &divergence) {
		return fmt.Sprintf("%v -- consider a lower %q", err, "learning_rate")
	}
	return err.Error()
}
