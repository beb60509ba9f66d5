// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// mst_scalars prints the scalar summaries recorded by mst_trainer in a job directory, and optionally regenerates
// the loss charts and the CSV export.
//
// Usage:
//
//	mst_scalars [--plots] [--tag=loss] <job-dir> [<job-dir>...]
//
// Scalars of several job directories are shown in the same table, with a column for the run.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/mst/pkg/jobdir"
	"github.com/gomlx/mst/ui/telemetry"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagPlots = flag.Bool("plots", false, "Regenerate losses.html, losses.png and scalars.csv in each <job-dir>/tensorboard.")
	flagTag   = flag.String("tag", "", "If set, only show scalars with this tag (e.g. \"loss\").")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <job-dir> [<job-dir>...]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	var all []telemetry.Scalar
	for _, root := range flag.Args() {
		root = must.M1(fsutil.ReplaceTildeInDir(root))
		dir := jobdir.New(root).Tensorboard
		scalars := must.M1(telemetry.LoadScalars(filepath.Join(dir, telemetry.ScalarsFileName)))
		if len(scalars) == 0 {
			klog.Warningf("no scalars recorded in %q", dir)
			continue
		}
		if *flagPlots {
			must.M(telemetry.WriteCharts(dir))
			fmt.Printf("Charts regenerated in %s\n", dir)
		}
		all = append(all, filterTag(scalars, *flagTag)...)
	}
	if len(all) == 0 {
		os.Exit(1)
	}
	fmt.Println(telemetry.Table(all))
}

// filterTag returns the scalars with the given tag, or all of them if tag is empty.
func filterTag(scalars []telemetry.Scalar, tag string) []telemetry.Scalar {
	if tag == "" {
		return scalars
	}
	var filtered []telemetry.Scalar
	for _, s := range scalars {
		if s.Tag == tag {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
