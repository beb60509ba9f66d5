// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package jobdir defines the layout of a training job directory:
//
//	<root>/weights/      decoder snapshots, one per epoch
//	<root>/tensorboard/  scalar summaries and loss charts
//	<root>/test_output/  comparison images, one per epoch
package jobdir

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/mst/pkg/trainer"
	"k8s.io/klog/v2"
)

// Sub-directories of the job directory.
const (
	WeightsDir     = "weights"
	TensorboardDir = "tensorboard"
	TestOutputDir  = "test_output"
)

// remotePrefixes are URI schemes of object stores: local writers can't reach them.
var remotePrefixes = []string{"gs://", "s3://"}

// IsRemote returns whether path points to an object store rather than the local filesystem.
func IsRemote(path string) bool {
	for _, prefix := range remotePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Layout holds the paths of a job directory.
type Layout struct {
	Root, Weights, Tensorboard, TestOutput string

	// Remote is set when Root is an object store URI, see IsRemote.
	Remote bool
}

// New derives the layout of the job directory root. Nothing is created, see Prepare.
func New(root string) *Layout {
	l := &Layout{Root: root, Remote: IsRemote(root)}
	l.setPaths()
	return l
}

func (l *Layout) setPaths() {
	if l.Remote {
		root := strings.TrimSuffix(l.Root, "/")
		l.Weights = root + "/" + WeightsDir
		l.Tensorboard = root + "/" + TensorboardDir
		l.TestOutput = root + "/" + TestOutputDir
		return
	}
	l.Weights = filepath.Join(l.Root, WeightsDir)
	l.Tensorboard = filepath.Join(l.Root, TensorboardDir)
	l.TestOutput = filepath.Join(l.Root, TestOutputDir)
}

// Dirs returns the three sub-directories.
func (l *Layout) Dirs() []string {
	return []string{l.Weights, l.Tensorboard, l.TestOutput}
}

// Prepare creates the sub-directories and checks they are writable.
//
// A leading "~" in a local root is replaced by the user's home directory. For remote roots nothing is created:
// the writers of this program only write to the local filesystem, so their outputs will fail (and be logged)
// without aborting training.
//
// Failures are returned as *trainer.ConfigurationError.
func (l *Layout) Prepare() error {
	if l.Remote {
		klog.Warningf("job directory %q is remote: directories are not created and local writers will fail", l.Root)
		return nil
	}
	root, err := fsutil.ReplaceTildeInDir(l.Root)
	if err != nil {
		return trainer.NewConfigurationError("job directory %q: %v", l.Root, err)
	}
	l.Root = root
	l.setPaths()
	for _, dir := range l.Dirs() {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return trainer.NewConfigurationError("creating job directory %q: %v", dir, err)
		}
		probe, err := os.CreateTemp(dir, ".write_probe_*")
		if err != nil {
			return trainer.NewConfigurationError("job directory %q is not writable: %v", dir, err)
		}
		probePath := probe.Name()
		_ = probe.Close()
		if err := os.Remove(probePath); err != nil {
			return trainer.NewConfigurationError("removing write probe %q: %v", probePath, err)
		}
	}
	klog.V(1).Infof("job directory %q ready", l.Root)
	return nil
}
