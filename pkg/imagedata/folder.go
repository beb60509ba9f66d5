// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagedata provides the training data of the MST decoder: pairs of (content, style) images read from a
// folder, prepared in parallel, batched, and completed with the stylized features computed by the model.
package imagedata

import (
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sub-directories of the data path with the content and the style images. If absent, both are drawn from the
// whole data path.
const (
	ContentDir = "content"
	StyleDir   = "style"
)

// imageExtensions recognized when scanning the data path.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff"}

// ImageFolder implements train.Dataset, yielding one random (content, style) pair of images at a time.
//
// Images are resized and center-cropped to size×size pixels. Each Yield returns two inputs, content and style,
// each shaped [size, size, 3], float32 with values in [0, 1].
//
// It is safe for concurrent use, so it can be parallelized with datasets.CustomParallel.
type ImageFolder struct {
	dir                      string
	contentPaths, stylePaths []string
	size                     int
	seed                     uint64
	limit                    int

	mu      sync.Mutex
	rng     *rand.Rand
	yielded int
}

var (
	_ train.Dataset      = (*ImageFolder)(nil)
	_ train.HasShortName = (*ImageFolder)(nil)
)

// NewImageFolder scans dir for images. See ContentDir and StyleDir for how content and style images are
// separated.
//
// It returns a *trainer.ConfigurationError if dir doesn't exist or has no images.
func NewImageFolder(dir string, size int, seed uint64) (*ImageFolder, error) {
	if size <= 0 {
		return nil, trainer.NewConfigurationError("image size must be > 0, got %d", size)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, trainer.NewConfigurationError("datapath %q: %v", dir, err)
	}
	if !info.IsDir() {
		return nil, trainer.NewConfigurationError("datapath %q is not a directory", dir)
	}

	f := &ImageFolder{dir: dir, size: size, seed: seed}
	contentDir, styleDir := filepath.Join(dir, ContentDir), filepath.Join(dir, StyleDir)
	if isDir(contentDir) && isDir(styleDir) {
		if f.contentPaths, err = scanImages(contentDir); err != nil {
			return nil, err
		}
		if f.stylePaths, err = scanImages(styleDir); err != nil {
			return nil, err
		}
	} else {
		if f.contentPaths, err = scanImages(dir); err != nil {
			return nil, err
		}
		f.stylePaths = f.contentPaths
	}
	if len(f.contentPaths) == 0 || len(f.stylePaths) == 0 {
		return nil, trainer.NewConfigurationError("datapath %q has no images (%d content, %d style); "+
			"recognized extensions are %s", dir, len(f.contentPaths), len(f.stylePaths),
			strings.Join(imageExtensions, ", "))
	}
	klog.V(1).Infof("datapath %q: %d content images, %d style images", dir, len(f.contentPaths), len(f.stylePaths))
	f.Reset()
	return f, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// scanImages returns the sorted paths of all images under dir, recursively.
func scanImages(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path))) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &trainer.ConfigurationError{Epoch: -1, Step: -1, Err: errors.Wrapf(err, "scanning %q", dir)}
	}
	slices.Sort(paths)
	return paths, nil
}

// Limit makes the dataset finite: after n pairs Yield returns io.EOF, until Reset is called.
// If n <= 0 (the default) it repeats forever.
//
// It returns the ImageFolder, so calls can be cascaded.
func (f *ImageFolder) Limit(n int) *ImageFolder {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = n
	return f
}

// NumContent returns the number of content images found.
func (f *ImageFolder) NumContent() int { return len(f.contentPaths) }

// NumStyle returns the number of style images found.
func (f *ImageFolder) NumStyle() int { return len(f.stylePaths) }

// Name implements train.Dataset.
func (f *ImageFolder) Name() string { return "mst-images" }

// ShortName implements train.HasShortName.
func (f *ImageFolder) ShortName() string { return "img" }

// Reset implements train.Dataset. It restarts the random pairing from the seed.
func (f *ImageFolder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rng = rand.New(rand.NewPCG(f.seed, uint64(len(f.contentPaths))<<32|uint64(len(f.stylePaths))))
	f.yielded = 0
}

// nextPair picks the next content and style paths. Concurrency safe.
func (f *ImageFolder) nextPair() (contentPath, stylePath string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit > 0 && f.yielded >= f.limit {
		return "", "", io.EOF
	}
	f.yielded++
	contentPath = f.contentPaths[f.rng.IntN(len(f.contentPaths))]
	stylePath = f.stylePaths[f.rng.IntN(len(f.stylePaths))]
	return
}

// Yield implements train.Dataset.
func (f *ImageFolder) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	spec = f
	contentPath, stylePath, err := f.nextPair()
	if err != nil {
		return
	}
	content, err := f.load(contentPath)
	if err != nil {
		return
	}
	style, err := f.load(stylePath)
	if err != nil {
		_ = content.FinalizeAll()
		return
	}
	inputs = []*tensors.Tensor{content, style}
	return
}

// load reads the image, resizes and center-crops it to size×size, and converts it to a tensor.
func (f *ImageFolder) load(path string) (*tensors.Tensor, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %q", path)
	}
	img = imaging.Fill(img, f.size, f.size, imaging.Center, imaging.Linear)
	return images.ToTensor(dtypes.Float32).Single(img), nil
}
