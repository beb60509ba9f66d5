// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mst

import (
	"encoding/gob"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/mst/pkg/trainer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// weightsFileHeader identifies the weights file format.
const weightsFileHeader = "mst_weights_v1"

// weightsHeader is the first gob value in a weights file. It's followed by one serialized tensor per name.
type weightsHeader struct {
	Header string

	// Names are the variables parameter names (scope + name, see context.VariableParameterNameFromScopeAndName),
	// in the order the tensors are stored.
	Names []string
}

// DecoderWeightsFileName returns the file name of the decoder snapshot of the given epoch.
func DecoderWeightsFileName(epoch int) string {
	return fmt.Sprintf("decoder_epoch_%05d.bin", epoch)
}

// SaveWeights writes the current values of all variables under the absolute scope to filePath.
//
// The file is first written to a temporary file in the same directory and then renamed, so a partially
// written snapshot never replaces a previous one.
func SaveWeights(ctx *context.Context, scope, filePath string) error {
	scopeCtx := ctx.InAbsPath(scope)
	var vars []*context.Variable
	for v := range scopeCtx.IterVariablesInScope() {
		vars = append(vars, v)
	}
	if len(vars) == 0 {
		return errors.Errorf("no variables in scope %q to save", scope)
	}
	slices.SortFunc(vars, func(a, b *context.Variable) int { return strings.Compare(a.ParameterName(), b.ParameterName()) })

	header := weightsHeader{Header: weightsFileHeader, Names: make([]string, len(vars))}
	values := make([]*tensors.Tensor, len(vars))
	for ii, v := range vars {
		header.Names[ii] = v.ParameterName()
		value, err := v.Value()
		if err != nil {
			return errors.WithMessagef(err, "reading variable %q", v.ParameterName())
		}
		if value == nil {
			return errors.Errorf("variable %q has no value yet", v.ParameterName())
		}
		values[ii] = value
	}

	f, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for %q", filePath)
	}
	tmpPath := f.Name()
	removeTmp := func() { _ = os.Remove(tmpPath) }

	enc := gob.NewEncoder(f)
	if err = enc.Encode(&header); err != nil {
		_ = f.Close()
		removeTmp()
		return errors.Wrapf(err, "encoding header of %q", filePath)
	}
	for ii, value := range values {
		if err = value.GobSerialize(enc); err != nil {
			_ = f.Close()
			removeTmp()
			return errors.WithMessagef(err, "serializing variable %q to %q", header.Names[ii], filePath)
		}
	}
	if err = f.Close(); err != nil {
		removeTmp()
		return errors.Wrapf(err, "closing %q", tmpPath)
	}
	if err = os.Rename(tmpPath, filePath); err != nil {
		removeTmp()
		return errors.Wrapf(err, "renaming %q to %q", tmpPath, filePath)
	}
	return nil
}

// LoadWeights reads a file written by SaveWeights and returns the tensors indexed by the variables parameter
// names.
func LoadWeights(filePath string) (map[string]*tensors.Tensor, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening weights file")
	}
	defer func() { _ = f.Close() }()

	dec := gob.NewDecoder(f)
	var header weightsHeader
	if err = dec.Decode(&header); err != nil {
		return nil, errors.Wrapf(err, "decoding header of %q", filePath)
	}
	if header.Header != weightsFileHeader {
		return nil, errors.Errorf("%q is not a weights file (header %q)", filePath, header.Header)
	}
	values := make(map[string]*tensors.Tensor, len(header.Names))
	for _, name := range header.Names {
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			for _, t := range values {
				_ = t.FinalizeAll()
			}
			return nil, errors.WithMessagef(err, "deserializing variable %q from %q", name, filePath)
		}
		values[name] = value
	}
	return values, nil
}

// weightsLoader implements context.Loader with values read from a weights file.
//
// Loaders are chained: the previously installed loader has priority. Values are consumed: once handed to the
// context, they are removed from the loader.
type weightsLoader struct {
	prev   context.Loader
	values map[string]*tensors.Tensor
}

// LoadVariable implements context.Loader.
func (l *weightsLoader) LoadVariable(ctx *context.Context, scope, name string) (value *tensors.Tensor, found bool) {
	if l.prev != nil {
		value, found = l.prev.LoadVariable(ctx, scope, name)
		if found {
			return
		}
	}
	key := context.VariableParameterNameFromScopeAndName(scope, name)
	value, found = l.values[key]
	if found {
		delete(l.values, key)
	}
	return
}

// DeleteVariable implements context.Loader.
func (l *weightsLoader) DeleteVariable(ctx *context.Context, scope, name string) error {
	if l.prev != nil {
		if err := l.prev.DeleteVariable(ctx, scope, name); err != nil {
			return err
		}
	}
	delete(l.values, context.VariableParameterNameFromScopeAndName(scope, name))
	return nil
}

// SeedFromFile installs a loader in ctx that provides the values in filePath for the variables under the absolute
// scope (e.g. "/decoder"), when they are created.
//
// Values in the file outside the scope are ignored. A missing or unreadable file is a *trainer.ConfigurationError.
func SeedFromFile(ctx *context.Context, filePath, scope string) error {
	values, err := LoadWeights(filePath)
	if err != nil {
		return &trainer.ConfigurationError{Epoch: -1, Step: -1,
			Err: errors.WithMessagef(err, "seeding %q from %q", scope, filePath)}
	}
	scopePrefix := context.VariableParameterPrefix + path.Clean(scope)
	if !strings.HasSuffix(scopePrefix, context.ScopeSeparator) {
		scopePrefix += context.ScopeSeparator
	}
	for key, value := range values {
		if !strings.HasPrefix(key, scopePrefix) {
			klog.V(1).Infof("ignoring %q from %q: not under scope %q", key, filePath, scope)
			_ = value.FinalizeAll()
			delete(values, key)
		}
	}
	if len(values) == 0 {
		return &trainer.ConfigurationError{Epoch: -1, Step: -1,
			Err: errors.Errorf("%q has no values for scope %q", filePath, scope)}
	}
	klog.V(1).Infof("seeding %d variables of scope %q from %q", len(values), scope, filePath)
	ctx.SetLoader(&weightsLoader{prev: ctx.Loader(), values: values})
	return nil
}
