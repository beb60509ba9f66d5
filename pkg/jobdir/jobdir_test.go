// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package jobdir

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/gomlx/mst/pkg/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("gs://bucket/job"))
	assert.True(t, IsRemote("s3://bucket/job"))
	assert.False(t, IsRemote("./trainer/data/"))
	assert.False(t, IsRemote("/tmp/gs://odd"))
}

func TestPrepare(t *testing.T) {
	root := filepath.Join(t.TempDir(), "job")
	l := New(root)
	assert.Equal(t, filepath.Join(root, "weights"), l.Weights)
	assert.Equal(t, filepath.Join(root, "tensorboard"), l.Tensorboard)
	assert.Equal(t, filepath.Join(root, "test_output"), l.TestOutput)
	require.NoError(t, l.Prepare())
	for _, dir := range l.Dirs() {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "write probe left in %s", dir)
	}
	// Idempotent.
	require.NoError(t, l.Prepare())
}

func TestPrepareRemote(t *testing.T) {
	l := New("gs://bucket/job/")
	assert.True(t, l.Remote)
	assert.Equal(t, "gs://bucket/job/weights", l.Weights)
	assert.Equal(t, "gs://bucket/job/test_output", l.TestOutput)
	require.NoError(t, l.Prepare())
}

func TestPrepareUnwritable(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for this user")
	}
	parent := t.TempDir()
	require.NoError(t, os.Chmod(parent, 0o555))
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })
	err := New(filepath.Join(parent, "job")).Prepare()
	require.Error(t, err)
	assert.True(t, trainer.IsConfigurationError(err))
}

func TestPrepareRootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o666))
	err := New(root).Prepare()
	require.Error(t, err)
	assert.True(t, trainer.IsConfigurationError(err))
}
