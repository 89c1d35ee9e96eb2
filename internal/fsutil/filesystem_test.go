package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseFileSystem(t *testing.T, fsys FileSystem, dir string) {
	t.Helper()

	sub := filepath.Join(dir, "spool")
	require.NoError(t, fsys.MkdirAll(sub, 0o755))
	assert.True(t, fsys.Exists(sub))

	tmp := filepath.Join(sub, "events.jsonl.tmp")
	final := filepath.Join(sub, "events.jsonl")
	require.NoError(t, fsys.WriteFile(tmp, []byte("line\n"), 0o644))
	require.NoError(t, fsys.Rename(tmp, final))
	assert.False(t, fsys.Exists(tmp))

	data, err := fsys.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	require.NoError(t, fsys.Remove(final))
	assert.False(t, fsys.Exists(final))

	_, err = fsys.ReadFile(final)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.True(t, errors.Is(fsys.Remove(final), fs.ErrNotExist))
}

func TestOSFileSystem(t *testing.T) {
	t.Parallel()
	exerciseFileSystem(t, OSFileSystem{}, t.TempDir())
}

func TestMemoryFileSystem(t *testing.T) {
	t.Parallel()
	exerciseFileSystem(t, NewMemoryFileSystem(), "/data")
}

func TestMemoryFileSystem_ReadReturnsCopy(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("/a", []byte("abc"), 0o644))

	data, err := m.ReadFile("/a")
	require.NoError(t, err)
	data[0] = 'x'

	again, err := m.ReadFile("/a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryFileSystem_FailWrites(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	boom := errors.New("disk full")
	m.FailWrites = boom

	err := m.WriteFile("/a", []byte("abc"), 0o644)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, m.Exists("/a"))
}

func TestMemoryFileSystem_RenameMissing(t *testing.T) {
	t.Parallel()
	err := NewMemoryFileSystem().Rename("/missing", "/other")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
