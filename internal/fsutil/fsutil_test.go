package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, name := range []string{"b.hcl", "a.hcl", "nested/c.hcl", "readme.md"} {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	files, err := FindFilesByExtension(root, ".hcl")
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(root, "a.hcl"),
		filepath.Join(root, "b.hcl"),
		filepath.Join(root, "nested", "c.hcl"),
	}, files)

	require.Panics(t, func() { _, _ = FindFilesByExtension(root, "") })
}

func TestExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ok, err := Exists(dir)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Exists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCopyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "host-app")
	dst := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(src, []byte("ELF"), 0o755))
	require.NoError(t, os.WriteFile(dst, []byte("stale content"), 0o600))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "ELF", string(data))
	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	require.Error(t, CopyFile(dir, filepath.Join(dir, "x")))
	require.Error(t, CopyFile(filepath.Join(dir, "missing"), dst))
}

func TestCopyFile_SameFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "host-app")
	require.NoError(t, os.WriteFile(src, []byte("ELF-binary-contents"), 0o755))

	require.NoError(t, CopyFile(src, filepath.Join(dir, ".", "host-app")))

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.Equal(t, "ELF-binary-contents", string(data))
}
