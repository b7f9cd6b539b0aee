package filesystem

import (
	"archive/tar"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "web01-20240101000000")

	require.NoError(t, CreateDirectory(dir, 0755))
	assert.True(t, IsDirectory(dir))

	err := CreateDirectory(dir, 0755)
	assert.True(t, errors.Is(err, ErrExists))
}

func TestDeleteDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "bundle")
	require.NoError(t, os.MkdirAll(filepath.Join(sub, "nested"), 0755))

	require.NoError(t, DeleteDirectory(sub))
	assert.False(t, IsDirectory(sub))
	assert.Error(t, DeleteDirectory(sub))
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := SaveFile(dir, "web01.ovf", []byte("<ovf/>"))
	require.NoError(t, err)
	_, err = SaveFile(dir, "disk.qcow2", []byte("x"))
	require.NoError(t, err)

	found, err := FindFiles(dir, "*.ovf")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "web01.ovf")}, found)
}

func TestFileSize(t *testing.T) {
	dir := t.TempDir()
	_, err := SaveFile(dir, "a", make([]byte, 10))
	require.NoError(t, err)
	_, err = SaveFile(dir, "b", make([]byte, 5))
	require.NoError(t, err)

	size, err := FileSize(dir)
	require.NoError(t, err)
	assert.EqualValues(t, 15, size)
}

func TestArchiveRoundTrip(t *testing.T) {
	root := t.TempDir()
	bundle := filepath.Join(root, "web01-20240101000000")
	require.NoError(t, os.MkdirAll(bundle, 0755))

	files := map[string][]byte{
		"web01.ovf":   []byte(`<ovf:Envelope xmlns:ovf="http://schemas.dmtf.org/ovf/envelope/1/"/>`),
		"d1.qcow2":    {0x51, 0x46, 0x49, 0xfb, 0x00, 0x01, 0x02},
		"d2.qcow2":    make([]byte, 64*1024),
		"sub/extra.y": []byte("k: v\n"),
	}
	for name, data := range files {
		path := filepath.Join(bundle, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, data, 0644))
	}

	archive := bundle + ArchiveExt
	require.NoError(t, Archive(bundle, archive))

	out := t.TempDir()
	require.NoError(t, Extract(archive, out))

	for name, data := range files {
		got, err := os.ReadFile(filepath.Join(out, "web01-20240101000000", name))
		require.NoError(t, err, name)
		assert.Equal(t, data, got, name)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(archive)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape", Mode: 0644, Size: 1, Typeflag: tar.TypeReg}))
	_, err = tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	err = Extract(archive, t.TempDir())
	assert.True(t, errors.Is(err, ErrUnsafePath))
}

func TestExtractMissingArchive(t *testing.T) {
	err := Extract(filepath.Join(t.TempDir(), "missing.tar.gz"), t.TempDir())
	assert.Error(t, err)
}
