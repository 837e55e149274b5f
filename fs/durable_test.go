package fs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkos11/neon/fs"
)

func TestWriteDurablyCreatesFileAndNoTemp(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "layer-0000000100000000-0000000200000000")

	require.NoError(t, fs.WriteDurably(dst, strings.NewReader("layer bytes")))

	contents, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "layer bytes", string(contents))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must not survive a successful write")
}

func TestCleanupTempFilesRemovesOrphans(t *testing.T) {
	dir := t.TempDir()
	orphan := filepath.Join(dir, "layer-abc"+fs.TempSuffix)
	kept := filepath.Join(dir, "layer-def")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(kept, []byte("complete"), 0o644))

	require.NoError(t, fs.CleanupTempFiles(dir))

	_, err := os.Stat(orphan)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(kept)
	require.NoError(t, err)
}
