package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracelens/internal/parse"
)

func TestSetupOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	require.NoError(t, SetupOutputDir(dir, false))

	// A second setup without overwrite refuses to clobber.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("x"), 0o644))
	assert.Error(t, SetupOutputDir(dir, false))

	// With overwrite the directory is replaced wholesale.
	require.NoError(t, SetupOutputDir(dir, true))
	_, err := os.Stat(filepath.Join(dir, "stale.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSetupOutputDirRefusesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.Error(t, SetupOutputDir(path, true))
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	files := []parse.File{
		{Path: "compile_directory.json", Content: "{}"},
		{Path: "-_0_0_0/dynamo_output_graph_1.txt", Content: "graph"},
	}

	require.NoError(t, Write(dir, files, nil))

	got, err := os.ReadFile(filepath.Join(dir, "-_0_0_0", "dynamo_output_graph_1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "graph", string(got))
}

func TestWriteRejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()

	assert.Error(t, Write(dir, []parse.File{{Path: "../escape.txt"}}, nil))
	assert.Error(t, Write(dir, []parse.File{{Path: "/abs.txt"}}, nil))
}
