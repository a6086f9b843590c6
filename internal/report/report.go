// Package report materializes the files produced by a parse or divergence
// pass into an output directory, and defines the hook for external index
// renderers.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"tracelens/internal/parse"
)

// IndexRenderer turns a finished report directory into a browsable index.
// Rendering (HTML, TUI, whatever) lives outside this module; the built-in
// renderer is a no-op and the JSON artifacts are the source of truth.
type IndexRenderer interface {
	RenderIndex(outDir string, files []parse.File) error
}

// NopRenderer satisfies IndexRenderer without producing anything.
type NopRenderer struct{}

// RenderIndex implements IndexRenderer.
func (NopRenderer) RenderIndex(string, []parse.File) error { return nil }

// SetupOutputDir prepares the output directory. An existing directory is
// refused unless overwrite is set, in which case it is removed first; this is
// the only destructive operation in the module, so it never follows symlinks
// outside the given path.
func SetupOutputDir(dir string, overwrite bool) error {
	info, err := os.Lstat(dir)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("inspecting output dir: %w", err)
	case !info.IsDir():
		return fmt.Errorf("output path %q exists and is not a directory", dir)
	case !overwrite:
		return fmt.Errorf("output dir %q already exists (use --overwrite to replace it)", dir)
	default:
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing output dir: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	return nil
}

// Write materializes the pass outputs under dir. Paths are validated to stay
// inside dir; a parser has no business writing elsewhere.
func Write(dir string, files []parse.File, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, f := range files {
		rel := filepath.FromSlash(f.Path)
		if filepath.IsAbs(rel) || strings.Contains(rel, "..") {
			return fmt.Errorf("refusing to write outside output dir: %q", f.Path)
		}
		target := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
		logger.Debug("wrote artifact", zap.String("path", target), zap.Int("bytes", len(f.Content)))
	}
	return nil
}
