// Package listing finds loadable volumes below a root directory.
package listing

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"voxview/pkg/decoder"
)

// DefaultIgnoreDirs are never descended into.
var DefaultIgnoreDirs = []string{".git"}

// Options controls a scan
type Options struct {
	// Recursive descends into subdirectories; otherwise only the root's
	// own files and immediate DICOM subdirectories are reported
	Recursive bool

	// IgnoreDirs are directory base names skipped with their contents
	IgnoreDirs []string

	Logger *slog.Logger
}

// Scan returns the paths below root whose extension is in exts, plus the
// directories that hold .dcm or .dicom files. Paths are relative to root,
// prefixed with "./" and sorted.
func Scan(root string, exts []string, opts Options) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are reported and skipped
			logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		if d.IsDir() {
			if slices.Contains(opts.IgnoreDirs, d.Name()) {
				return fs.SkipDir
			}
			if holdsDICOM(path, logger) {
				out = append(out, relative(root, path))
			}
			if !opts.Recursive {
				return fs.SkipDir
			}
			return nil
		}

		if slices.Contains(exts, decoder.Ext(d.Name())) {
			out = append(out, relative(root, path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func holdsDICOM(dir string, logger *slog.Logger) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("could not read directory", "dir", dir, "error", err)
		return false
	}
	for _, e := range entries {
		switch decoder.Ext(e.Name()) {
		case ".dcm", ".dicom":
			return true
		}
	}
	return false
}

func relative(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return "./" + filepath.ToSlash(rel)
}
