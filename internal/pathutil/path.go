// Package pathutil validates slash-separated paths used inside artifacts.
package pathutil

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for paths that are absolute, escape their root,
// or are otherwise unusable as a materialization target.
var ErrUnsafePath = errors.New("pathutil: unsafe path")

// Clean validates a slash-separated relative path and returns its cleaned
// form. Absolute paths, parent traversal, backslashes and empty paths are
// rejected.
func Clean(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsafePath)
	}
	if strings.ContainsRune(p, '\\') || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafePath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", fmt.Errorf("%w: %q names the root", ErrUnsafePath, p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the root", ErrUnsafePath, p)
	}
	return cleaned, nil
}

// Join resolves rel beneath root and verifies the result stays inside root.
func Join(root, rel string) (string, error) {
	cleaned, err := Clean(rel)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(cleaned))
	within, err := filepath.Rel(root, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrUnsafePath, rel, root)
	}
	return full, nil
}
