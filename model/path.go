package model

import (
	"errors"
	"path"
	"strings"
)

// ErrUnsafeRelativePath is returned by ValidateRelativePath.
var ErrUnsafeRelativePath = errors.New("model: unsafe relative path")

// ValidateRelativePath enforces the FileDescriptor.relative_path
// invariants from spec.md §3: relative, already normalized, not
// escaping its root, non-empty filename.
func ValidateRelativePath(relativePath string) error {
	if relativePath == "" {
		return ErrUnsafeRelativePath
	}
	if path.IsAbs(relativePath) {
		return ErrUnsafeRelativePath
	}
	cleaned := path.Clean(relativePath)
	if cleaned != relativePath {
		return ErrUnsafeRelativePath
	}
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return ErrUnsafeRelativePath
	}
	if strings.HasPrefix(cleaned, "/") {
		return ErrUnsafeRelativePath
	}
	if path.Base(cleaned) == "" {
		return ErrUnsafeRelativePath
	}
	return nil
}
