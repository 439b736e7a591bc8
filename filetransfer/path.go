package filetransfer

import (
	"path/filepath"
	"strings"
)

// validateRelativePath enforces spec.md §3's FileDescriptor.relative_path
// invariants on both picker ingress and wire ingress: relative, already
// normalized, no directory escape, non-empty final component.
func validateRelativePath(p string) error {
	if p == "" {
		return violation("empty relative path")
	}
	slashed := filepath.ToSlash(p)
	if filepath.IsAbs(p) || strings.HasPrefix(slashed, "/") {
		return violation("relative path %q must not be absolute", p)
	}
	cleaned := filepath.ToSlash(filepath.Clean(p))
	if cleaned != slashed {
		return violation("relative path %q is not in normalized form", p)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return violation("relative path %q escapes its base", p)
	}
	if filepath.Base(cleaned) == "" || filepath.Base(cleaned) == "." {
		return violation("relative path %q has an empty filename", p)
	}
	return nil
}

// splitNameExt splits a file basename into (name, ext) preserving the
// dotfile special case from spec.md §4.5: when the only dot is the
// leading character, name is empty and ext holds the whole original
// name (so KeepBoth suffixing appends after the name, i.e. before the
// dot, and a dotfile like ".bashrc" becomes "_1.bashrc").
func splitNameExt(base string) (name, ext string) {
	idx := strings.LastIndex(base, ".")
	if idx == -1 {
		return base, ""
	}
	if idx == 0 {
		return "", base
	}
	return base[:idx], base[idx:]
}
