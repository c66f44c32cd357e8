package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates that a file path is safe and doesn't contain directory traversal attempts
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}

// ValidateFilePathWithBase validates that name resolves to a file inside baseDir
func ValidateFilePathWithBase(name, baseDir string) error {
	if err := ValidateFilePath(name); err != nil {
		return err
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("absolute paths not allowed: %s", name)
	}

	rel, err := filepath.Rel(filepath.Clean(baseDir), filepath.Join(baseDir, name))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path escapes base directory: %s", name)
	}

	return nil
}

// SafeFileName reduces a client or provider supplied name to a single path
// element made of letters, digits, dot, dash and underscore.
func SafeFileName(name string) string {
	name = filepath.Base(filepath.ToSlash(strings.ReplaceAll(name, "\\", "/")))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}
