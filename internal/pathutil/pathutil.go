// Package pathutil provides shared path validation helpers.
package pathutil

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates a file path for path traversal and invalid characters.
// Uses segment-based detection so that "data/../etc/passwd" is rejected before
// cleaning (cleaned path would be "etc/passwd" and could bypass a simple ".." check).
// Returns an error if the path is empty, contains null bytes, or has ".." in any segment.
func ValidateFilePath(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(filePath, "\x00") {
		return fmt.Errorf("file path contains invalid characters")
	}

	normalized := filepath.ToSlash(filePath)
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return fmt.Errorf("file path contains path traversal: %q", filePath)
		}
	}
	return nil
}

// ValidateArchiveEntry rejects archive member names that would escape the
// extraction directory: absolute paths, drive letters and ".." segments.
func ValidateArchiveEntry(name string) error {
	if err := ValidateFilePath(name); err != nil {
		return err
	}
	normalized := filepath.ToSlash(name)
	if strings.HasPrefix(normalized, "/") || (len(normalized) > 1 && normalized[1] == ':') {
		return fmt.Errorf("archive entry has absolute path: %q", name)
	}
	return nil
}

// Clean validates a slash-separated relative path and returns its cleaned form.
// Leading slashes are stripped so that "/a/b" and "a/b" name the same file.
func Clean(name string) (string, error) {
	if err := ValidateFilePath(name); err != nil {
		return "", err
	}
	cleaned := path.Clean("/" + filepath.ToSlash(name))
	return strings.TrimPrefix(cleaned, "/"), nil
}

// StripExt returns name without its final extension ("a/b.zip" -> "a/b").
func StripExt(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
