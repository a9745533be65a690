package store

import (
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/coordex/internal/coordexerr"
)

// ValidateFilePath checks a repo-relative path for traversal and NUL bytes.
// It rejects absolute paths, paths that still contain a ".." segment after
// filepath.Clean, and embedded NUL bytes.
func ValidateFilePath(path string) error {
	if path == "" {
		return coordexerr.Validation("file path must not be empty")
	}
	if strings.ContainsRune(path, 0) {
		return coordexerr.Validation("file path contains a NUL byte")
	}
	if filepath.IsAbs(path) {
		return coordexerr.Validation("file path %q must be repo-relative", path)
	}
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return coordexerr.Validation("file path %q contains a traversal segment", path)
		}
	}
	return nil
}

// ValidateConfidence checks that a confidence score lies in [0,1].
func ValidateConfidence(score float64) error {
	if score < 0 || score > 1 {
		return coordexerr.Validation("confidence score %v out of range [0,1]", score)
	}
	return nil
}

// ValidateTTL checks that a claim TTL is positive.
func ValidateTTL(ttl float64) error {
	if ttl <= 0 {
		return coordexerr.Validation("ttl must be positive, got %v", ttl)
	}
	return nil
}
