// Package security validates paths that come from dataset metadata or the
// command line before anything is read or written.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveDatasetPath joins a path taken from a dataset index file onto the
// dataset root and rejects results that escape the root. The check is purely
// lexical so it works for roots that only exist in memory.
func ResolveDatasetPath(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty dataset path")
	}
	cleanRoot := filepath.Clean(root)
	var joined string
	if filepath.IsAbs(rel) {
		joined = filepath.Clean(rel)
	} else {
		joined = filepath.Join(cleanRoot, rel)
	}
	if !within(cleanRoot, joined) {
		return "", fmt.Errorf("path traversal detected: %s escapes dataset root %s", rel, root)
	}
	return joined, nil
}

func within(dir, path string) bool {
	relPath, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator)) && !filepath.IsAbs(relPath)
}

// canonical resolves symlinks on the longest existing prefix of path, so a
// not-yet-created output file under a symlinked directory is still resolved.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	rest := ""
	for p := abs; ; p = filepath.Dir(p) {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(p) == p {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(p), rest)
	}
}

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir,
// following symlinks on both sides.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	p, err := canonical(filePath)
	if err != nil {
		return err
	}
	d, err := canonical(safeDir)
	if err != nil {
		return err
	}
	if !within(d, p) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// ValidateOutputPath accepts report and chart destinations under the working
// directory or the system temp directory.
func ValidateOutputPath(filePath string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	allowed := []string{cwd, os.TempDir()}
	for _, dir := range allowed {
		if ValidatePathWithinDirectory(filePath, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("output path must be within one of %v", allowed)
}

// SanitizeFilename maps an identifier such as a split name onto a safe file
// name component: runs of characters outside [A-Za-z0-9._-] become a single
// underscore and the result is capped at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
