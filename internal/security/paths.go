// Package security keeps user-supplied names from escaping the directories
// that reports and exports are written into.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxNameLen bounds sanitised file names.
const maxNameLen = 128

// SanitizeFilename maps an arbitrary model or shape name to a file name of
// ASCII letters, digits, dot, underscore and dash. Runs of other characters
// collapse to one underscore; an empty result becomes "unnamed".
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	// Leading dots would hide the file or form "..".
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}

// ContainedPath joins name onto dir and rejects results that leave dir.
// The check is lexical so it also holds for in-memory filesystems.
func ContainedPath(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("path traversal detected: %s is absolute", name)
	}
	base := filepath.Clean(dir)
	joined := filepath.Join(base, name)
	rel, err := filepath.Rel(base, joined)
	if err != nil {
		return "", fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s escapes %s", name, dir)
	}
	return joined, nil
}
