// Package security guards the filesystem surface exposed to uploads and
// artifact downloads.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateArtifactName accepts only bare filenames suitable for lookup
// inside the results directory. Path separators, traversal components
// and dotfiles are rejected so a request path can never name anything
// outside the directory.
func ValidateArtifactName(name string) error {
	if name == "" {
		return fmt.Errorf("empty artifact name")
	}
	if name != filepath.Base(name) || name != filepath.Clean(name) {
		return fmt.Errorf("artifact name %q is not a bare filename", name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("artifact name %q is hidden", name)
	}
	return nil
}

// SanitizeFilename makes a safe filename fragment from a client-supplied
// string such as an upload name. Anything outside ASCII letters, digits,
// dot, underscore or dash becomes an underscore; runs collapse to one.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
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

// SanitizeExtension returns a safe lowercase file extension (with dot)
// for a client-supplied filename, or fallback when the name carries no
// usable extension.
func SanitizeExtension(name, fallback string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || ext == "." {
		return fallback
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fallback
		}
	}
	if len(ext) > 8 {
		return fallback
	}
	return ext
}
