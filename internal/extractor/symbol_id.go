package extractor

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// SourceID identifies a generic declaration by where it is, not what it is
// called, so a rename in place keeps the same ID.
func SourceID(relPath string, ordinal int) string {
	return fmt.Sprintf("%s#%d", filepath.ToSlash(relPath), ordinal)
}

func canonicalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return whitespaceRe.ReplaceAllString(s, " ")
}
