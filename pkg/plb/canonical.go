package plb

import (
	"errors"
	"path"
	"strings"
)

// ErrNotAbsolute is returned by Canonicalize for relative paths.
var ErrNotAbsolute = errors.New("plb: path is not absolute")

// Canonicalize reduces p to the canonical form the lookup engine trusts:
// absolute, no empty, "." or ".." components, and no trailing separator
// except for the root itself.
func Canonicalize(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", ErrNotAbsolute
	}
	if strings.IndexByte(p, 0) >= 0 {
		return "", errors.New("plb: path contains NUL")
	}
	return path.Clean(p), nil
}
