package source

import (
	"path/filepath"
	"slices"
	"strings"
)

// normalizeCRLF replaces every \r\n with \n and leaves lone \r untouched.
// The flag reports whether anything was replaced.
func normalizeCRLF(content []byte) ([]byte, bool) {
	if !slices.Contains(content, '\r') {
		return content, false
	}

	out := make([]byte, 0, len(content))
	changed := false

	i := 0
	for i < len(content) {
		if content[i] == '\r' && i+1 < len(content) && content[i+1] == '\n' {
			out = append(out, '\n')
			i += 2
			changed = true
		} else {
			out = append(out, content[i])
			i++
		}
	}
	return out, changed
}

func removeBOM(content []byte) ([]byte, bool) {
	if len(content) < 3 {
		return content, false
	}

	if content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		return content[3:], true
	}

	return content, false
}

func buildLineIndex(content []byte) []uint32 {
	out := make([]uint32, 0, len(content)/32)
	for i, b := range content {
		if b == '\n' {
			out = append(out, uint32(i))
		}
	}
	return out
}

func normalizePath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

// SamePath reports whether two paths name the same file, comparing cleaned
// forms first and absolute forms second.
func SamePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if normalizePath(a) == normalizePath(b) {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return false
	}
	return normalizePath(absA) == normalizePath(absB)
}

// Stem returns the base name of p without its extension.
func Stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RelativePath returns target relative to base, falling back to the
// cleaned target when it lies outside base.
func RelativePath(target, base string) string {
	if base == "" {
		return normalizePath(target)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return normalizePath(target)
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return normalizePath(target)
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return normalizePath(absTarget)
	}
	return normalizePath(rel)
}
