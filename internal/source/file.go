// Package source loads no-compile fragments and answers line-oriented
// questions about them.
package source

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"fortio.org/safecast"
)

// New builds a File from already normalized bytes. Hash covers content;
// Load replaces it with the hash of the bytes on disk.
func New(path string, content []byte, flags FileFlags) *File {
	return &File{
		Path:    normalizePath(path),
		Content: content,
		LineIdx: buildLineIndex(content),
		Hash:    sha256.Sum256(content),
		Flags:   flags,
	}
}

// NewVirtual builds a File that did not come from disk.
func NewVirtual(name string, content []byte) *File {
	return New(name, content, FileVirtual)
}

// Load reads a fragment from disk, strips a UTF-8 BOM and folds CRLF to LF.
// Hash is taken over the raw bytes, which are what the compiler reads.
func Load(path string) (*File, error) {
	// #nosec G304 -- path is provided by the caller
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment %q: %w", path, err)
	}

	content, hadBOM := removeBOM(raw)
	content, hadCRLF := normalizeCRLF(content)

	flags := FileFlags(0)
	if hadBOM {
		flags |= FileHadBOM
	}
	if hadCRLF {
		flags |= FileNormalizedCRLF
	}
	f := New(path, content, flags)
	f.Hash = sha256.Sum256(raw)
	return f, nil
}

// LineCount returns the number of lines; a trailing newline does not open a new line.
func (f *File) LineCount() uint32 {
	n, err := safecast.Conv[uint32](len(f.LineIdx))
	if err != nil {
		panic(fmt.Errorf("line index length overflow: %w", err))
	}
	if len(f.Content) == 0 {
		return 0
	}
	if f.Content[len(f.Content)-1] != '\n' {
		n++
	}
	return n
}

// Lines splits the content into lines, index 0 holding line 1.
func (f *File) Lines() []string {
	if len(f.Content) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(f.Content), "\n")
	return strings.Split(text, "\n")
}
