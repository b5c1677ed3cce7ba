package annot

import (
	"fmt"
	"regexp"
	"strings"

	"nctest/internal/diag"
)

// Dialect identifies the annotation style of a fragment.
type Dialect uint8

const (
	// DialectNone means the fragment carries no annotations.
	DialectNone Dialect = iota
	// DialectInline is the expected-error {{...}} marker style.
	DialectInline
	// DialectGuard is the #if defined(NCTEST_...) block style.
	DialectGuard
)

func (d Dialect) String() string {
	switch d {
	case DialectNone:
		return "none"
	case DialectInline:
		return "inline"
	case DialectGuard:
		return "guard"
	}
	return "unknown"
}

const (
	// TestPrefix starts every guard symbol.
	TestPrefix = "NCTEST"
	// DisabledPrefix marks a guard whose case is parsed but never compiled.
	DisabledPrefix = "DISABLED_"
	// FileScopeCase owns inline markers outside any top-level block.
	FileScopeCase = "file_scope"
)

// Expectation is one expected compiler message.
type Expectation struct {
	Case       string
	Text       string
	Regexp     *regexp.Regexp // nil for substring expectations
	Line       uint32         // anchored line; 0 when unanchored
	MarkerLine uint32
	Severity   diag.Severity
	Anywhere   bool // inline @* form: any file, any line
}

// IsPattern reports whether Text is a regular expression.
func (e Expectation) IsPattern() bool {
	return e.Regexp != nil
}

// Matches reports whether a message satisfies the expectation text.
func (e Expectation) Matches(msg string) bool {
	if e.Regexp != nil {
		return e.Regexp.MatchString(msg) || e.Regexp.MatchString(diag.Normalize(msg))
	}
	return strings.Contains(diag.Normalize(msg), diag.Normalize(e.Text))
}

func (e Expectation) String() string {
	if e.Line == 0 && !e.Anywhere {
		return fmt.Sprintf("r%q", e.Text)
	}
	kind := "expected-" + e.Severity.Class().String()
	if e.IsPattern() {
		kind += "-re"
	}
	if e.Anywhere {
		return fmt.Sprintf("%s@* {{%s}}", kind, e.Text)
	}
	return fmt.Sprintf("%s@%d {{%s}}", kind, e.Line, e.Text)
}

// TestCase is one no-compile assertion.
type TestCase struct {
	Name         string
	Dialect      Dialect
	StartLine    uint32
	EndLine      uint32
	Disabled     bool
	Guard        string // symbol to define for the guard dialect
	Expectations []Expectation
}

// Set holds every case parsed from one fragment, in source order.
type Set struct {
	Path    string
	Dialect Dialect
	Cases   []TestCase
}

// Enabled returns the cases that must be compiled.
func (s *Set) Enabled() []TestCase {
	var out []TestCase
	for _, tc := range s.Cases {
		if !tc.Disabled {
			out = append(out, tc)
		}
	}
	return out
}

// Disabled returns the cases reported as skipped.
func (s *Set) Disabled() []TestCase {
	var out []TestCase
	for _, tc := range s.Cases {
		if tc.Disabled {
			out = append(out, tc)
		}
	}
	return out
}

// StructuralError reports malformed annotation syntax. It is fatal to the
// fragment it was found in and to nothing else.
type StructuralError struct {
	Path string
	Line uint32
	Msg  string
}

func (e *StructuralError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Path, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

func structuralf(path string, line uint32, format string, args ...any) *StructuralError {
	return &StructuralError{Path: path, Line: line, Msg: fmt.Sprintf(format, args...)}
}
