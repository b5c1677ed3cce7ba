package synth

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"nctest/internal/depfile"
	"nctest/internal/diag"
	"nctest/internal/match"
	"nctest/internal/source"
)

// DefaultGTestInclude is the header generated units include.
const DefaultGTestInclude = "gtest/gtest.h"

// UnitOptions controls translation unit generation.
type UnitOptions struct {
	Include string
	Suite   string // derived from the fragment name when empty
	// MaxOutputLines caps the compiler lines quoted in #error directives.
	MaxOutputLines int
}

// SuiteName derives a gtest suite name from a fragment path:
// "callback_list_unittest.nc" becomes "CallbackListUnittestNoCompileTest".
func SuiteName(path string) string {
	var sb strings.Builder
	upper := true
	for _, r := range source.Stem(path) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		sb.WriteRune(r)
	}
	if sb.Len() == 0 || unicode.IsDigit([]rune(sb.String())[0]) {
		return "Fragment" + sb.String() + "NoCompileTest"
	}
	return sb.String() + "NoCompileTest"
}

// WriteTranslationUnit writes the artifact a gtest build links in place of
// the fragment: TEST stubs when every case held, #error lines otherwise so
// the failure surfaces as a build break.
func WriteTranslationUnit(w io.Writer, fr FragmentResult, opts UnitOptions) error {
	if opts.Include == "" {
		opts.Include = DefaultGTestInclude
	}
	if opts.Suite == "" {
		opts.Suite = SuiteName(fr.Path)
	}
	if opts.MaxOutputLines <= 0 {
		opts.MaxOutputLines = 20
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "// Generated by nctest from %s. DO NOT EDIT.\n\n", fr.Path)

	if fr.Err != nil {
		msg := fr.Path + ": " + fr.Err.Error()
		if se, ok := fr.StructuralError(); ok {
			msg = se.Error()
		}
		writeError(&sb, msg)
		_, err := io.WriteString(w, sb.String())
		return err
	}

	if !fr.OK() {
		for _, c := range fr.Cases {
			if !c.Outcome.Failed() {
				continue
			}
			writeError(&sb, fmt.Sprintf("%s: %s: %s: %s", fr.Path, c.Name(), c.Outcome, c.Reason))
			for _, exp := range c.Unmatched() {
				writeError(&sb, "  expected: "+exp.String())
			}
			for _, line := range quotedOutput(c, opts.MaxOutputLines) {
				writeError(&sb, "  actual: "+line)
			}
		}
		_, err := io.WriteString(w, sb.String())
		return err
	}

	fmt.Fprintf(&sb, "#include %q\n\n", opts.Include)
	for _, c := range fr.Cases {
		fmt.Fprintf(&sb, "TEST(%s, %s) {}\n", opts.Suite, cIdentifier(c.Name()))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// quotedOutput picks the lines worth showing: the parsed diagnostics first,
// the raw output when none parse.
func quotedOutput(c match.CaseResult, limit int) []string {
	var lines []string
	if len(c.Unexpected) > 0 {
		for _, d := range c.Unexpected {
			lines = append(lines, d.Raw)
		}
	} else {
		for _, d := range diag.Parse(c.Output).Items() {
			lines = append(lines, d.Raw)
		}
	}
	if len(lines) == 0 {
		for _, line := range strings.Split(strings.TrimSpace(c.Output), "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
	}
	if len(lines) == 0 {
		return []string{"(no compiler output)"}
	}
	if len(lines) > limit {
		more := len(lines) - limit
		lines = append(lines[:limit:limit], fmt.Sprintf("... %d more line(s)", more))
	}
	return lines
}

func writeError(sb *strings.Builder, msg string) {
	sb.WriteString("#error \"")
	sb.WriteString(cEscape(msg))
	sb.WriteString("\"\n")
}

func cEscape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == '"':
			sb.WriteString(`\"`)
		case r == '\t':
			sb.WriteByte(' ')
		case r < 0x20 || r == 0x7f:
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func cIdentifier(name string) string {
	var sb strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || (r < 0x80 && unicode.IsLetter(r)):
			sb.WriteRune(r)
		case r < 0x80 && unicode.IsDigit(r):
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// WriteDepfile writes "artifact: fragment headers..." for the build system.
func WriteDepfile(w io.Writer, artifact string, fr FragmentResult) error {
	deps := make([]string, 0, len(fr.Deps)+1)
	deps = append(deps, fr.Path)
	for _, d := range fr.Deps {
		if !source.SamePath(d, fr.Path) {
			deps = append(deps, d)
		}
	}
	return depfile.Write(w, artifact, deps)
}
