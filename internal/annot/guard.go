package annot

import (
	"fmt"
	"regexp"
	"strings"

	"fortio.org/safecast"

	"nctest/internal/diag"
	"nctest/internal/source"
)

var (
	guardPattern     = regexp.MustCompile(`^\s*#\s*(if|elif|ifdef|elifdef)\s*(?:defined\s*\(\s*([A-Za-z_]\w*)\s*\)|defined\s+([A-Za-z_]\w*)|([A-Za-z_]\w*))\s*(//.*)?$`)
	guardNamePattern = regexp.MustCompile(`^(?:` + DisabledPrefix + `)?` + TestPrefix + `\w*$`)

	condOpenPattern  = regexp.MustCompile(`^\s*#\s*(?:if|ifdef|ifndef)\b`)
	condElifPattern  = regexp.MustCompile(`^\s*#\s*(?:elif|elifdef|elifndef)\b`)
	condElsePattern  = regexp.MustCompile(`^\s*#\s*else\b`)
	condEndifPattern = regexp.MustCompile(`^\s*#\s*endif\b`)
)

type guardLine struct {
	directive string
	name      string
	comment   string
}

func matchGuard(line string) (guardLine, bool) {
	m := guardPattern.FindStringSubmatch(line)
	if m == nil {
		return guardLine{}, false
	}
	name := m[2] + m[3] + m[4]
	if !guardNamePattern.MatchString(name) {
		return guardLine{}, false
	}
	return guardLine{directive: m[1], name: name, comment: m[5]}, true
}

type guardStrategy struct{}

func (guardStrategy) Dialect() Dialect { return DialectGuard }

type condFrame struct {
	open int // index into cases of the case still running in this frame, -1 if none
}

func (guardStrategy) Extract(file *source.File) ([]TestCase, error) {
	var (
		cases []TestCase
		stack []condFrame
	)
	closeOpen := func(frame *condFrame, endLine uint32) {
		if frame.open >= 0 {
			cases[frame.open].EndLine = endLine
			frame.open = -1
		}
	}

	for i, line := range file.Lines() {
		lineNum, err := safecast.Conv[uint32](i + 1)
		if err != nil {
			return nil, fmt.Errorf("line number overflow: %w", err)
		}
		guard, isGuard := matchGuard(line)

		switch {
		case condElifPattern.MatchString(line):
			if len(stack) == 0 {
				return nil, structuralf(file.Path, lineNum, "#elif without #if")
			}
			closeOpen(&stack[len(stack)-1], lineNum-1)
		case condOpenPattern.MatchString(line):
			stack = append(stack, condFrame{open: -1})
		case condElsePattern.MatchString(line):
			if len(stack) == 0 {
				return nil, structuralf(file.Path, lineNum, "#else without #if")
			}
			closeOpen(&stack[len(stack)-1], lineNum-1)
			continue
		case condEndifPattern.MatchString(line):
			if len(stack) == 0 {
				return nil, structuralf(file.Path, lineNum, "#endif without #if")
			}
			closeOpen(&stack[len(stack)-1], lineNum-1)
			stack = stack[:len(stack)-1]
			continue
		default:
			continue
		}

		if !isGuard {
			continue
		}
		tc, err := guardCase(file.Path, lineNum, guard)
		if err != nil {
			return nil, err
		}
		cases = append(cases, tc)
		stack[len(stack)-1].open = len(cases) - 1
	}

	for _, frame := range stack {
		if frame.open >= 0 {
			tc := cases[frame.open]
			return nil, structuralf(file.Path, tc.StartLine, "test case %s is missing #endif", tc.Name)
		}
	}
	return cases, nil
}

func guardCase(path string, lineNum uint32, guard guardLine) (TestCase, error) {
	tc := TestCase{
		Name:      guard.name,
		Dialect:   DialectGuard,
		StartLine: lineNum,
		Disabled:  strings.HasPrefix(guard.name, DisabledPrefix),
		Guard:     guard.name,
	}
	comment := strings.TrimSpace(strings.TrimPrefix(guard.comment, "//"))
	if comment == "" {
		return TestCase{}, structuralf(path, lineNum, "test case %s has no expectation list", guard.name)
	}
	patterns, err := parsePatternList(comment)
	if err != nil {
		return TestCase{}, structuralf(path, lineNum, "test case %s: %v", guard.name, err)
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return TestCase{}, structuralf(path, lineNum, "test case %s: invalid pattern %q: %v", guard.name, p, err)
		}
		tc.Expectations = append(tc.Expectations, Expectation{
			Case:       guard.name,
			Text:       p,
			Regexp:     re,
			MarkerLine: lineNum,
			Severity:   diag.SevError,
		})
	}
	return tc, nil
}
