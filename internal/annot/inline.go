package annot

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"nctest/internal/diag"
	"nctest/internal/source"
)

var (
	markerPattern      = regexp.MustCompile(`\bexpected-(error|warning|note)(-re)?(?:@([+-]?\d+|\*(?::\*)?))?\s*\{\{(.*?)\}\}`)
	markerTokenPattern = regexp.MustCompile(`\bexpected-(?:error|warning|note)\b`)
)

type inlineStrategy struct{}

func (inlineStrategy) Dialect() Dialect { return DialectInline }

func (inlineStrategy) Extract(file *source.File) ([]TestCase, error) {
	lines := file.Lines()
	lineCount := file.LineCount()

	var expectations []Expectation
	for i, line := range lines {
		lineNum, err := safecast.Conv[uint32](i + 1)
		if err != nil {
			return nil, fmt.Errorf("line number overflow: %w", err)
		}
		found, err := parseMarkers(file.Path, lineNum, lineCount, commentPart(line))
		if err != nil {
			return nil, err
		}
		expectations = append(expectations, found...)
	}
	if len(expectations) == 0 {
		return nil, nil
	}
	return groupByBlock(file, expectations)
}

// commentPart returns the text from the first comment opener on, or "".
func commentPart(line string) string {
	idx := strings.Index(line, "//")
	if block := strings.Index(line, "/*"); block >= 0 && (idx < 0 || block < idx) {
		idx = block
	}
	if idx < 0 {
		return ""
	}
	return line[idx:]
}

func parseMarkers(path string, lineNum, lineCount uint32, comment string) ([]Expectation, error) {
	if comment == "" {
		return nil, nil
	}
	tokens := markerTokenPattern.FindAllStringIndex(comment, -1)
	if len(tokens) == 0 {
		return nil, nil
	}
	matches := markerPattern.FindAllStringSubmatchIndex(comment, -1)
	starts := make(map[int]bool, len(matches))
	for _, m := range matches {
		starts[m[0]] = true
	}
	for _, tok := range tokens {
		if !starts[tok[0]] {
			return nil, structuralf(path, lineNum, "malformed marker %q (want expected-<severity>[-re][@line] {{text}})",
				strings.TrimSpace(comment[tok[0]:]))
		}
	}

	out := make([]Expectation, 0, len(matches))
	for _, m := range matches {
		severity, _ := diag.ParseSeverity(comment[m[2]:m[3]])
		isPattern := m[4] >= 0
		text := strings.TrimSpace(comment[m[8]:m[9]])
		if text == "" {
			return nil, structuralf(path, lineNum, "marker has an empty {{}} body")
		}

		exp := Expectation{
			Text:       text,
			Line:       lineNum,
			MarkerLine: lineNum,
			Severity:   severity,
		}
		switch {
		case m[6] >= 0 && strings.HasPrefix(comment[m[6]:m[7]], "*"):
			// @* and @*:* accept the diagnostic in any file, typically a header.
			exp.Line = 0
			exp.Anywhere = true
		case m[6] >= 0:
			anchor, err := resolveAnchor(comment[m[6]:m[7]], lineNum)
			if err != nil {
				return nil, structuralf(path, lineNum, "%v", err)
			}
			if anchor > lineCount {
				return nil, structuralf(path, lineNum, "marker anchor line %d is outside the fragment (1-%d)", anchor, lineCount)
			}
			exp.Line = anchor
		}
		if isPattern {
			re, err := regexp.Compile(text)
			if err != nil {
				return nil, structuralf(path, lineNum, "invalid pattern %q: %v", text, err)
			}
			exp.Regexp = re
		}
		out = append(out, exp)
	}
	return out, nil
}

// resolveAnchor interprets @+N and @-N relative to the marker line and @N as absolute.
func resolveAnchor(ref string, lineNum uint32) (uint32, error) {
	n, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("invalid marker anchor @%s", ref)
	}
	target := n
	if strings.HasPrefix(ref, "+") || strings.HasPrefix(ref, "-") {
		target = int(lineNum) + n
	}
	if target <= 0 {
		return 0, fmt.Errorf("marker anchor @%s points before the first line", ref)
	}
	v, err := safecast.Conv[uint32](target)
	if err != nil {
		return 0, fmt.Errorf("marker anchor @%s out of range", ref)
	}
	return v, nil
}

// groupByBlock assigns expectations to the top-level block containing their
// anchor line. Cases are ordered by their first marker.
func groupByBlock(file *source.File, expectations []Expectation) ([]TestCase, error) {
	blocks, err := scanBlocks(file.Lines())
	if err != nil {
		return nil, err
	}
	names := uniqueBlockNames(blocks)

	byKey := make(map[int]*TestCase)
	var order []int
	const fileScope = -1

	for _, exp := range expectations {
		key := fileScope
		line := exp.Line
		if exp.Anywhere {
			line = exp.MarkerLine
		}
		for i, b := range blocks {
			if line >= b.start && line <= b.end {
				key = i
				break
			}
		}
		tc, ok := byKey[key]
		if !ok {
			tc = &TestCase{Dialect: DialectInline}
			if key == fileScope {
				tc.Name = FileScopeCase
				tc.StartLine = 1
				tc.EndLine = file.LineCount()
			} else {
				tc.Name = names[key]
				tc.StartLine = blocks[key].start
				tc.EndLine = blocks[key].end
			}
			byKey[key] = tc
			order = append(order, key)
		}
		exp.Case = tc.Name
		tc.Expectations = append(tc.Expectations, exp)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return byKey[order[i]].Expectations[0].MarkerLine < byKey[order[j]].Expectations[0].MarkerLine
	})
	cases := make([]TestCase, 0, len(order))
	for _, key := range order {
		cases = append(cases, *byKey[key])
	}
	return cases, nil
}

func uniqueBlockNames(blocks []block) []string {
	names := make([]string, len(blocks))
	counts := make(map[string]int, len(blocks))
	for i, b := range blocks {
		counts[b.name]++
		if n := counts[b.name]; n > 1 {
			names[i] = fmt.Sprintf("%s_%d", b.name, n)
			continue
		}
		names[i] = b.name
	}
	return names
}
