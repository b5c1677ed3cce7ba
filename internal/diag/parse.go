package diag

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

const severityAlt = `fatal error|error|warning|note|remark`

var (
	// a.cc:12:5: error: message
	// a.cc:12: error: message
	gnuPattern = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*(` + severityAlt + `):\s?(.*)$`)
	// clang: error: no input files
	driverPattern = regexp.MustCompile(`^([^:\s][^:]*?):\s*(` + severityAlt + `):\s?(.*)$`)
	// a.cc(12,5): error C2065: message
	msvcPattern = regexp.MustCompile(`^(.+?)\((\d+)(?:,(\d+))?\)\s*:\s*(fatal error|error|warning|note)(?:\s+[A-Z]+\d+)?\s*:\s?(.*)$`)
)

var crashBanners = []string{
	"internal compiler error",
	"PLEASE submit a bug report",
	"Stack dump:",
	"clang frontend command failed",
	"compiler is out of heap space",
}

// Parse extracts diagnostics from a raw compiler output stream.
// Lines that carry no diagnostic header are skipped.
func Parse(output string) *Bag {
	bag := NewBag()
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if d, ok := ParseLine(sc.Text()); ok {
			bag.Add(d)
		}
	}
	return bag
}

// ParseLine parses a single diagnostic header line.
func ParseLine(line string) (Diagnostic, bool) {
	raw := strings.TrimRight(line, "\r")
	text := strings.TrimSpace(raw)
	if text == "" {
		return Diagnostic{}, false
	}

	if m := msvcPattern.FindStringSubmatch(text); m != nil {
		return build(raw, m[1], m[2], m[3], m[4], m[5])
	}
	if m := gnuPattern.FindStringSubmatch(text); m != nil {
		return build(raw, m[1], m[2], m[3], m[4], m[5])
	}
	if m := driverPattern.FindStringSubmatch(text); m != nil {
		return build(raw, m[1], "", "", m[2], m[3])
	}
	return Diagnostic{}, false
}

func build(raw, file, line, col, sev, msg string) (Diagnostic, bool) {
	severity, ok := ParseSeverity(sev)
	if !ok {
		return Diagnostic{}, false
	}
	lineNum, err := parseUint32(line)
	if err != nil {
		return Diagnostic{}, false
	}
	colNum, err := parseUint32(col)
	if err != nil {
		return Diagnostic{}, false
	}
	return Diagnostic{
		File:     strings.TrimSpace(file),
		Line:     lineNum,
		Column:   colNum,
		Severity: severity,
		Message:  Normalize(msg),
		Raw:      raw,
	}, true
}

func parseUint32(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return 0, fmt.Errorf("position %q out of range: %w", s, err)
	}
	return v, nil
}

// LooksLikeCrash reports whether the output contains a compiler crash banner.
func LooksLikeCrash(output string) bool {
	for _, banner := range crashBanners {
		if strings.Contains(output, banner) {
			return true
		}
	}
	return false
}
