package annot

import (
	"errors"
	"fmt"
	"strings"
)

var errEmptyList = errors.New("expectation list is empty")

// parsePatternList reads a bracketed list of string literals:
//
//	[r"raw \d+", "escaped \\d+", 'single',]
//
// An r or R prefix keeps backslashes verbatim.
func parsePatternList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") {
		return nil, fmt.Errorf("expectation list must start with '[': %q", s)
	}
	pos := 1
	var out []string
	for {
		pos = skipSpace(s, pos)
		if pos >= len(s) {
			return nil, errors.New("unterminated expectation list")
		}
		if s[pos] == ']' {
			pos++
			break
		}
		lit, next, err := readLiteral(s, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, lit)
		pos = skipSpace(s, next)
		if pos >= len(s) {
			return nil, errors.New("unterminated expectation list")
		}
		switch s[pos] {
		case ',':
			pos++
		case ']':
		default:
			return nil, fmt.Errorf("expected ',' or ']' at column %d, found %q", pos+1, s[pos])
		}
	}
	if rest := strings.TrimSpace(s[pos:]); rest != "" {
		return nil, fmt.Errorf("unexpected text after expectation list: %q", rest)
	}
	if len(out) == 0 {
		return nil, errEmptyList
	}
	return out, nil
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t') {
		pos++
	}
	return pos
}

func readLiteral(s string, pos int) (string, int, error) {
	raw := false
	if s[pos] == 'r' || s[pos] == 'R' {
		raw = true
		pos++
	}
	if pos >= len(s) || (s[pos] != '"' && s[pos] != '\'') {
		return "", pos, fmt.Errorf("expected a string literal at column %d", pos+1)
	}
	quote := s[pos]
	pos++

	var b strings.Builder
	for pos < len(s) {
		c := s[pos]
		switch {
		case c == quote:
			return b.String(), pos + 1, nil
		case c == '\\' && pos+1 < len(s):
			next := s[pos+1]
			pos += 2
			if raw {
				b.WriteByte('\\')
				b.WriteByte(next)
				continue
			}
			switch next {
			case '\\', '\'', '"':
				b.WriteByte(next)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
			}
		default:
			b.WriteByte(c)
			pos++
		}
	}
	return "", pos, errors.New("unterminated string literal")
}
