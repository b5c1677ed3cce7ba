// Package depfile reads and writes Make-style dependency files as emitted
// by compilers with -MD/-MF.
package depfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Rule is one "targets: deps" entry.
type Rule struct {
	Targets []string
	Deps    []string
}

var errNoColon = errors.New("missing ':' separator")

// Parse reads Make rules. Backslash-newline continuations, escaped spaces,
// "$$" and Windows drive letters are understood.
func Parse(r io.Reader) ([]Rule, error) {
	logical, err := joinContinuations(r)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	for i, line := range logical {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		words := splitWords(line)
		sep := -1
		for j, w := range words {
			if w.colon {
				sep = j
				break
			}
		}
		if sep < 0 {
			return nil, fmt.Errorf("depfile rule %d: %w", i+1, errNoColon)
		}
		rule := Rule{}
		for _, w := range words[:sep+1] {
			if w.text != "" {
				rule.Targets = append(rule.Targets, w.text)
			}
		}
		for _, w := range words[sep+1:] {
			if w.text != "" {
				rule.Deps = append(rule.Deps, w.text)
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ParseFile parses the depfile at path.
func ParseFile(path string) ([]Rule, error) {
	// #nosec G304 -- path is an artifact under the output dir
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Deps returns the union of all dependencies in first-seen order.
func Deps(rules []Rule) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range rules {
		for _, d := range r.Deps {
			key := filepath.Clean(d)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

// Write emits a single rule with one dependency per continuation line.
func Write(w io.Writer, target string, deps []string) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(escape(target) + ":"); err != nil {
		return err
	}
	for _, d := range deps {
		if _, err := bw.WriteString(" \\\n  " + escape(d)); err != nil {
			return err
		}
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteFile replaces the file at path with a single rule.
func WriteFile(path, target string, deps []string) error {
	var buf bytes.Buffer
	if err := Write(&buf, target, deps); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func escape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '#':
			sb.WriteByte('\\')
		case '$':
			sb.WriteByte('$')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func joinContinuations(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var (
		out []string
		cur strings.Builder
	)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if trailingBackslashes(line)%2 == 1 {
			cur.WriteString(line[:len(line)-1])
			cur.WriteByte(' ')
			continue
		}
		cur.WriteString(line)
		out = append(out, cur.String())
		cur.Reset()
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out, nil
}

func trailingBackslashes(s string) int {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n
}

type word struct {
	text  string
	colon bool // the rule separator terminated this word
}

func splitWords(line string) []word {
	var (
		words []word
		cur   strings.Builder
	)
	flush := func(colon bool) {
		words = append(words, word{text: cur.String(), colon: colon})
		cur.Reset()
	}
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line) && (line[i+1] == ' ' || line[i+1] == '#' || line[i+1] == '\\'):
			cur.WriteByte(line[i+1])
			i++
		case c == '$' && i+1 < len(line) && line[i+1] == '$':
			cur.WriteByte('$')
			i++
		case c == ' ' || c == '\t':
			if cur.Len() > 0 {
				flush(false)
			}
		case c == ':' && !isDriveColon(line, i, cur.Len()):
			flush(true)
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		flush(false)
	}
	return words
}

// isDriveColon recognizes "C:\" and "C:/" at the start of a word.
func isDriveColon(line string, i, wordLen int) bool {
	if wordLen != 1 || i+1 >= len(line) {
		return false
	}
	l := line[i-1]
	isLetter := (l >= 'a' && l <= 'z') || (l >= 'A' && l <= 'Z')
	return isLetter && (line[i+1] == '\\' || line[i+1] == '/')
}
