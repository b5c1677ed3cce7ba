package annot

import (
	"nctest/internal/source"
)

// Strategy extracts cases for one dialect.
type Strategy interface {
	Dialect() Dialect
	Extract(file *source.File) ([]TestCase, error)
}

// StrategyFor returns the extraction strategy of a dialect; nil for DialectNone.
func StrategyFor(d Dialect) Strategy {
	switch d {
	case DialectGuard:
		return guardStrategy{}
	case DialectInline:
		return inlineStrategy{}
	}
	return nil
}

// Probe decides the dialect from the fragment text alone. A single guard
// line selects the guard dialect even when inline markers are present.
func Probe(file *source.File) Dialect {
	lines := file.Lines()
	for _, line := range lines {
		if _, ok := matchGuard(line); ok {
			return DialectGuard
		}
	}
	for _, line := range lines {
		if markerTokenPattern.MatchString(commentPart(line)) {
			return DialectInline
		}
	}
	return DialectNone
}

// Parse probes the dialect and extracts the cases of a fragment.
func Parse(file *source.File) (*Set, error) {
	set := &Set{Path: file.Path, Dialect: Probe(file)}
	strategy := StrategyFor(set.Dialect)
	if strategy == nil {
		return set, nil
	}
	cases, err := strategy.Extract(file)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]uint32, len(cases))
	for _, tc := range cases {
		if first, dup := seen[tc.Name]; dup {
			return nil, structuralf(file.Path, tc.StartLine, "duplicate test case %s (first defined on line %d)", tc.Name, first)
		}
		seen[tc.Name] = tc.StartLine
	}
	set.Cases = cases
	return set, nil
}
