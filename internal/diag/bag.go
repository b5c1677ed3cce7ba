package diag

import (
	"fmt"
	"sort"
)

// Bag holds the diagnostics recovered from one compiler invocation.
type Bag struct {
	items []Diagnostic
}

// NewBag wraps already parsed diagnostics.
func NewBag(items ...Diagnostic) *Bag {
	return &Bag{items: items}
}

// Add appends a diagnostic.
func (b *Bag) Add(d Diagnostic) {
	b.items = append(b.items, d)
}

// Len returns the number of diagnostics.
func (b *Bag) Len() int {
	return len(b.items)
}

// Items returns the diagnostics in stream order. Do not modify the slice.
func (b *Bag) Items() []Diagnostic {
	return b.items
}

// Sort orders diagnostics by file, line, column, severity (desc) and message
// for a stable report regardless of the order the compiler printed them in.
func (b *Bag) Sort() {
	sort.SliceStable(b.items, func(i, j int) bool {
		di, dj := b.items[i], b.items[j]
		if di.File != dj.File {
			return di.File < dj.File
		}
		if di.Line != dj.Line {
			return di.Line < dj.Line
		}
		if di.Column != dj.Column {
			return di.Column < dj.Column
		}
		if di.Severity != dj.Severity {
			return di.Severity > dj.Severity
		}
		return di.Message < dj.Message
	})
}

// Dedup drops repeated diagnostics; gcc repeats some errors once per
// template instantiation.
func (b *Bag) Dedup() {
	seen := make(map[string]bool, len(b.items))
	items := make([]Diagnostic, 0, len(b.items))
	for _, d := range b.items {
		key := fmt.Sprintf("%s:%d:%d:%d:%s", d.File, d.Line, d.Column, d.Severity, d.Message)
		if seen[key] {
			continue
		}
		seen[key] = true
		items = append(items, d)
	}
	b.items = items
}
