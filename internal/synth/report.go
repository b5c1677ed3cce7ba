// Package synth turns case verdicts into artifacts: the per-fragment
// translation unit and depfile, the human report, the JSON report and Go
// subtests.
package synth

import (
	"errors"
	"time"

	"nctest/internal/annot"
	"nctest/internal/match"
)

// FragmentResult gathers every verdict for one fragment.
type FragmentResult struct {
	Path    string
	Dialect annot.Dialect
	Cases   []match.CaseResult
	// Err is a structural error; no case of the fragment was run.
	Err error
	// Deps is the merged header list reported by the compiler.
	Deps    []string
	Elapsed time.Duration
}

// OK reports whether the fragment parsed and no case failed.
func (f FragmentResult) OK() bool {
	if f.Err != nil {
		return false
	}
	for _, c := range f.Cases {
		if c.Outcome.Failed() {
			return false
		}
	}
	return true
}

// StructuralError returns Err as an *annot.StructuralError when it is one.
func (f FragmentResult) StructuralError() (*annot.StructuralError, bool) {
	var se *annot.StructuralError
	if errors.As(f.Err, &se) {
		return se, true
	}
	return nil, false
}

// Totals counts cases by verdict. A fragment with a structural error counts
// as one failed case.
type Totals struct {
	Fragments int
	Total     int
	Passed    int
	Failed    int
	Skipped   int
}

// Report is the result of one run.
type Report struct {
	Compiler  string
	Fragments []FragmentResult
	Elapsed   time.Duration
}

// Totals aggregates the report.
func (r *Report) Totals() Totals {
	var t Totals
	if r == nil {
		return t
	}
	t.Fragments = len(r.Fragments)
	for _, f := range r.Fragments {
		if f.Err != nil {
			t.Total++
			t.Failed++
			continue
		}
		for _, c := range f.Cases {
			t.Total++
			switch {
			case c.Outcome == match.Skipped:
				t.Skipped++
			case c.Outcome.Passed():
				t.Passed++
			default:
				t.Failed++
			}
		}
	}
	return t
}

// OK is true when every executed case matched and every fragment parsed.
func (r *Report) OK() bool {
	if r == nil {
		return true
	}
	for _, f := range r.Fragments {
		if !f.OK() {
			return false
		}
	}
	return true
}

// Failures returns every failed case paired with its fragment path.
func (r *Report) Failures() []Failure {
	var out []Failure
	if r == nil {
		return out
	}
	for _, f := range r.Fragments {
		for _, c := range f.Cases {
			if c.Outcome.Failed() {
				out = append(out, Failure{Fragment: f.Path, Case: c})
			}
		}
	}
	return out
}

// Failure is a failed case in context.
type Failure struct {
	Fragment string
	Case     match.CaseResult
}
