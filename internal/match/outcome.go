// Package match decides the outcome of each test case by pairing the
// compiler's diagnostics with the case's expectations.
package match

import (
	"fmt"
	"time"

	"nctest/internal/annot"
	"nctest/internal/diag"
)

// Outcome is the verdict for one test case.
type Outcome uint8

const (
	// Matched means every expectation was satisfied and nothing else went wrong.
	Matched Outcome = iota
	// UnexpectedDiagnostic means expectations held but an unexplained error appeared.
	UnexpectedDiagnostic
	// ExpectationMismatch means the compile failed without the expected diagnostics.
	ExpectationMismatch
	// UnexpectedSuccess means the compile succeeded where failure was required.
	UnexpectedSuccess
	// CompilerCrash covers signals, internal errors and timeouts.
	CompilerCrash
	// Skipped is reserved for disabled cases; they are never compiled.
	Skipped
)

var outcomeNames = [...]string{
	Matched:              "matched",
	UnexpectedDiagnostic: "unexpected-diagnostic",
	ExpectationMismatch:  "expectation-mismatch",
	UnexpectedSuccess:    "unexpected-success",
	CompilerCrash:        "compiler-crash",
	Skipped:              "skipped",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", o)
}

// MarshalText renders the outcome name in reports.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Passed reports whether the outcome counts as a pass.
func (o Outcome) Passed() bool { return o == Matched }

// Failed reports whether the outcome counts as a failure. Skips are neither.
func (o Outcome) Failed() bool { return o != Matched && o != Skipped }

// ExpectationResult records whether one expectation was satisfied and by what.
type ExpectationResult struct {
	Expectation annot.Expectation
	Matched     bool
	Evidence    string // the diagnostic line that satisfied it
}

// CaseResult is the complete verdict for one test case.
type CaseResult struct {
	Case         annot.TestCase
	Outcome      Outcome
	Reason       string
	Expectations []ExpectationResult
	Unexpected   []diag.Diagnostic
	Output       string
	Argv         []string
	Elapsed      time.Duration
	Cached       bool
}

// Name returns the case name.
func (r CaseResult) Name() string { return r.Case.Name }

// Unmatched lists the expectations that were not satisfied.
func (r CaseResult) Unmatched() []annot.Expectation {
	var out []annot.Expectation
	for _, er := range r.Expectations {
		if !er.Matched {
			out = append(out, er.Expectation)
		}
	}
	return out
}

// SkippedCase reports a disabled case without compiling it.
func SkippedCase(tc annot.TestCase) CaseResult {
	res := CaseResult{Case: tc, Outcome: Skipped, Reason: "disabled"}
	for _, exp := range tc.Expectations {
		res.Expectations = append(res.Expectations, ExpectationResult{Expectation: exp})
	}
	return res
}
