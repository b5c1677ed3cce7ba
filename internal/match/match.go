package match

import (
	"fmt"
	"strings"

	"nctest/internal/annot"
	"nctest/internal/diag"
	"nctest/internal/invoke"
	"nctest/internal/source"
)

// Inline judges every case of an inline-marker fragment from the single
// compile of that fragment. An expectation is satisfied by a diagnostic in
// the fragment on the anchored line with the same severity class and a
// matching message. Any error that no marker explains fails every case that
// would otherwise pass.
func Inline(fragment string, cases []annot.TestCase, res invoke.Result) []CaseResult {
	out := make([]CaseResult, 0, len(cases))
	if res.Crashed() {
		for _, tc := range cases {
			out = append(out, crashed(tc, res))
		}
		return out
	}

	diags := diag.Parse(res.Output).Items()
	explained := make([]bool, len(diags))

	for _, tc := range cases {
		cr := newResult(tc, res)
		hasErrorExpectation := false
		for _, exp := range tc.Expectations {
			if exp.Severity.IsError() {
				hasErrorExpectation = true
			}
			er := ExpectationResult{Expectation: exp}
			for i, d := range diags {
				if !inlineSatisfies(fragment, exp, d) {
					continue
				}
				explained[i] = true
				if !er.Matched {
					er.Matched = true
					er.Evidence = d.Raw
				}
			}
			cr.Expectations = append(cr.Expectations, er)
		}
		switch {
		case res.Succeeded() && hasErrorExpectation:
			cr.Outcome = UnexpectedSuccess
			cr.Reason = "compilation succeeded but an error was expected"
		case len(cr.Unmatched()) > 0:
			cr.Outcome = ExpectationMismatch
			cr.Reason = describeUnmatched(cr.Unmatched())
		}
		out = append(out, cr)
	}

	var strays []diag.Diagnostic
	for i, d := range diags {
		if !explained[i] && d.Severity.IsError() {
			strays = append(strays, d)
		}
	}
	if len(strays) == 0 {
		return out
	}
	// gcc repeats an error once per instantiation
	bag := diag.NewBag(strays...)
	bag.Dedup()
	bag.Sort()
	strays = bag.Items()
	for i := range out {
		out[i].Unexpected = strays
		if out[i].Outcome == Matched {
			out[i].Outcome = UnexpectedDiagnostic
			out[i].Reason = describeStrays(strays)
		}
	}
	return out
}

func inlineSatisfies(fragment string, exp annot.Expectation, d diag.Diagnostic) bool {
	if exp.Severity.Class() != d.Severity.Class() {
		return false
	}
	if !exp.Anywhere {
		if !d.Located() || d.Line != exp.Line || !source.SamePath(d.File, fragment) {
			return false
		}
	}
	return exp.Matches(d.Message)
}

// Guard judges one guard case from the compile that defined its symbol.
// Every pattern must match somewhere in the compiler output; other
// diagnostics are ignored.
func Guard(tc annot.TestCase, res invoke.Result) CaseResult {
	if tc.Disabled {
		return SkippedCase(tc)
	}
	if res.Crashed() {
		return crashed(tc, res)
	}
	cr := newResult(tc, res)
	lines := strings.Split(res.Output, "\n")
	for _, exp := range tc.Expectations {
		er := ExpectationResult{Expectation: exp}
		for _, line := range lines {
			if exp.Matches(line) {
				er.Matched = true
				er.Evidence = strings.TrimRight(line, "\r")
				break
			}
		}
		if !er.Matched && exp.Matches(res.Output) {
			er.Matched = true
		}
		cr.Expectations = append(cr.Expectations, er)
	}
	switch {
	case res.Succeeded():
		cr.Outcome = UnexpectedSuccess
		cr.Reason = fmt.Sprintf("compilation with %s succeeded but was expected to fail", tc.Guard)
	case len(cr.Unmatched()) > 0:
		cr.Outcome = ExpectationMismatch
		cr.Reason = describeUnmatched(cr.Unmatched())
	}
	return cr
}

func newResult(tc annot.TestCase, res invoke.Result) CaseResult {
	return CaseResult{
		Case:    tc,
		Outcome: Matched,
		Output:  res.Output,
		Argv:    res.Argv,
		Elapsed: res.Elapsed,
		Cached:  res.Cached,
	}
}

func crashed(tc annot.TestCase, res invoke.Result) CaseResult {
	if tc.Disabled {
		return SkippedCase(tc)
	}
	cr := newResult(tc, res)
	cr.Outcome = CompilerCrash
	cr.Reason = res.CrashReason()
	for _, exp := range tc.Expectations {
		cr.Expectations = append(cr.Expectations, ExpectationResult{Expectation: exp})
	}
	return cr
}

func describeUnmatched(exps []annot.Expectation) string {
	parts := make([]string, 0, len(exps))
	for _, exp := range exps {
		parts = append(parts, exp.String())
	}
	if len(parts) == 1 {
		return "no diagnostic matched " + parts[0]
	}
	return fmt.Sprintf("no diagnostic matched %d expectations: %s", len(parts), strings.Join(parts, ", "))
}

func describeStrays(strays []diag.Diagnostic) string {
	if len(strays) == 1 {
		return "unexpected diagnostic: " + strays[0].String()
	}
	return fmt.Sprintf("%d unexpected diagnostics, first: %s", len(strays), strays[0].String())
}
