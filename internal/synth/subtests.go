package synth

import (
	"strings"
	"testing"

	"nctest/internal/match"
)

// RunSubtests reports a run through Go's test runner: one subtest per
// fragment and one nested subtest per case.
func RunSubtests(t *testing.T, rep *Report) {
	t.Helper()
	for _, f := range rep.Fragments {
		t.Run(f.Path, func(t *testing.T) {
			if f.Err != nil {
				t.Fatalf("%v", f.Err)
			}
			if len(f.Cases) == 0 {
				t.Skip("no test cases")
			}
			for _, c := range f.Cases {
				t.Run(c.Name(), func(t *testing.T) {
					switch {
					case c.Outcome == match.Skipped:
						t.Skip(c.Reason)
					case c.Outcome.Failed():
						t.Error(describeFailure(c))
					}
				})
			}
		})
	}
}

func describeFailure(c match.CaseResult) string {
	var sb strings.Builder
	sb.WriteString(c.Outcome.String())
	if c.Reason != "" {
		sb.WriteString(": " + c.Reason)
	}
	if c.Outcome != match.UnexpectedSuccess && c.Outcome != match.CompilerCrash {
		for _, line := range quotedOutput(c, 20) {
			sb.WriteString("\n\t" + line)
		}
	}
	return sb.String()
}
