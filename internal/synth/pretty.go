package synth

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"nctest/internal/match"
)

// PrettyOptions controls the human report.
type PrettyOptions struct {
	Color bool
	// Verbose also lists passing and skipped cases.
	Verbose bool
	// MaxOutputLines caps the compiler output quoted per failure.
	MaxOutputLines int
}

type palette struct {
	pass, fail, skip, dim, bold *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		pass: color.New(color.FgGreen, color.Bold),
		fail: color.New(color.FgRed, color.Bold),
		skip: color.New(color.FgYellow),
		dim:  color.New(color.Faint),
		bold: color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.pass, p.fail, p.skip, p.dim, p.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// WritePretty writes the human-readable report followed by the summary line.
func WritePretty(w io.Writer, rep *Report, opts PrettyOptions) error {
	if opts.MaxOutputLines <= 0 {
		opts.MaxOutputLines = 20
	}
	p := newPalette(opts.Color)
	var sb strings.Builder

	for _, f := range rep.Fragments {
		if f.Err != nil {
			fmt.Fprintf(&sb, "%s %s\n", p.fail.Sprint("ERROR"), f.Err)
			continue
		}
		if len(f.Cases) == 0 && opts.Verbose {
			fmt.Fprintf(&sb, "%s  %s %s\n", p.dim.Sprint("NONE"), f.Path, p.dim.Sprint("(no test cases)"))
		}
		for _, c := range f.Cases {
			switch {
			case c.Outcome == match.Skipped:
				if opts.Verbose {
					fmt.Fprintf(&sb, "%s  %s %s\n", p.skip.Sprint("SKIP"), f.Path, c.Name())
				}
			case c.Outcome.Passed():
				if opts.Verbose {
					fmt.Fprintf(&sb, "%s  %s %s %s\n", p.pass.Sprint("PASS"), f.Path, c.Name(), p.dim.Sprint(elapsedNote(c)))
				}
			default:
				writeFailure(&sb, p, f.Path, c, opts.MaxOutputLines)
			}
		}
	}

	t := rep.Totals()
	if sb.Len() > 0 {
		sb.WriteByte('\n')
	}
	summary := fmt.Sprintf("%d total, %d skipped, %d passed, %d failed", t.Total, t.Skipped, t.Passed, t.Failed)
	if rep.OK() {
		summary = p.pass.Sprint("ok") + "  " + summary
	} else {
		summary = p.fail.Sprint("FAIL") + "  " + summary
	}
	if rep.Elapsed > 0 {
		summary += p.dim.Sprintf(" (%s)", rep.Elapsed.Round(time.Millisecond))
	}
	sb.WriteString(summary)
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeFailure(sb *strings.Builder, p palette, path string, c match.CaseResult, maxLines int) {
	fmt.Fprintf(sb, "%s  %s %s: %s\n", p.fail.Sprint("FAIL"), path, p.bold.Sprint(c.Name()), c.Outcome)
	if c.Reason != "" {
		fmt.Fprintf(sb, "      %s\n", c.Reason)
	}
	if unmatched := c.Unmatched(); len(unmatched) > 0 && c.Outcome != match.CompilerCrash {
		sb.WriteString("      expected:\n")
		for _, exp := range unmatched {
			fmt.Fprintf(sb, "        %s\n", exp)
		}
	}
	if c.Outcome == match.UnexpectedSuccess {
		return
	}
	sb.WriteString("      actual:\n")
	for _, line := range quotedOutput(c, maxLines) {
		fmt.Fprintf(sb, "        %s\n", p.dim.Sprint(line))
	}
	if len(c.Argv) > 0 {
		fmt.Fprintf(sb, "      command: %s\n", p.dim.Sprint(strings.Join(c.Argv, " ")))
	}
}

func elapsedNote(c match.CaseResult) string {
	if c.Cached {
		return "(cached)"
	}
	return fmt.Sprintf("(%s)", c.Elapsed.Round(time.Millisecond))
}
