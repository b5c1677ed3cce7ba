package synth

import (
	"encoding/json"
	"fmt"
	"io"

	cyberphone "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

type jsonReport struct {
	OK        bool           `json:"ok"`
	Compiler  string         `json:"compiler,omitempty"`
	Totals    jsonTotals     `json:"totals"`
	Fragments []jsonFragment `json:"fragments"`
}

type jsonTotals struct {
	Fragments int `json:"fragments"`
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type jsonFragment struct {
	Path    string     `json:"path"`
	Dialect string     `json:"dialect"`
	Error   string     `json:"error,omitempty"`
	Cases   []jsonCase `json:"cases"`
}

type jsonCase struct {
	Name         string            `json:"name"`
	Outcome      string            `json:"outcome"`
	Reason       string            `json:"reason,omitempty"`
	Guard        string            `json:"guard,omitempty"`
	StartLine    uint32            `json:"start_line"`
	EndLine      uint32            `json:"end_line"`
	Expectations []jsonExpectation `json:"expectations"`
	Unexpected   []string          `json:"unexpected,omitempty"`
	Output       string            `json:"output,omitempty"`
	Command      []string          `json:"command,omitempty"`
}

type jsonExpectation struct {
	Text     string `json:"text"`
	Pattern  bool   `json:"pattern"`
	Severity string `json:"severity"`
	Line     uint32 `json:"line,omitempty"`
	Matched  bool   `json:"matched"`
	Evidence string `json:"evidence,omitempty"`
}

// WriteJSON writes the report as RFC 8785 canonical JSON. Elapsed times and
// cache state are left out so identical runs produce identical bytes.
func WriteJSON(w io.Writer, rep *Report) error {
	t := rep.Totals()
	out := jsonReport{
		OK:       rep.OK(),
		Compiler: rep.Compiler,
		Totals: jsonTotals{
			Fragments: t.Fragments,
			Total:     t.Total,
			Passed:    t.Passed,
			Failed:    t.Failed,
			Skipped:   t.Skipped,
		},
		Fragments: make([]jsonFragment, 0, len(rep.Fragments)),
	}
	for _, f := range rep.Fragments {
		jf := jsonFragment{Path: f.Path, Dialect: f.Dialect.String(), Cases: make([]jsonCase, 0, len(f.Cases))}
		if f.Err != nil {
			jf.Error = f.Err.Error()
		}
		for _, c := range f.Cases {
			jc := jsonCase{
				Name:         c.Name(),
				Outcome:      c.Outcome.String(),
				Reason:       c.Reason,
				Guard:        c.Case.Guard,
				StartLine:    c.Case.StartLine,
				EndLine:      c.Case.EndLine,
				Expectations: make([]jsonExpectation, 0, len(c.Expectations)),
			}
			for _, er := range c.Expectations {
				jc.Expectations = append(jc.Expectations, jsonExpectation{
					Text:     er.Expectation.Text,
					Pattern:  er.Expectation.IsPattern(),
					Severity: er.Expectation.Severity.Class().String(),
					Line:     er.Expectation.Line,
					Matched:  er.Matched,
					Evidence: er.Evidence,
				})
			}
			for _, d := range c.Unexpected {
				jc.Unexpected = append(jc.Unexpected, d.Raw)
			}
			if c.Outcome.Failed() {
				jc.Output = c.Output
				jc.Command = c.Argv
			}
			jf.Cases = append(jf.Cases, jc)
		}
		out.Fragments = append(out.Fragments, jf)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	canonical, err := cyberphone.Transform(raw)
	if err != nil {
		return fmt.Errorf("failed to canonicalize report: %w", err)
	}
	if _, err := w.Write(canonical); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}
