package diag

import "fmt"

// Diagnostic is one message emitted by the compiler subprocess.
type Diagnostic struct {
	File     string
	Line     uint32
	Column   uint32
	Severity Severity
	Message  string
	Raw      string
}

// Located reports whether the compiler attached a line to the diagnostic.
func (d Diagnostic) Located() bool {
	return d.Line > 0
}

func (d Diagnostic) String() string {
	switch {
	case d.Line == 0:
		return fmt.Sprintf("%s: %s: %s", d.File, d.Severity, d.Message)
	case d.Column == 0:
		return fmt.Sprintf("%s:%d: %s: %s", d.File, d.Line, d.Severity, d.Message)
	default:
		return fmt.Sprintf("%s:%d:%d: %s: %s", d.File, d.Line, d.Column, d.Severity, d.Message)
	}
}
