package diag

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevNote attaches context to a preceding diagnostic.
	SevNote Severity = iota
	// SevRemark is an informational message (clang -R flags).
	SevRemark
	// SevWarning is a warning that does not stop compilation.
	SevWarning
	// SevError is a compile error.
	SevError
	// SevFatal is an error after which the compiler stops.
	SevFatal
)

func (s Severity) String() string {
	switch s {
	case SevNote:
		return "note"
	case SevRemark:
		return "remark"
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	case SevFatal:
		return "fatal error"
	}
	return "unknown"
}

// IsError reports whether the severity stops a successful compile.
func (s Severity) IsError() bool {
	return s >= SevError
}

// Class folds fatal errors into errors; expectations are written per class.
func (s Severity) Class() Severity {
	if s == SevFatal {
		return SevError
	}
	return s
}

// ParseSeverity converts a compiler label into a Severity.
func ParseSeverity(label string) (Severity, bool) {
	switch label {
	case "note":
		return SevNote, true
	case "remark":
		return SevRemark, true
	case "warning":
		return SevWarning, true
	case "error":
		return SevError, true
	case "fatal error":
		return SevFatal, true
	}
	return SevNote, false
}
