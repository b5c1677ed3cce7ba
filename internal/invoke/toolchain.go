// Package invoke runs the C++ compiler once per compilation job and
// collects what it printed.
package invoke

import (
	"fmt"
	"os"
	"time"
)

// Mode selects how far the compiler goes.
type Mode string

const (
	// ModeSyntaxOnly stops after semantic analysis (-fsyntax-only).
	ModeSyntaxOnly Mode = "syntax-only"
	// ModeCompileOnly emits a throwaway object (-c -o).
	ModeCompileOnly Mode = "compile-only"
)

// DefaultTimeout bounds a single compiler run when none is configured.
const DefaultTimeout = 2 * time.Minute

// Toolchain is the compiler configuration shared by every job of a run.
type Toolchain struct {
	Compiler         string
	Flags            []string
	Std              string
	IncludeDirs      []string
	Defines          []string
	WarningsAsErrors bool
	Mode             Mode
	Timeout          time.Duration
	Env              map[string]string
}

// Validate reports configuration mistakes before any compile starts.
func (tc Toolchain) Validate() error {
	if tc.Compiler == "" {
		return fmt.Errorf("no compiler configured")
	}
	switch tc.Mode {
	case "", ModeSyntaxOnly, ModeCompileOnly:
	default:
		return fmt.Errorf("unknown compile mode %q (want %s or %s)", tc.Mode, ModeSyntaxOnly, ModeCompileOnly)
	}
	if tc.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", tc.Timeout)
	}
	return nil
}

func (tc Toolchain) timeout() time.Duration {
	if tc.Timeout == 0 {
		return DefaultTimeout
	}
	return tc.Timeout
}

// Job is one compiler invocation: a whole fragment, or a fragment with one
// guard symbol defined.
type Job struct {
	Source     string
	SourceHash [32]byte
	Case       string
	Guard      string
	Object     string
	DepFile    string
}

func (j Job) String() string {
	if j.Case == "" {
		return j.Source
	}
	return j.Source + ":" + j.Case
}

// Command builds the compiler argv for a job.
func (tc Toolchain) Command(job Job) []string {
	argv := make([]string, 0, 16+len(tc.Flags)+len(tc.IncludeDirs)+len(tc.Defines))
	argv = append(argv, tc.Compiler, "-fdiagnostics-color=never")
	if tc.Std != "" {
		argv = append(argv, "-std="+tc.Std)
	}
	for _, dir := range tc.IncludeDirs {
		argv = append(argv, "-I"+dir)
	}
	for _, def := range tc.Defines {
		argv = append(argv, "-D"+def)
	}
	if tc.WarningsAsErrors {
		argv = append(argv, "-Werror")
	}
	argv = append(argv, tc.Flags...)

	if tc.Mode == ModeCompileOnly {
		out := job.Object
		if out == "" {
			out = os.DevNull
		}
		argv = append(argv, "-c", "-o", out)
	} else {
		argv = append(argv, "-fsyntax-only")
	}
	if job.DepFile != "" {
		argv = append(argv, "-MD", "-MF", job.DepFile)
		if job.Object != "" {
			argv = append(argv, "-MT", job.Object)
		}
	}
	if job.Guard != "" {
		argv = append(argv, "-D"+job.Guard)
	}
	return append(argv, job.Source)
}
