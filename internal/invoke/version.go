package invoke

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

var compilerVersionPattern = regexp.MustCompile(`\b(\d+)\.(\d+)(?:\.(\d+))?`)

// CompilerVersion is the parsed result of `<compiler> --version`.
type CompilerVersion struct {
	Banner  string
	Version *semver.Version
}

// ProbeVersion asks the compiler for its version.
func ProbeVersion(ctx context.Context, runner Runner, compiler string) (CompilerVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	proc, err := runner.Run(ctx, []string{compiler, "--version"}, nil)
	if err != nil {
		return CompilerVersion{}, &InfrastructureError{Op: "version probe", Err: err}
	}
	if proc.ExitCode != 0 {
		return CompilerVersion{}, &InfrastructureError{
			Op:  "version probe",
			Err: fmt.Errorf("%s --version exited with status %d", compiler, proc.ExitCode),
		}
	}
	banner, _, _ := strings.Cut(strings.TrimSpace(proc.Output), "\n")
	banner = strings.TrimSpace(banner)
	m := compilerVersionPattern.FindString(banner)
	if m == "" {
		return CompilerVersion{Banner: banner}, &InfrastructureError{
			Op:  "version probe",
			Err: fmt.Errorf("no version number in %q", banner),
		}
	}
	v, err := semver.NewVersion(m)
	if err != nil {
		return CompilerVersion{Banner: banner}, &InfrastructureError{Op: "version probe", Err: err}
	}
	return CompilerVersion{Banner: banner, Version: v}, nil
}

// CheckVersion enforces a semver constraint such as ">= 15".
// An empty constraint accepts anything.
func CheckVersion(cv CompilerVersion, constraint string) error {
	if strings.TrimSpace(constraint) == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid compiler version constraint %q: %w", constraint, err)
	}
	if cv.Version == nil {
		return &InfrastructureError{Op: "version check", Err: errors.New("compiler version unknown")}
	}
	if !c.Check(cv.Version) {
		return &InfrastructureError{
			Op:  "version check",
			Err: fmt.Errorf("compiler version %s does not satisfy %q", cv.Version, constraint),
		}
	}
	return nil
}
