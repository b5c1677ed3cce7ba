package invoke

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"time"
)

// Process is what a finished child left behind.
type Process struct {
	ExitCode int
	Signaled bool
	Output   string
}

// Runner starts a process and waits for it. When ctx ends before the
// process does, the whole process tree is killed and ctx.Err() is returned
// alongside whatever output was captured.
type Runner interface {
	Run(ctx context.Context, argv []string, env map[string]string) (Process, error)
}

// OSRunner runs real processes.
type OSRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after a kill.
	WaitDelay time.Duration
}

// Run implements Runner.
func (r OSRunner) Run(ctx context.Context, argv []string, env map[string]string) (Process, error) {
	if len(argv) == 0 {
		return Process{}, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = mergeEnv(os.Environ(), env)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}
	prepareCommand(cmd)

	err := cmd.Run()
	proc := Process{Output: out.String()}
	if cmd.ProcessState != nil {
		proc.ExitCode = cmd.ProcessState.ExitCode()
		proc.Signaled = signaled(cmd.ProcessState)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return proc, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return proc, nil
		}
		return proc, err
	}
	return proc, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
