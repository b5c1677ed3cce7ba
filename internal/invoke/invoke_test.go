package invoke

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nctest/internal/cache"
	"nctest/internal/depfile"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(ctx context.Context, argv []string) (Process, error)
}

func (f *fakeRunner) Run(ctx context.Context, argv []string, _ map[string]string) (Process, error) {
	f.mu.Lock()
	f.calls = append(f.calls, argv)
	f.mu.Unlock()
	return f.fn(ctx, argv)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func exitWith(code int, output string) func(context.Context, []string) (Process, error) {
	return func(context.Context, []string) (Process, error) {
		return Process{ExitCode: code, Output: output}, nil
	}
}

func hang(ctx context.Context, _ []string) (Process, error) {
	<-ctx.Done()
	return Process{ExitCode: -1, Signaled: true}, ctx.Err()
}

func TestCommand(t *testing.T) {
	tc := Toolchain{
		Compiler:         "clang++",
		Std:              "c++20",
		IncludeDirs:      []string{"include"},
		Defines:          []string{"FOO=1"},
		WarningsAsErrors: true,
		Flags:            []string{"-Wall"},
	}
	job := Job{Source: "a.nc", Guard: "NCTEST_X", Object: "out/a/NCTEST_X.o", DepFile: "out/a/NCTEST_X.d"}
	want := []string{
		"clang++", "-fdiagnostics-color=never", "-std=c++20", "-Iinclude", "-DFOO=1", "-Werror", "-Wall",
		"-fsyntax-only", "-MD", "-MF", "out/a/NCTEST_X.d", "-MT", "out/a/NCTEST_X.o", "-DNCTEST_X", "a.nc",
	}
	if diff := cmp.Diff(want, tc.Command(job)); diff != "" {
		t.Errorf("syntax-only argv mismatch (-want +got):\n%s", diff)
	}

	tc = Toolchain{Compiler: "g++", Mode: ModeCompileOnly}
	got := tc.Command(Job{Source: "b.nc"})
	want = []string{"g++", "-fdiagnostics-color=never", "-c", "-o", os.DevNull, "b.nc"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("compile-only argv mismatch (-want +got):\n%s", diff)
	}
}

func TestToolchainValidate(t *testing.T) {
	if err := (Toolchain{}).Validate(); err == nil {
		t.Error("expected missing compiler to be rejected")
	}
	if err := (Toolchain{Compiler: "cc", Mode: "link"}).Validate(); err == nil {
		t.Error("expected unknown mode to be rejected")
	}
	if err := (Toolchain{Compiler: "cc", Timeout: -time.Second}).Validate(); err == nil {
		t.Error("expected negative timeout to be rejected")
	}
	if err := (Toolchain{Compiler: "cc", Mode: ModeCompileOnly}).Validate(); err != nil {
		t.Errorf("valid toolchain rejected: %v", err)
	}
}

func TestResultClassification(t *testing.T) {
	tests := []struct {
		name      string
		res       Result
		succeeded bool
		crashed   bool
	}{
		{name: "clean", res: Result{ExitCode: 0}, succeeded: true},
		{name: "ordinary error", res: Result{ExitCode: 1, Output: "a.nc:1:1: error: nope"}},
		{name: "timeout", res: Result{TimedOut: true, Elapsed: time.Second}, crashed: true},
		{name: "signal", res: Result{ExitCode: -1, Signaled: true}, crashed: true},
		{name: "ice exit status", res: Result{ExitCode: 4}, crashed: true},
		{name: "crash banner", res: Result{ExitCode: 1, Output: "PLEASE submit a bug report to https://github.com/llvm"}, crashed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Succeeded(); got != tt.succeeded {
				t.Errorf("Succeeded() = %v, want %v", got, tt.succeeded)
			}
			if got := tt.res.Crashed(); got != tt.crashed {
				t.Errorf("Crashed() = %v, want %v (reason %q)", got, tt.crashed, tt.res.CrashReason())
			}
		})
	}
}

func TestInvokeTimeout(t *testing.T) {
	runner := &fakeRunner{fn: hang}
	inv := New(Toolchain{Compiler: "cc", Timeout: 20 * time.Millisecond}, WithRunner(runner))
	res, err := inv.Invoke(context.Background(), Job{Source: "slow.nc"})
	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	if !res.TimedOut || !res.Crashed() {
		t.Fatalf("expected a timed-out crash, got %+v", res)
	}
	if !strings.Contains(res.CrashReason(), "timed out") {
		t.Errorf("CrashReason() = %q", res.CrashReason())
	}
}

func TestInvokeCancelled(t *testing.T) {
	runner := &fakeRunner{fn: hang}
	inv := New(Toolchain{Compiler: "cc"}, WithRunner(runner))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := inv.Invoke(ctx, Job{Source: "a.nc"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestInvokeMissingCompiler(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, []string) (Process, error) {
		return Process{}, fmt.Errorf("exec: %q: %w", "nope++", exec.ErrNotFound)
	}}
	inv := New(Toolchain{Compiler: "nope++"}, WithRunner(runner))
	_, err := inv.Invoke(context.Background(), Job{Source: "a.nc"})
	var infra *InfrastructureError
	if !errors.As(err, &infra) {
		t.Fatalf("expected InfrastructureError, got %v", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("expected error chain to contain exec.ErrNotFound: %v", err)
	}
}

func TestInvokeAllKeepsOrderAndIsolatesTimeouts(t *testing.T) {
	runner := &fakeRunner{fn: func(ctx context.Context, argv []string) (Process, error) {
		if argv[len(argv)-1] == "hang.nc" {
			return hang(ctx, argv)
		}
		return Process{ExitCode: 1, Output: argv[len(argv)-1] + ":1:1: error: boom"}, nil
	}}
	inv := New(Toolchain{Compiler: "cc", Timeout: 30 * time.Millisecond}, WithRunner(runner), WithWorkers(2))
	jobs := []Job{{Source: "a.nc"}, {Source: "hang.nc"}, {Source: "b.nc"}, {Source: "c.nc"}}

	var mu sync.Mutex
	done := map[int]bool{}
	results, err := inv.InvokeAll(context.Background(), jobs, Hooks{
		OnDone: func(i int, _ Result) {
			mu.Lock()
			done[i] = true
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("InvokeAll: %v", err)
	}
	if len(results) != len(jobs) || len(done) != len(jobs) {
		t.Fatalf("expected %d results and callbacks, got %d and %d", len(jobs), len(results), len(done))
	}
	for i, res := range results {
		if res.Job.Source != jobs[i].Source {
			t.Errorf("result %d belongs to %s", i, res.Job.Source)
		}
		if want := jobs[i].Source == "hang.nc"; res.TimedOut != want {
			t.Errorf("%s: TimedOut = %v, want %v", res.Job.Source, res.TimedOut, want)
		}
	}
}

func TestInvokeAllBoundsConcurrency(t *testing.T) {
	const workers = 3
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	runner := &fakeRunner{fn: func(context.Context, []string) (Process, error) {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return Process{ExitCode: 1}, nil
	}}
	inv := New(Toolchain{Compiler: "cc"}, WithRunner(runner), WithWorkers(workers))
	jobs := make([]Job, 4*workers)
	for i := range jobs {
		jobs[i] = Job{Source: fmt.Sprintf("f%d.nc", i)}
	}
	if _, err := inv.InvokeAll(context.Background(), jobs, Hooks{}); err != nil {
		t.Fatalf("InvokeAll: %v", err)
	}
	if runner.callCount() != len(jobs) {
		t.Fatalf("ran %d jobs, want %d", runner.callCount(), len(jobs))
	}
	if peak > workers {
		t.Errorf("%d compilers in flight, want at most %d", peak, workers)
	}
	if peak < 2 {
		t.Errorf("jobs never overlapped (peak %d)", peak)
	}
}

func TestInvokeAllAbortsOnInfrastructureError(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, []string) (Process, error) {
		return Process{}, exec.ErrNotFound
	}}
	inv := New(Toolchain{Compiler: "cc"}, WithRunner(runner), WithWorkers(1))
	_, err := inv.InvokeAll(context.Background(), []Job{{Source: "a.nc"}, {Source: "b.nc"}}, Hooks{})
	var infra *InfrastructureError
	if !errors.As(err, &infra) {
		t.Fatalf("expected InfrastructureError, got %v", err)
	}
	if runner.callCount() != 1 {
		t.Errorf("expected the pool to stop after the first failure, ran %d jobs", runner.callCount())
	}
}

func TestInvokeReusesCache(t *testing.T) {
	dir := t.TempDir()
	header := filepath.Join(dir, "dep.h")
	if err := os.WriteFile(header, []byte("struct A;\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := cache.Open(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	job := Job{
		Source:     filepath.Join(dir, "a.nc"),
		SourceHash: [32]byte{1},
		Object:     filepath.Join(dir, "out", "a.o"),
		DepFile:    filepath.Join(dir, "out", "a.d"),
	}
	runner := &fakeRunner{fn: func(context.Context, []string) (Process, error) {
		if err := depfile.WriteFile(job.DepFile, job.Object, []string{job.Source, header}); err != nil {
			return Process{}, err
		}
		return Process{ExitCode: 1, Output: "a.nc:3:1: error: incomplete type"}, nil
	}}
	inv := New(Toolchain{Compiler: "cc"}, WithRunner(runner), WithCache(c, "cc 1.0"))

	first, err := inv.Invoke(context.Background(), job)
	if err != nil || first.Cached {
		t.Fatalf("first run: cached=%v err=%v", first.Cached, err)
	}
	if err := os.Remove(job.DepFile); err != nil {
		t.Fatal(err)
	}
	second, err := inv.Invoke(context.Background(), job)
	if err != nil || !second.Cached {
		t.Fatalf("second run: cached=%v err=%v", second.Cached, err)
	}
	if second.Output != first.Output || second.ExitCode != 1 {
		t.Errorf("cached result differs: %+v", second)
	}
	if _, err := os.Stat(job.DepFile); err != nil {
		t.Errorf("depfile should be restored on a cache hit: %v", err)
	}
	if runner.callCount() != 1 {
		t.Fatalf("expected one compile, got %d", runner.callCount())
	}

	if err := os.WriteFile(header, []byte("struct A {};\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	third, err := inv.Invoke(context.Background(), job)
	if err != nil || third.Cached {
		t.Fatalf("header change must invalidate: cached=%v err=%v", third.Cached, err)
	}
	if runner.callCount() != 2 {
		t.Errorf("expected a recompile, got %d calls", runner.callCount())
	}
}

func TestProbeAndCheckVersion(t *testing.T) {
	tests := []struct {
		banner string
		want   string
	}{
		{banner: "clang version 17.0.6 (Fedora 17.0.6-2.fc39)\nTarget: x86_64", want: "17.0.6"},
		{banner: "g++ (Ubuntu 11.4.0-1ubuntu1~22.04) 11.4.0\nCopyright", want: "11.4.0"},
		{banner: "Apple clang version 15.0.0 (clang-1500.3.9.4)", want: "15.0.0"},
	}
	for _, tt := range tests {
		runner := &fakeRunner{fn: exitWith(0, tt.banner)}
		cv, err := ProbeVersion(context.Background(), runner, "cc")
		if err != nil {
			t.Fatalf("ProbeVersion(%q): %v", tt.banner, err)
		}
		if cv.Version.String() != tt.want {
			t.Errorf("ProbeVersion(%q) = %s, want %s", tt.banner, cv.Version, tt.want)
		}
	}

	runner := &fakeRunner{fn: exitWith(0, "clang version 17.0.6")}
	cv, err := ProbeVersion(context.Background(), runner, "clang++")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckVersion(cv, ">= 15"); err != nil {
		t.Errorf("CheckVersion(>= 15): %v", err)
	}
	var infra *InfrastructureError
	if err := CheckVersion(cv, "< 16"); !errors.As(err, &infra) {
		t.Errorf("CheckVersion(< 16) = %v, want InfrastructureError", err)
	}
	if err := CheckVersion(cv, ""); err != nil {
		t.Errorf("empty constraint must accept: %v", err)
	}

	if _, err := ProbeVersion(context.Background(), &fakeRunner{fn: exitWith(0, "no digits here")}, "cc"); err == nil {
		t.Error("expected an error for a banner without a version")
	}
}
