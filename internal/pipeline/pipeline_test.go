package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nctest/internal/cache"
	"nctest/internal/depfile"
	"nctest/internal/invoke"
	"nctest/internal/match"
	"nctest/internal/synth"
)

// scriptedRunner answers compiler invocations from canned output keyed by
// the -D guard (or by the source path for inline fragments). It also writes
// the requested depfile the way a real compiler would.
type scriptedRunner struct {
	mu      sync.Mutex
	calls   [][]string
	outputs map[string]invoke.Process
	hang    map[string]bool
	headers []string
}

func (r *scriptedRunner) Run(ctx context.Context, argv []string, _ map[string]string) (invoke.Process, error) {
	r.mu.Lock()
	r.calls = append(r.calls, argv)
	r.mu.Unlock()

	src := argv[len(argv)-1]
	key := filepath.Base(src)
	for _, arg := range argv {
		if strings.HasPrefix(arg, "-DNCTEST") || strings.HasPrefix(arg, "-DDISABLED_") {
			key = strings.TrimPrefix(arg, "-D")
		}
	}
	if r.hang[key] {
		<-ctx.Done()
		return invoke.Process{ExitCode: -1, Signaled: true}, ctx.Err()
	}
	if i := slices.Index(argv, "-MF"); i >= 0 {
		target := argv[i+1]
		if j := slices.Index(argv, "-MT"); j >= 0 {
			target = argv[j+1]
		}
		if err := depfile.WriteFile(argv[i+1], target, append([]string{src}, r.headers...)); err != nil {
			return invoke.Process{}, err
		}
	}
	proc, ok := r.outputs[key]
	if !ok {
		return invoke.Process{ExitCode: 0}, nil
	}
	return proc, nil
}

func (r *scriptedRunner) sawArg(arg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, argv := range r.calls {
		if slices.Contains(argv, arg) {
			return true
		}
	}
	return false
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func writeFragment(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newInvoker(runner invoke.Runner, timeout time.Duration) *invoke.Invoker {
	return invoke.New(invoke.Toolchain{Compiler: "clang++", Std: "c++20", Timeout: timeout}, invoke.WithRunner(runner))
}

const guardFragment = `#include <utility>

#if defined(NCTEST_NEEDS_SEMICOLON)  // [r"expected ',' or ';' at end of input"]
int a = 1
#elif defined(DISABLED_NCTEST_NOT_READY)  // [r"later"]
int b;
#endif
`

func caseOutcomes(rep *synth.Report) map[string]match.Outcome {
	out := make(map[string]match.Outcome)
	for _, f := range rep.Fragments {
		for _, c := range f.Cases {
			out[filepath.Base(f.Path)+":"+c.Name()] = c.Outcome
		}
	}
	return out
}

func TestRunGuardFragment(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "semicolon.nc", guardFragment)
	runner := &scriptedRunner{
		outputs: map[string]invoke.Process{
			"NCTEST_NEEDS_SEMICOLON": {ExitCode: 1, Output: frag + ":4:10: error: expected ‘,’ or ‘;’ at end of input\n"},
		},
		headers: []string{"/usr/include/c++/13/utility"},
	}
	out := filepath.Join(dir, "out")
	sink := &RecordingSink{}
	res, err := Run(context.Background(), &Request{
		Fragments: []string{frag},
		OutDir:    out,
		Invoker:   newInvoker(runner, 0),
		Progress:  sink,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]match.Outcome{
		"semicolon.nc:NCTEST_NEEDS_SEMICOLON":    match.Matched,
		"semicolon.nc:DISABLED_NCTEST_NOT_READY": match.Skipped,
	}
	if diff := cmp.Diff(want, caseOutcomes(res.Report)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if !res.Report.OK() {
		t.Error("report should be OK")
	}
	if runner.sawArg("-DDISABLED_NCTEST_NOT_READY") {
		t.Error("disabled case must not be compiled")
	}
	if runner.callCount() != 1 {
		t.Errorf("expected one compile, got %d", runner.callCount())
	}

	if len(res.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(res.Artifacts))
	}
	art := res.Artifacts[0]
	if filepath.Dir(art.Unit) != FragmentDir(out, frag) {
		t.Errorf("unit written to %s", art.Unit)
	}
	unit, err := os.ReadFile(art.Unit)
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	for _, line := range []string{
		"TEST(SemicolonNoCompileTest, NCTEST_NEEDS_SEMICOLON) {}",
		"TEST(SemicolonNoCompileTest, DISABLED_NCTEST_NOT_READY) {}",
	} {
		if !strings.Contains(string(unit), line) {
			t.Errorf("unit lacks %q:\n%s", line, unit)
		}
	}
	rules, err := depfile.ParseFile(art.DepFile)
	if err != nil {
		t.Fatalf("parse artifact depfile: %v", err)
	}
	wantDeps := []string{frag, "/usr/include/c++/13/utility"}
	if diff := cmp.Diff(wantDeps, depfile.Deps(rules)); diff != "" {
		t.Errorf("artifact deps mismatch (-want +got):\n%s", diff)
	}

	var sawDone bool
	for _, evt := range sink.Events() {
		if evt.File == frag && evt.Stage == StageSynth && evt.Status == StatusDone {
			sawDone = true
		}
	}
	if !sawDone {
		t.Error("expected a final done event for the fragment")
	}
}

const inlineFragment = `void StaticAssert() {
  static_assert(1 == 2);  // expected-error {{static assertion failed}}
}
`

func TestRunInlineFragment(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "assert.nc", inlineFragment)

	tests := []struct {
		name   string
		output string
		want   match.Outcome
	}{
		{name: "exact message", output: frag + ":2:3: error: static assertion failed due to requirement '1 == 2'\n", want: match.Matched},
		{name: "different message", output: frag + ":2:3: error: use of undeclared identifier 'x'\n", want: match.ExpectationMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{outputs: map[string]invoke.Process{
				"assert.nc": {ExitCode: 1, Output: tt.output},
			}}
			res, err := Run(context.Background(), &Request{Fragments: []string{frag}, Invoker: newInvoker(runner, 0)})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			got := res.Report.Fragments[0].Cases[0]
			if got.Outcome != tt.want {
				t.Fatalf("outcome = %s (%s), want %s", got.Outcome, got.Reason, tt.want)
			}
			if tt.want == match.ExpectationMismatch && !strings.Contains(got.Output, "undeclared identifier") {
				t.Error("mismatch must carry the full compiler output")
			}
			if len(res.Artifacts) != 0 {
				t.Error("no artifacts expected without an output dir")
			}
		})
	}
}

func TestRunZeroAnnotationsPassesWithoutCompiling(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "plain.nc", "int main() { return 0; }\n")
	runner := &scriptedRunner{}
	res, err := Run(context.Background(), &Request{
		Fragments: []string{frag},
		OutDir:    filepath.Join(dir, "out"),
		Invoker:   newInvoker(runner, 0),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runner.callCount() != 0 {
		t.Errorf("no compile expected, got %d", runner.callCount())
	}
	if !res.Report.OK() || res.Report.Totals().Total != 0 {
		t.Errorf("expected a vacuous pass, got %+v", res.Report.Totals())
	}
	unit, err := os.ReadFile(res.Artifacts[0].Unit)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(unit), "#error") || strings.Contains(string(unit), "TEST(") {
		t.Errorf("unexpected unit content:\n%s", unit)
	}
}

func TestRunUnexpectedSuccess(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "semicolon.nc", guardFragment)
	res, err := Run(context.Background(), &Request{
		Fragments: []string{frag},
		OutDir:    filepath.Join(dir, "out"),
		Invoker:   newInvoker(&scriptedRunner{}, 0),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Report.Fragments[0].Cases[0].Outcome; got != match.UnexpectedSuccess {
		t.Fatalf("outcome = %s, want unexpected-success", got)
	}
	unit, err := os.ReadFile(res.Artifacts[0].Unit)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(unit), "#error \""+frag+": NCTEST_NEEDS_SEMICOLON: unexpected-success") {
		t.Errorf("failing unit should carry an #error:\n%s", unit)
	}
}

func TestRunTimeoutDoesNotAffectSiblings(t *testing.T) {
	dir := t.TempDir()
	slow := writeFragment(t, dir, "recursion.nc", `#if defined(NCTEST_DEEP_RECURSION)  // [r"depth"]
template <int N> struct R { static constexpr int v = R<N + 1>::v; };
int x = R<0>::v;
#endif
`)
	fast := writeFragment(t, dir, "semicolon.nc", guardFragment)
	runner := &scriptedRunner{
		hang: map[string]bool{"NCTEST_DEEP_RECURSION": true},
		outputs: map[string]invoke.Process{
			"NCTEST_NEEDS_SEMICOLON": {ExitCode: 1, Output: fast + ":4:10: error: expected ',' or ';' at end of input\n"},
		},
	}
	res, err := Run(context.Background(), &Request{
		Fragments: []string{slow, fast},
		Invoker:   newInvoker(runner, 50*time.Millisecond),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]match.Outcome{
		"recursion.nc:NCTEST_DEEP_RECURSION":     match.CompilerCrash,
		"semicolon.nc:NCTEST_NEEDS_SEMICOLON":    match.Matched,
		"semicolon.nc:DISABLED_NCTEST_NOT_READY": match.Skipped,
	}
	if diff := cmp.Diff(want, caseOutcomes(res.Report)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if reason := res.Report.Fragments[0].Cases[0].Reason; !strings.Contains(reason, "timed out") {
		t.Errorf("timeout reason = %q", reason)
	}
}

func TestRunStructuralErrorIsFragmentLocal(t *testing.T) {
	dir := t.TempDir()
	broken := writeFragment(t, dir, "broken.nc", "#if defined(NCTEST_NO_LIST)\nint a;\n#endif\n")
	good := writeFragment(t, dir, "semicolon.nc", guardFragment)
	runner := &scriptedRunner{outputs: map[string]invoke.Process{
		"NCTEST_NEEDS_SEMICOLON": {ExitCode: 1, Output: "error: expected ',' or ';' at end of input\n"},
	}}
	res, err := Run(context.Background(), &Request{
		Fragments: []string{broken, good},
		OutDir:    filepath.Join(dir, "out"),
		Invoker:   newInvoker(runner, 0),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := res.Report.Fragments[0].StructuralError(); !ok {
		t.Fatalf("expected a structural error, got %v", res.Report.Fragments[0].Err)
	}
	if !res.Report.Fragments[1].OK() {
		t.Error("sibling fragment should still pass")
	}
	if res.Report.OK() {
		t.Error("report must fail on a structural error")
	}
	unit, err := os.ReadFile(res.Artifacts[0].Unit)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(strings.SplitN(string(unit), "\n", 3)[2], "#error") {
		t.Errorf("structural failure should produce an #error unit:\n%s", unit)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "semicolon.nc", guardFragment)
	out := filepath.Join(dir, "out")
	runner := &scriptedRunner{outputs: map[string]invoke.Process{
		"NCTEST_NEEDS_SEMICOLON": {ExitCode: 1, Output: frag + ":4:10: error: expected ',' or ';' at end of input\n"},
	}}

	snapshot := func() (string, string, string) {
		t.Helper()
		res, err := Run(context.Background(), &Request{Fragments: []string{frag}, OutDir: out, Invoker: newInvoker(runner, 0)})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		unit, err := os.ReadFile(res.Artifacts[0].Unit)
		if err != nil {
			t.Fatal(err)
		}
		dep, err := os.ReadFile(res.Artifacts[0].DepFile)
		if err != nil {
			t.Fatal(err)
		}
		var report bytes.Buffer
		if err := synth.WriteJSON(&report, res.Report); err != nil {
			t.Fatal(err)
		}
		return string(unit), string(dep), report.String()
	}

	u1, d1, r1 := snapshot()
	u2, d2, r2 := snapshot()
	if u1 != u2 || d1 != d2 || r1 != r2 {
		t.Errorf("artifacts differ between identical runs:\n%s\n---\n%s", r1, r2)
	}
}

func TestRunCancelledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "semicolon.nc", guardFragment)
	out := filepath.Join(dir, "out")
	runner := &scriptedRunner{hang: map[string]bool{"NCTEST_NEEDS_SEMICOLON": true}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Run(ctx, &Request{Fragments: []string{frag}, OutDir: out, Invoker: newInvoker(runner, time.Minute)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	unit := filepath.Join(FragmentDir(out, frag), "semicolon.cc")
	if _, err := os.Stat(unit); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("no artifact may be written after cancellation, stat err = %v", err)
	}
}

func TestRunFilter(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "two.nc", `#if defined(NCTEST_ALPHA)  // ["alpha"]
#elif defined(NCTEST_BETA)  // ["beta"]
#endif
`)
	runner := &scriptedRunner{outputs: map[string]invoke.Process{
		"NCTEST_BETA": {ExitCode: 1, Output: "two.nc:2:1: error: beta\n"},
	}}
	res, err := Run(context.Background(), &Request{
		Fragments: []string{frag},
		Invoker:   newInvoker(runner, 0),
		Filter:    regexp.MustCompile("BETA"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(map[string]match.Outcome{"two.nc:NCTEST_BETA": match.Matched}, caseOutcomes(res.Report)); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if runner.sawArg("-DNCTEST_ALPHA") {
		t.Error("filtered case must not be compiled")
	}
}

func TestRunFilterInlineKeepsSiblingMarkers(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "two.nc", `void Alpha() {
  static_assert(false);  // expected-error {{static assertion failed}}
}
void Beta() {
  undeclared();  // expected-error {{use of undeclared identifier}}
}
`)
	runner := &scriptedRunner{outputs: map[string]invoke.Process{
		"two.nc": {ExitCode: 1, Output: frag + ":2:3: error: static assertion failed\n" +
			frag + ":5:3: error: use of undeclared identifier 'undeclared'\n"},
	}}

	tests := []struct {
		name   string
		filter *regexp.Regexp
		want   map[string]match.Outcome
	}{
		{
			name: "no filter",
			want: map[string]match.Outcome{"two.nc:Alpha": match.Matched, "two.nc:Beta": match.Matched},
		},
		{
			name:   "one case",
			filter: regexp.MustCompile("^Beta$"),
			want:   map[string]match.Outcome{"two.nc:Beta": match.Matched},
		},
		{
			name:   "no case",
			filter: regexp.MustCompile("Gamma"),
			want:   map[string]match.Outcome{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(context.Background(), &Request{
				Fragments: []string{frag},
				Invoker:   newInvoker(runner, 0),
				Filter:    tt.filter,
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if diff := cmp.Diff(tt.want, caseOutcomes(res.Report)); diff != "" {
				t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
			}
			if !res.Report.OK() {
				t.Error("report should be OK")
			}
		})
	}
}

func TestRunInfrastructureErrorAborts(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "semicolon.nc", guardFragment)
	runner := &failingRunner{err: os.ErrNotExist}
	_, err := Run(context.Background(), &Request{Fragments: []string{frag}, Invoker: newInvoker(runner, 0)})
	var infra *invoke.InfrastructureError
	if !errors.As(err, &infra) {
		t.Fatalf("expected InfrastructureError, got %v", err)
	}
}

type failingRunner struct{ err error }

func (r *failingRunner) Run(context.Context, []string, map[string]string) (invoke.Process, error) {
	return invoke.Process{}, r.err
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.nc", "a.nc", "sub/c.nc", "sub/ignore.cc", ".hidden/d.nc"} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	explicit := filepath.Join(dir, "sub", "ignore.cc")
	got, err := Discover([]string{dir, explicit, filepath.Join(dir, "a.nc")}, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.nc"),
		filepath.Join(dir, "b.nc"),
		filepath.Join(dir, "sub", "c.nc"),
		explicit,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Discover mismatch (-want +got):\n%s", diff)
	}
	if _, err := Discover([]string{filepath.Join(dir, "missing")}, nil); err == nil {
		t.Error("expected an error for a missing path")
	}
}

func TestFragmentDirIsStable(t *testing.T) {
	a := FragmentDir("out", "x/frag.nc")
	if a != FragmentDir("out", "x/frag.nc") {
		t.Error("FragmentDir must be deterministic")
	}
	if a == FragmentDir("out", "y/frag.nc") {
		t.Error("equal stems in different directories must not collide")
	}
	if !strings.HasPrefix(filepath.Base(a), "frag-") || len(filepath.Base(a)) != len("frag-")+8 {
		t.Errorf("unexpected dir name %q", filepath.Base(a))
	}
}

func TestRunReusesCacheAcrossScratchDirs(t *testing.T) {
	dir := t.TempDir()
	frag := writeFragment(t, dir, "semicolon.nc", guardFragment)
	header := writeFragment(t, dir, "widget.h", "struct Widget {};\n")
	runner := &scriptedRunner{
		outputs: map[string]invoke.Process{
			"NCTEST_NEEDS_SEMICOLON": {ExitCode: 1, Output: frag + ":4:10: error: expected ',' or ';' at end of input\n"},
		},
		headers: []string{header},
	}
	c, err := cache.Open(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatal(err)
	}
	inv := invoke.New(invoke.Toolchain{Compiler: "clang++"}, invoke.WithRunner(runner), invoke.WithCache(c, "clang version 17.0.6"))

	run := func() *synth.Report {
		t.Helper()
		res, err := Run(context.Background(), &Request{Fragments: []string{frag}, Invoker: inv})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res.Report
	}
	first := run()
	calls := runner.callCount()
	second := run()
	if runner.callCount() != calls {
		t.Fatalf("second run invoked the compiler %d more time(s)", runner.callCount()-calls)
	}
	if diff := cmp.Diff(caseOutcomes(first), caseOutcomes(second)); diff != "" {
		t.Errorf("cached outcomes differ (-first +second):\n%s", diff)
	}
	if cr := second.Fragments[0].Cases[0]; !cr.Cached {
		t.Errorf("case %s was not served from the cache", cr.Name())
	}
	if diff := cmp.Diff([]string{header}, second.Fragments[0].Deps); diff != "" {
		t.Errorf("deps from cached depfile mismatch (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(header, []byte("struct Widget { int x; };\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	run()
	if runner.callCount() == calls {
		t.Error("changing an included header must invalidate the cached result")
	}
}
