package invoke

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nctest/internal/cache"
	"nctest/internal/depfile"
	"nctest/internal/diag"
	"nctest/internal/source"
)

// DefaultWorkers is the compile pool size used when none is configured.
const DefaultWorkers = 4

// Result is the outcome of one job.
type Result struct {
	Job      Job
	Argv     []string
	ExitCode int
	Output   string
	Elapsed  time.Duration
	TimedOut bool
	Signaled bool
	Cached   bool
}

// Succeeded reports a clean exit with status zero.
func (r Result) Succeeded() bool {
	return !r.TimedOut && !r.Signaled && r.ExitCode == 0
}

// Crashed reports a run that ended without a usable verdict from the
// compiler: a timeout, a signal, an unexpected exit status or a crash banner.
func (r Result) Crashed() bool {
	return r.CrashReason() != ""
}

// CrashReason describes why Crashed is true, or returns "".
func (r Result) CrashReason() string {
	switch {
	case r.TimedOut:
		return fmt.Sprintf("compiler timed out after %s", r.Elapsed.Round(time.Millisecond))
	case r.Signaled:
		return "compiler was killed by a signal"
	case r.ExitCode < 0 || r.ExitCode > 1:
		return fmt.Sprintf("compiler exited with status %d", r.ExitCode)
	case diag.LooksLikeCrash(r.Output):
		return "compiler reported an internal error"
	}
	return ""
}

// Hooks observe job progress. Callbacks run on worker goroutines.
type Hooks struct {
	OnStart func(index int, job Job)
	OnDone  func(index int, res Result)
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(inv *Invoker) { inv.runner = r }
}

// WithCache enables result reuse. compilerID should identify the compiler
// build (its --version line) so an upgrade invalidates entries.
func WithCache(c *cache.Cache, compilerID string) Option {
	return func(inv *Invoker) {
		inv.cache = c
		inv.compilerID = compilerID
	}
}

// WithWorkers bounds concurrent compiles.
func WithWorkers(n int) Option {
	return func(inv *Invoker) { inv.workers = n }
}

// Invoker runs jobs for one toolchain.
type Invoker struct {
	toolchain  Toolchain
	runner     Runner
	cache      *cache.Cache
	compilerID string
	workers    int
}

// New creates an Invoker backed by real processes unless WithRunner says
// otherwise.
func New(tc Toolchain, opts ...Option) *Invoker {
	inv := &Invoker{toolchain: tc, runner: OSRunner{}, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.workers <= 0 {
		inv.workers = DefaultWorkers
	}
	return inv
}

// Toolchain returns the configuration jobs run with.
func (inv *Invoker) Toolchain() Toolchain {
	return inv.toolchain
}

// Check verifies the compiler binary can be found.
func (inv *Invoker) Check() error {
	if err := inv.toolchain.Validate(); err != nil {
		return &InfrastructureError{Op: "configuration", Err: err}
	}
	if _, err := exec.LookPath(inv.toolchain.Compiler); err != nil {
		return &InfrastructureError{Op: "compiler lookup", Err: err}
	}
	return nil
}

// Invoke runs a single job. A non-nil error is either ctx's error (the run
// was cancelled and the result must be discarded) or an
// *InfrastructureError. Compiler failures, timeouts included, are reported
// through Result.
func (inv *Invoker) Invoke(ctx context.Context, job Job) (Result, error) {
	argv := inv.toolchain.Command(job)
	res := Result{Job: job, Argv: argv}
	key := inv.cacheKey(job)

	if inv.cache != nil {
		if hit, ok := inv.lookup(key, job); ok {
			hit.Job = job
			hit.Argv = argv
			return hit, nil
		}
	}

	for _, p := range []string{job.Object, job.DepFile} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return res, &InfrastructureError{Op: "output setup", Err: err}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.toolchain.timeout())
	defer cancel()

	start := time.Now()
	proc, err := inv.runner.Run(runCtx, argv, inv.toolchain.Env)
	res.Elapsed = time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	res.ExitCode = proc.ExitCode
	res.Signaled = proc.Signaled
	res.Output = proc.Output
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res.TimedOut = true
			log.Warningf("%s: compiler timed out after %s", job, res.Elapsed.Round(time.Millisecond))
			return res, nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return res, &InfrastructureError{Op: "compiler start", Err: err}
		}
		return res, &InfrastructureError{Op: "compiler run", Err: err}
	}

	log.Debugf("%s: exit %d in %s", job, res.ExitCode, res.Elapsed.Round(time.Millisecond))
	if inv.cache != nil && !res.Crashed() {
		inv.store(key, job, res)
	}
	return res, nil
}

// InvokeAll runs jobs on a bounded pool. Results keep the order of jobs. The
// first infrastructure error cancels the remaining jobs and is returned.
func (inv *Invoker) InvokeAll(ctx context.Context, jobs []Job, hooks Hooks) ([]Result, error) {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(inv.workers, len(jobs)))

	for i, job := range jobs {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if hooks.OnStart != nil {
				hooks.OnStart(i, job)
			}
			res, err := inv.Invoke(gctx, job)
			if err != nil {
				return err
			}
			// indices are unique per goroutine
			results[i] = res
			if hooks.OnDone != nil {
				hooks.OnDone(i, res)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// cacheKey leaves the output paths out of the command line so results stay
// reusable when the output directory is a fresh scratch directory.
func (inv *Invoker) cacheKey(job Job) cache.Digest {
	keyJob := job
	keyJob.Object = ""
	keyJob.DepFile = ""
	argv := inv.toolchain.Command(keyJob)
	if job.DepFile != "" {
		argv = append(argv, "\x00depfile")
	}
	env := make([]string, 0, len(inv.toolchain.Env))
	for k, v := range inv.toolchain.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return cache.Key(
		[]byte(inv.compilerID),
		job.SourceHash[:],
		[]byte(strings.Join(argv, "\x00")),
		[]byte(strings.Join(env, "\x00")),
	)
}

func (inv *Invoker) lookup(key cache.Digest, job Job) (Result, bool) {
	var payload cache.Payload
	found, err := inv.cache.Get(key, &payload)
	if err != nil {
		log.Warningf("%s: ignoring unreadable cache entry: %v", job, err)
		return Result{}, false
	}
	if !found || !payload.Fresh() {
		return Result{}, false
	}
	if job.DepFile != "" {
		deps := make([]string, 0, len(payload.Deps)+1)
		deps = append(deps, job.Source)
		for _, d := range payload.Deps {
			deps = append(deps, d.Path)
		}
		if err := depfile.WriteFile(job.DepFile, job.Object, deps); err != nil {
			log.Warningf("%s: failed to restore depfile from cache: %v", job, err)
			return Result{}, false
		}
	}
	log.Debugf("%s: reusing cached result", job)
	return Result{
		ExitCode: payload.ExitCode,
		Signaled: payload.Signaled,
		Output:   payload.Output,
		Elapsed:  payload.Elapsed(),
		Cached:   true,
	}, true
}

func (inv *Invoker) store(key cache.Digest, job Job, res Result) {
	payload := &cache.Payload{
		Argv:      res.Argv,
		ExitCode:  res.ExitCode,
		Signaled:  res.Signaled,
		Output:    res.Output,
		ElapsedNS: int64(res.Elapsed),
		StoredAt:  time.Now().Unix(),
	}
	if job.DepFile != "" {
		rules, err := depfile.ParseFile(job.DepFile)
		if err != nil {
			// without the header list a later hit could not be validated
			log.Debugf("%s: not caching, depfile unavailable: %v", job, err)
			return
		}
		for _, dep := range depfile.Deps(rules) {
			if source.SamePath(dep, job.Source) {
				continue
			}
			sum, err := cache.HashFile(dep)
			if err != nil {
				log.Debugf("%s: not caching, cannot hash %q: %v", job, dep, err)
				return
			}
			payload.Deps = append(payload.Deps, cache.Dep{Path: dep, Hash: sum})
		}
	}
	if err := inv.cache.Put(key, payload); err != nil {
		log.Warningf("%s: failed to store cache entry: %v", job, err)
	}
}
