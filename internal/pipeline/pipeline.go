// Package pipeline orchestrates a run: load and parse fragments, plan
// compiler jobs, invoke, match and synthesize artifacts.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"nctest/internal/annot"
	"nctest/internal/depfile"
	"nctest/internal/invoke"
	"nctest/internal/match"
	"nctest/internal/source"
	"nctest/internal/synth"
)

// inlineJobName names the single job of an inline-marker fragment.
const inlineJobName = "fragment"

// Request configures one run.
type Request struct {
	Fragments []string
	// OutDir receives generated units and depfiles; empty means a scratch
	// directory that is removed afterwards and no artifacts.
	OutDir   string
	Invoker  *invoke.Invoker
	Filter   *regexp.Regexp
	Unit     synth.UnitOptions
	Compiler string
	Progress ProgressSink
}

// Artifact names the files written for one fragment.
type Artifact struct {
	Fragment string
	Unit     string
	DepFile  string
}

// Result is what a completed run produced.
type Result struct {
	Report    *synth.Report
	Artifacts []Artifact
	Timings   Timings
}

type fragmentPlan struct {
	path      string
	dir       string
	file      *source.File
	set       *annot.Set
	filter    *regexp.Regexp
	err       error
	jobs      []int
	guardJobs map[string]int
}

// Run executes the request. A returned error means no verdict: an
// infrastructure failure or cancellation. Per-fragment and per-case
// failures are in the report.
func Run(ctx context.Context, req *Request) (Result, error) {
	var result Result
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return result, fmt.Errorf("missing pipeline request")
	}
	if req.Invoker == nil {
		return result, fmt.Errorf("missing compiler invoker")
	}
	start := time.Now()
	emitQueued(req.Progress, req.Fragments)

	outDir := req.OutDir
	if outDir == "" {
		tmp, err := os.MkdirTemp("", "nctest-")
		if err != nil {
			return result, fmt.Errorf("failed to create scratch dir: %w", err)
		}
		defer func() {
			if removeErr := os.RemoveAll(tmp); removeErr != nil {
				log.Warningf("Failed to remove scratch dir %q: %v", tmp, removeErr)
			}
		}()
		outDir = tmp
	}

	parseStart := time.Now()
	plans := make([]*fragmentPlan, len(req.Fragments))
	for i, path := range req.Fragments {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		emitStage(req.Progress, path, StageParse, StatusWorking, nil)
		plans[i] = parseFragment(path, outDir, req.Filter)
		if plans[i].err != nil {
			log.Debugf("%s: %v", path, plans[i].err)
			emitStage(req.Progress, path, StageParse, StatusError, plans[i].err)
		}
	}
	result.Timings.Set(StageParse, time.Since(parseStart))

	jobs, owner := planJobs(plans)
	log.Debugf("planned %d compiler job(s) for %d fragment(s)", len(jobs), len(plans))

	compileStart := time.Now()
	var mu sync.Mutex
	done := make([]int, len(plans))
	results, err := req.Invoker.InvokeAll(ctx, jobs, invoke.Hooks{
		OnStart: func(i int, _ invoke.Job) {
			p := plans[owner[i]]
			mu.Lock()
			n := done[owner[i]]
			mu.Unlock()
			emit(req.Progress, Event{File: p.path, Stage: StageCompile, Status: StatusWorking, Jobs: len(p.jobs), JobsDone: n})
		},
		OnDone: func(i int, res invoke.Result) {
			p := plans[owner[i]]
			mu.Lock()
			done[owner[i]]++
			n := done[owner[i]]
			mu.Unlock()
			emit(req.Progress, Event{File: p.path, Stage: StageCompile, Status: StatusWorking, Jobs: len(p.jobs), JobsDone: n, Elapsed: res.Elapsed})
		},
	})
	if err != nil {
		emitRun(req.Progress, StageCompile, StatusError, err)
		return result, err
	}
	result.Timings.Set(StageCompile, time.Since(compileStart))

	matchStart := time.Now()
	rep := &synth.Report{Compiler: req.Compiler, Fragments: make([]synth.FragmentResult, 0, len(plans))}
	for _, p := range plans {
		rep.Fragments = append(rep.Fragments, judge(p, results))
	}
	result.Timings.Set(StageMatch, time.Since(matchStart))

	if err := ctx.Err(); err != nil {
		return result, err
	}

	synthStart := time.Now()
	for i, p := range plans {
		fr := rep.Fragments[i]
		if req.OutDir != "" {
			art, err := writeArtifacts(p, fr, req.Unit)
			if err != nil {
				return result, err
			}
			result.Artifacts = append(result.Artifacts, art)
		}
		status := StatusDone
		var fragErr error
		if !fr.OK() {
			status = StatusError
			fragErr = fragmentFailure(fr)
		}
		emit(req.Progress, Event{File: p.path, Stage: StageSynth, Status: status, Err: fragErr, Elapsed: fr.Elapsed})
	}
	result.Timings.Set(StageSynth, time.Since(synthStart))

	rep.Elapsed = time.Since(start)
	result.Report = rep
	emitRun(req.Progress, StageSynth, StatusDone, nil)
	return result, nil
}

func parseFragment(path, outDir string, filter *regexp.Regexp) *fragmentPlan {
	p := &fragmentPlan{path: path, dir: FragmentDir(outDir, path), filter: filter}
	file, err := source.Load(path)
	if err != nil {
		p.err = err
		return p
	}
	p.file = file
	set, err := annot.Parse(file)
	if err != nil {
		p.err = err
		return p
	}
	log.Debugf("%s: %s dialect, %d case(s), %d disabled", path, set.Dialect, len(set.Cases), len(set.Disabled()))
	p.set = set
	return p
}

// selected reports whether the case passes the --run filter. Unselected
// cases are not reported, but inline markers of every case still explain
// diagnostics of the shared compile.
func (p *fragmentPlan) selected(tc annot.TestCase) bool {
	return p.filter == nil || p.filter.MatchString(tc.Name)
}

func (p *fragmentPlan) anySelected() bool {
	for _, tc := range p.set.Cases {
		if p.selected(tc) {
			return true
		}
	}
	return false
}

// FragmentDir is the per-fragment output directory <out>/<stem>-<hash8>.
// The hash covers the absolute path so equal stems in different
// directories do not collide.
func FragmentDir(outDir, path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	sum := sha256.Sum256([]byte(filepath.ToSlash(abs)))
	return filepath.Join(outDir, source.Stem(path)+"-"+hex.EncodeToString(sum[:4]))
}

func planJobs(plans []*fragmentPlan) ([]invoke.Job, []int) {
	var (
		jobs  []invoke.Job
		owner []int
	)
	for i, p := range plans {
		if p.err != nil || p.set == nil || !p.anySelected() {
			continue
		}
		switch p.set.Dialect {
		case annot.DialectInline:
			p.jobs = append(p.jobs, len(jobs))
			jobs = append(jobs, p.job(inlineJobName, ""))
			owner = append(owner, i)
		case annot.DialectGuard:
			p.guardJobs = make(map[string]int)
			for _, tc := range p.set.Enabled() {
				if !p.selected(tc) {
					continue
				}
				p.guardJobs[tc.Name] = len(jobs)
				p.jobs = append(p.jobs, len(jobs))
				jobs = append(jobs, p.job(tc.Name, tc.Guard))
				owner = append(owner, i)
			}
		}
	}
	return jobs, owner
}

func (p *fragmentPlan) job(name, guard string) invoke.Job {
	return invoke.Job{
		Source:     p.path,
		SourceHash: p.file.Hash,
		Case:       guard,
		Guard:      guard,
		Object:     filepath.Join(p.dir, name+".o"),
		DepFile:    filepath.Join(p.dir, name+".d"),
	}
}

func judge(p *fragmentPlan, results []invoke.Result) synth.FragmentResult {
	fr := synth.FragmentResult{Path: p.path, Err: p.err}
	if p.set == nil {
		return fr
	}
	fr.Dialect = p.set.Dialect
	switch p.set.Dialect {
	case annot.DialectInline:
		if len(p.jobs) > 0 {
			res := results[p.jobs[0]]
			for _, cr := range match.Inline(res.Job.Source, p.set.Cases, res) {
				if p.selected(cr.Case) {
					fr.Cases = append(fr.Cases, cr)
				}
			}
		}
	case annot.DialectGuard:
		for _, tc := range p.set.Cases {
			if !p.selected(tc) {
				continue
			}
			idx, ok := p.guardJobs[tc.Name]
			if tc.Disabled || !ok {
				fr.Cases = append(fr.Cases, match.SkippedCase(tc))
				continue
			}
			fr.Cases = append(fr.Cases, match.Guard(tc, results[idx]))
		}
	}
	for _, idx := range p.jobs {
		fr.Elapsed += results[idx].Elapsed
	}
	fr.Deps = mergeDeps(p, results)
	return fr
}

// mergeDeps unions the headers every job of the fragment read.
func mergeDeps(p *fragmentPlan, results []invoke.Result) []string {
	var rules []depfile.Rule
	for _, idx := range p.jobs {
		path := results[idx].Job.DepFile
		if path == "" {
			continue
		}
		r, err := depfile.ParseFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Debugf("%s: ignoring depfile %q: %v", p.path, path, err)
			}
			continue
		}
		rules = append(rules, r...)
	}
	var deps []string
	for _, d := range depfile.Deps(rules) {
		if !source.SamePath(d, p.path) {
			deps = append(deps, d)
		}
	}
	return deps
}

func writeArtifacts(p *fragmentPlan, fr synth.FragmentResult, opts synth.UnitOptions) (Artifact, error) {
	stem := source.Stem(p.path)
	art := Artifact{
		Fragment: p.path,
		Unit:     filepath.Join(p.dir, stem+".cc"),
		DepFile:  filepath.Join(p.dir, stem+".cc.d"),
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return art, fmt.Errorf("failed to create output dir %q: %w", p.dir, err)
	}

	unit, err := os.Create(art.Unit)
	if err != nil {
		return art, fmt.Errorf("failed to create %q: %w", art.Unit, err)
	}
	if err := synth.WriteTranslationUnit(unit, fr, opts); err != nil {
		_ = unit.Close()
		return art, fmt.Errorf("failed to write %q: %w", art.Unit, err)
	}
	if err := unit.Close(); err != nil {
		return art, err
	}

	dep, err := os.Create(art.DepFile)
	if err != nil {
		return art, fmt.Errorf("failed to create %q: %w", art.DepFile, err)
	}
	if err := synth.WriteDepfile(dep, art.Unit, fr); err != nil {
		_ = dep.Close()
		return art, fmt.Errorf("failed to write %q: %w", art.DepFile, err)
	}
	return art, dep.Close()
}

func fragmentFailure(fr synth.FragmentResult) error {
	if fr.Err != nil {
		return fr.Err
	}
	failed := 0
	for _, c := range fr.Cases {
		if c.Outcome.Failed() {
			failed++
		}
	}
	return fmt.Errorf("%d case(s) failed", failed)
}

func emit(sink ProgressSink, evt Event) {
	if sink == nil {
		return
	}
	sink.OnEvent(evt)
}

func emitQueued(sink ProgressSink, files []string) {
	for _, file := range files {
		emit(sink, Event{File: file, Stage: StageParse, Status: StatusQueued})
	}
}

func emitStage(sink ProgressSink, file string, stage Stage, status Status, err error) {
	emit(sink, Event{File: file, Stage: stage, Status: status, Err: err})
}

func emitRun(sink ProgressSink, stage Stage, status Status, err error) {
	emit(sink, Event{Stage: stage, Status: status, Err: err})
}
