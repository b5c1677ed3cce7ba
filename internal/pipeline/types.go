package pipeline

import "time"

// Stage describes a high-level pipeline phase.
type Stage string

const (
	// StageParse loads fragments and extracts their test cases.
	StageParse Stage = "parse"
	// StageCompile runs the compiler jobs.
	StageCompile Stage = "compile"
	// StageMatch pairs diagnostics with expectations.
	StageMatch Stage = "match"
	// StageSynth writes the generated units and depfiles.
	StageSynth Stage = "synth"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageParse, StageCompile, StageMatch, StageSynth}

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the fragment is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the fragment is currently in the stage.
	StatusWorking Status = "working"
	// StatusDone indicates the fragment finished and every case held.
	StatusDone Status = "done"
	// StatusError indicates a structural error or a failed case.
	StatusError Status = "error"
)

// Event reports progress for a fragment (or for the whole run when File is empty).
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
	// Jobs and JobsDone track compiler runs for the fragment.
	Jobs     int
	JobsDone int
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// Timings holds stage durations.
type Timings struct {
	stages map[Stage]time.Duration
}

func (t *Timings) ensure() {
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	t.ensure()
	t.stages[stage] = dur
}

// Has reports whether a duration for stage is recorded.
func (t Timings) Has(stage Stage) bool {
	if t.stages == nil {
		return false
	}
	_, ok := t.stages[stage]
	return ok
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	if t.stages == nil {
		return 0
	}
	return t.stages[stage]
}

// Total sums every recorded stage.
func (t Timings) Total() time.Duration {
	var total time.Duration
	for _, d := range t.stages {
		total += d
	}
	return total
}
