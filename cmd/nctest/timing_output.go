package main

import (
	"fmt"
	"io"

	"nctest/internal/pipeline"
)

var stageVerbs = map[pipeline.Stage]string{
	pipeline.StageParse:   "parsed",
	pipeline.StageCompile: "compiled",
	pipeline.StageMatch:   "matched",
	pipeline.StageSynth:   "synthesized",
}

func printStageTimings(out io.Writer, timings pipeline.Timings) {
	if out == nil {
		return
	}
	printed := false
	for _, stage := range pipeline.Stages {
		if !timings.Has(stage) {
			continue
		}
		printed = true
		fmt.Fprintf(out, "%s %.1f ms\n", stageVerbs[stage], toMillis(timings.Duration(stage)))
	}
	if printed {
		fmt.Fprintf(out, "total %.1f ms\n", toMillis(timings.Total()))
	}
}
