package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"nctest/internal/pipeline"
	"nctest/internal/synth"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [paths...]",
	Short: "Compile no-compile fragments and report the verdicts",
	Long: `Run discovers fragments under the given paths (or [run].paths from
nctest.toml), compiles every test case, matches the compiler diagnostics
against the annotations and prints a report. The exit status is 0 only
when every case matched.`,
	RunE: runExecution,
}

func init() {
	addRunFlags(runCmd)
}

func runExecution(cmd *cobra.Command, args []string) error {
	timings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return err
	}
	s, err := readRunSettings(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runOnce(ctx, cmd, s)
	if err != nil {
		return err
	}
	if timings {
		printStageTimings(cmd.ErrOrStderr(), res.Timings)
	}
	if !res.Report.OK() {
		return errCasesFailed
	}
	return nil
}

// runOnce performs one complete run and writes its report.
func runOnce(ctx context.Context, cmd *cobra.Command, s runSettings) (pipeline.Result, error) {
	setup, err := newInvoker(ctx, s)
	if err != nil {
		return pipeline.Result{}, err
	}
	files, err := discover(s)
	if err != nil {
		return pipeline.Result{}, err
	}
	req := &pipeline.Request{
		Fragments: files,
		OutDir:    s.outDir,
		Invoker:   setup.invoker,
		Filter:    s.filter,
		Unit:      s.unit,
		Compiler:  setup.label(),
	}

	var res pipeline.Result
	if shouldUseTUI(s.ui, s.reportFile == "", s.report) {
		res, err = runWithUI(ctx, "nctest", files, req)
	} else {
		res, err = pipeline.Run(ctx, req)
	}
	if err != nil {
		return res, err
	}
	if err := writeReport(cmd, s, res.Report); err != nil {
		return res, err
	}
	return res, nil
}

func writeReport(cmd *cobra.Command, s runSettings, rep *synth.Report) error {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}
	var out io.Writer = cmd.OutOrStdout()
	colored := !color.NoColor
	if s.reportFile != "" {
		f, err := os.Create(s.reportFile)
		if err != nil {
			return fmt.Errorf("failed to create report %q: %w", s.reportFile, err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to close %s: %v\n", s.reportFile, closeErr)
			}
		}()
		out = f
		colored = false
	}
	if s.report == reportJSON {
		return synth.WriteJSON(out, rep)
	}
	return synth.WritePretty(out, rep, synth.PrettyOptions{Color: colored, Verbose: verbose})
}
