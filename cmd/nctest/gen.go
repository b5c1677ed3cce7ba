package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nctest/internal/pipeline"
	"nctest/internal/synth"
)

var genCmd = &cobra.Command{
	Use:   "gen [flags] FRAGMENT",
	Short: "Generate the test translation unit for one fragment",
	Long: `Gen evaluates a single fragment and writes the generated translation
unit plus a depfile, for use as a custom build step. The unit and depfile
are written even when a case fails (the unit then carries #error lines),
and the command exits non-zero so the build step fails as well.`,
	Args: cobra.ExactArgs(1),
	RunE: genExecution,
}

func init() {
	addGenFlags(genCmd)
}

func addGenFlags(cmd *cobra.Command) {
	addToolchainFlags(cmd)
	cmd.Flags().StringP("output", "o", "", "generated unit path (default: stdout)")
	cmd.Flags().String("depfile", "", "depfile path, requires --output (default: <output>.d)")
	cmd.Flags().String("unit-include", synth.DefaultGTestInclude, "header included by the generated unit")
	cmd.Flags().String("suite", "", "test suite name (default: derived from the fragment name)")
}

func genExecution(cmd *cobra.Command, args []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	depPath, err := cmd.Flags().GetString("depfile")
	if err != nil {
		return err
	}
	if output == "" && depPath != "" {
		return fmt.Errorf("--depfile requires --output: the depfile names the generated unit as its target")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyToolchainFlags(cmd, &cfg); err != nil {
		return err
	}
	if cmd.Flags().Changed("unit-include") {
		if cfg.Unit.Include, err = cmd.Flags().GetString("unit-include"); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("suite") {
		if cfg.Unit.Suite, err = cmd.Flags().GetString("suite"); err != nil {
			return err
		}
	}
	s, err := settingsFromConfig(cmd, cfg, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setup, err := newInvoker(ctx, s)
	if err != nil {
		return err
	}
	res, err := pipeline.Run(ctx, &pipeline.Request{
		Fragments: []string{args[0]},
		Invoker:   setup.invoker,
		Filter:    s.filter,
		Unit:      s.unit,
		Compiler:  setup.label(),
	})
	if err != nil {
		return err
	}
	return emitGenArtifacts(cmd.OutOrStdout(), output, depPath, res.Report.Fragments[0], s.unit)
}

// emitGenArtifacts writes the unit (to stdout when output is empty) and
// its depfile, then reports the fragment's verdict as the error.
func emitGenArtifacts(stdout io.Writer, output, depPath string, fr synth.FragmentResult, opts synth.UnitOptions) error {
	var unit bytes.Buffer
	if err := synth.WriteTranslationUnit(&unit, fr, opts); err != nil {
		return err
	}
	if output == "" {
		if _, err := stdout.Write(unit.Bytes()); err != nil {
			return err
		}
		return genVerdict(fr)
	}
	if err := writeFileAtomic(output, unit.Bytes()); err != nil {
		return err
	}

	if depPath == "" {
		depPath = output + ".d"
	}
	var dep bytes.Buffer
	if err := synth.WriteDepfile(&dep, output, fr); err != nil {
		return err
	}
	if err := writeFileAtomic(depPath, dep.Bytes()); err != nil {
		return err
	}
	return genVerdict(fr)
}

// genVerdict fails on a structural error or any failed case. Failed cases
// are logged one per line and end in errCasesFailed, which is not printed
// again.
func genVerdict(fr synth.FragmentResult) error {
	if fr.Err != nil {
		return fr.Err
	}
	if fr.OK() {
		return nil
	}
	for _, c := range fr.Cases {
		if c.Outcome.Failed() {
			log.Errorf("%s: %s: %s: %s", fr.Path, c.Name(), c.Outcome, c.Reason)
		}
	}
	return errCasesFailed
}

// writeFileAtomic replaces path so a concurrent build never reads half a
// file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %q: %w", path, err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %q: %w", path, err)
	}
	return nil
}
