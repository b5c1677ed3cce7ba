// Package main implements the nctest CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"nctest/internal/prof"
	"nctest/internal/version"
)

// errCasesFailed makes the process exit with status 1 after the report
// has already said why.
var errCasesFailed = errors.New("some no-compile cases failed")

// profiling is started by setupGlobals and stopped once the command returns.
var profiling *prof.Session

var rootCmd = &cobra.Command{
	Use:   "nctest",
	Short: "No-compile test harness",
	Long: `nctest checks that C and C++ fragments fail to compile with the
diagnostics they announce, and turns the verdicts into test artifacts.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: setupGlobals,
}

// main registers subcommands and persistent flags and runs the root command.
// Any error exits with status 1.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(genCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().String("log-level", "warning", "log level (debug|info|warning|error)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "list passing cases and log at debug level")
	rootCmd.PersistentFlags().String("config", "", "path to nctest.toml (default: search upwards)")
	rootCmd.PersistentFlags().String("cpu-profile", "", "write a CPU profile to this file")
	rootCmd.PersistentFlags().String("mem-profile", "", "write a heap profile to this file on exit")
	rootCmd.PersistentFlags().String("runtime-trace", "", "write a runtime trace to this file")

	err := rootCmd.Execute()
	if stopErr := profiling.Stop(); stopErr != nil {
		fmt.Fprintf(os.Stderr, "nctest: %v\n", stopErr)
	}
	if err != nil {
		if !errors.Is(err, errCasesFailed) {
			fmt.Fprintf(os.Stderr, "nctest: %v\n", err)
		}
		os.Exit(1)
	}
}

func setupGlobals(cmd *cobra.Command, _ []string) error {
	levelName, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return err
	}
	colorValue, err := cmd.Flags().GetString("color")
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	switch {
	case verbose && level < log.DebugLevel:
		level = log.DebugLevel
	case quiet && level > log.ErrorLevel:
		level = log.ErrorLevel
	}
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	log.SetLevel(level)

	enabled, err := colorEnabled(colorValue, os.Stdout)
	if err != nil {
		return err
	}
	color.NoColor = !enabled

	return startProfiling(cmd)
}

func startProfiling(cmd *cobra.Command) error {
	var opts prof.Options
	var err error
	if opts.CPUProfile, err = cmd.Flags().GetString("cpu-profile"); err != nil {
		return err
	}
	if opts.MemProfile, err = cmd.Flags().GetString("mem-profile"); err != nil {
		return err
	}
	if opts.Trace, err = cmd.Flags().GetString("runtime-trace"); err != nil {
		return err
	}
	if !opts.Enabled() {
		return nil
	}
	profiling, err = prof.Start(opts)
	return err
}

func colorEnabled(value string, out *os.File) (bool, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return os.Getenv("NO_COLOR") == "" && isTerminal(out), nil
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
