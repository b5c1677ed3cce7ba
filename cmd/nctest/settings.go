package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nctest/internal/cache"
	"nctest/internal/config"
	"nctest/internal/invoke"
	"nctest/internal/pipeline"
	"nctest/internal/synth"
)

const (
	reportPretty = "pretty"
	reportJSON   = "json"
)

// runSettings is the configuration file merged with command-line flags.
type runSettings struct {
	configPath     string
	toolchain      invoke.Toolchain
	requireVersion string
	paths          []string
	extensions     []string
	outDir         string
	jobs           int
	useCache       bool
	cacheDir       string
	report         string
	reportFile     string
	filter         *regexp.Regexp
	unit           synth.UnitOptions
	ui             uiMode
}

// addToolchainFlags registers the flags that override [compiler].
func addToolchainFlags(cmd *cobra.Command) {
	cmd.Flags().String("compiler", "", "compiler executable (overrides [compiler].path)")
	cmd.Flags().String("std", "", "language standard passed as -std=")
	cmd.Flags().StringArray("flag", nil, "extra compiler flag (repeatable)")
	cmd.Flags().StringArrayP("include-dir", "I", nil, "include directory (repeatable)")
	cmd.Flags().StringArrayP("define", "D", nil, "preprocessor definition (repeatable)")
	cmd.Flags().Bool("werror", false, "treat warnings as errors")
	cmd.Flags().String("mode", "", "compile mode (syntax-only|compile-only)")
	cmd.Flags().Duration("timeout", 0, "per-invocation compiler timeout")
	cmd.Flags().String("require-version", "", "semver constraint the compiler version must satisfy")
	cmd.Flags().Int("jobs", 0, "number of concurrent compiler invocations")
	cmd.Flags().Bool("no-cache", false, "do not reuse or store compiler results")
	cmd.Flags().String("cache-dir", "", "result cache directory")
	cmd.Flags().String("run", "", "only run cases whose name matches this regexp")
}

// addRunFlags registers the flags shared by run and watch.
func addRunFlags(cmd *cobra.Command) {
	addToolchainFlags(cmd)
	cmd.Flags().StringArray("ext", nil, "fragment file extension to discover (repeatable)")
	cmd.Flags().String("out-dir", "", "directory for generated units and depfiles")
	cmd.Flags().String("report", "", "report format (pretty|json)")
	cmd.Flags().String("report-file", "", "write the report to this file instead of stdout")
	cmd.Flags().String("ui", "auto", "user interface (auto|on|off)")
}

// loadConfig honours --config and otherwise searches upwards from the
// working directory.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil || path == "" {
		cfg, found, loadErr := config.Load(".")
		if loadErr != nil {
			return config.Config{}, loadErr
		}
		if found {
			log.Debugf("using %s", cfg.Path)
		}
		return cfg, nil
	}
	return config.Decode(path)
}

func readRunSettings(cmd *cobra.Command, args []string) (runSettings, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return runSettings{}, err
	}
	if err := applyToolchainFlags(cmd, &cfg); err != nil {
		return runSettings{}, err
	}
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return runSettings{}, err
	}
	return settingsFromConfig(cmd, cfg, args)
}

func applyToolchainFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("compiler") {
		v, err := flags.GetString("compiler")
		if err != nil {
			return err
		}
		cfg.Compiler.Path = v
	}
	if flags.Changed("std") {
		v, err := flags.GetString("std")
		if err != nil {
			return err
		}
		cfg.Compiler.Std = v
	}
	if flags.Changed("flag") {
		v, err := flags.GetStringArray("flag")
		if err != nil {
			return err
		}
		cfg.Compiler.Flags = append(cfg.Compiler.Flags, v...)
	}
	if flags.Changed("include-dir") {
		v, err := flags.GetStringArray("include-dir")
		if err != nil {
			return err
		}
		cfg.Compiler.IncludeDirs = append(cfg.Compiler.IncludeDirs, v...)
	}
	if flags.Changed("define") {
		v, err := flags.GetStringArray("define")
		if err != nil {
			return err
		}
		cfg.Compiler.Defines = append(cfg.Compiler.Defines, v...)
	}
	if flags.Changed("werror") {
		v, err := flags.GetBool("werror")
		if err != nil {
			return err
		}
		cfg.Compiler.WarningsAsErrors = v
	}
	if flags.Changed("mode") {
		v, err := flags.GetString("mode")
		if err != nil {
			return err
		}
		cfg.Compiler.Mode = v
	}
	if flags.Changed("timeout") {
		v, err := flags.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Compiler.Timeout = v.String()
	}
	if flags.Changed("require-version") {
		v, err := flags.GetString("require-version")
		if err != nil {
			return err
		}
		cfg.Compiler.RequireVersion = v
	}
	if flags.Changed("jobs") {
		v, err := flags.GetInt("jobs")
		if err != nil {
			return err
		}
		if v < 1 {
			return fmt.Errorf("--jobs must be at least 1, got %d", v)
		}
		cfg.Run.Jobs = v
	}
	if flags.Changed("no-cache") {
		v, err := flags.GetBool("no-cache")
		if err != nil {
			return err
		}
		cfg.Run.Cache = !v
	}
	if flags.Changed("cache-dir") {
		v, err := flags.GetString("cache-dir")
		if err != nil {
			return err
		}
		cfg.Run.CacheDir = v
	}
	return nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("ext") {
		v, err := flags.GetStringArray("ext")
		if err != nil {
			return err
		}
		cfg.Run.Extensions = v
	}
	if flags.Changed("out-dir") {
		v, err := flags.GetString("out-dir")
		if err != nil {
			return err
		}
		cfg.Run.OutDir = v
	}
	if flags.Changed("report") {
		v, err := flags.GetString("report")
		if err != nil {
			return err
		}
		cfg.Run.Report = strings.ToLower(strings.TrimSpace(v))
	}
	return nil
}

func settingsFromConfig(cmd *cobra.Command, cfg config.Config, args []string) (runSettings, error) {
	tc, err := cfg.Toolchain()
	if err != nil {
		return runSettings{}, err
	}
	s := runSettings{
		configPath:     cfg.Path,
		toolchain:      tc,
		requireVersion: cfg.Compiler.RequireVersion,
		paths:          cfg.Run.Paths,
		extensions:     cfg.Run.Extensions,
		outDir:         cfg.Run.OutDir,
		jobs:           cfg.Run.Jobs,
		useCache:       cfg.Run.Cache,
		cacheDir:       cfg.Run.CacheDir,
		report:         cfg.Run.Report,
		unit:           cfg.UnitOptions(),
		ui:             uiModeAuto,
	}
	if len(args) > 0 {
		s.paths = args
	}
	if len(s.paths) == 0 {
		s.paths = []string{"."}
	}
	if len(s.extensions) == 0 {
		s.extensions = pipeline.DefaultExtensions
	}
	switch s.report {
	case "", reportPretty:
		s.report = reportPretty
	case reportJSON:
	default:
		return runSettings{}, fmt.Errorf("unsupported report format %q (must be pretty or json)", s.report)
	}

	flags := cmd.Flags()
	if flags.Lookup("run") != nil {
		pattern, err := flags.GetString("run")
		if err != nil {
			return runSettings{}, err
		}
		if pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return runSettings{}, fmt.Errorf("invalid --run pattern: %w", err)
			}
			s.filter = re
		}
	}
	if flags.Lookup("report-file") != nil {
		if s.reportFile, err = flags.GetString("report-file"); err != nil {
			return runSettings{}, err
		}
	}
	if flags.Lookup("ui") != nil {
		uiValue, err := flags.GetString("ui")
		if err != nil {
			return runSettings{}, err
		}
		if s.ui, err = readUIMode(uiValue); err != nil {
			return runSettings{}, err
		}
	}
	return s, nil
}

// compilerSetup is what newInvoker learned about the compiler.
type compilerSetup struct {
	invoker *invoke.Invoker
	version invoke.CompilerVersion
}

// label names the compiler in reports.
func (c compilerSetup) label() string {
	if c.version.Banner != "" {
		return c.version.Banner
	}
	return c.invoker.Toolchain().Compiler
}

// newInvoker checks the compiler, enforces the version constraint and
// opens the result cache.
func newInvoker(ctx context.Context, s runSettings) (compilerSetup, error) {
	runner := invoke.OSRunner{}
	probe := invoke.New(s.toolchain, invoke.WithRunner(runner))
	if err := probe.Check(); err != nil {
		return compilerSetup{}, err
	}

	cv, err := invoke.ProbeVersion(ctx, runner, s.toolchain.Compiler)
	if err != nil {
		if s.requireVersion != "" {
			return compilerSetup{}, err
		}
		log.Warningf("%v", err)
	}
	if err := invoke.CheckVersion(cv, s.requireVersion); err != nil {
		return compilerSetup{}, err
	}
	if cv.Version != nil {
		log.Debugf("compiler %s is version %s", s.toolchain.Compiler, cv.Version)
	}

	opts := []invoke.Option{invoke.WithRunner(runner), invoke.WithWorkers(s.jobs)}
	if c := openCache(s, cv); c != nil {
		opts = append(opts, invoke.WithCache(c, cv.Banner))
	}
	return compilerSetup{invoker: invoke.New(s.toolchain, opts...), version: cv}, nil
}

// openCache returns nil when caching is off or unusable. Without a version
// banner the compiler cannot be told apart from an upgraded one, so results
// are not reused.
func openCache(s runSettings, cv invoke.CompilerVersion) *cache.Cache {
	if !s.useCache {
		return nil
	}
	if cv.Banner == "" {
		log.Infof("result cache disabled: compiler version unknown")
		return nil
	}
	c, err := cache.Open(s.cacheDir)
	if err != nil {
		log.Warningf("result cache disabled: %v", err)
		return nil
	}
	return c
}

// discover expands the configured paths and rejects an empty run.
func discover(s runSettings) ([]string, error) {
	files, err := pipeline.Discover(s.paths, s.extensions)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no fragments found (extensions: " + strings.Join(s.extensions, ", ") + ")")
	}
	return files, nil
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
