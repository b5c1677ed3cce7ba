// Package config finds and decodes nctest.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"nctest/internal/invoke"
	"nctest/internal/synth"
)

// FileName is the configuration file looked up from the working directory.
const FileName = "nctest.toml"

// Config is the decoded configuration. Relative paths are resolved against
// Root after loading.
type Config struct {
	Path     string         `toml:"-"`
	Root     string         `toml:"-"`
	Compiler CompilerConfig `toml:"compiler"`
	Run      RunConfig      `toml:"run"`
	Unit     UnitConfig     `toml:"unit"`
}

// CompilerConfig describes the toolchain.
type CompilerConfig struct {
	Path             string            `toml:"path"`
	Std              string            `toml:"std"`
	Flags            []string          `toml:"flags"`
	IncludeDirs      []string          `toml:"include_dirs"`
	Defines          []string          `toml:"defines"`
	WarningsAsErrors bool              `toml:"warnings_as_errors"`
	Mode             string            `toml:"mode"`
	Timeout          string            `toml:"timeout"`
	RequireVersion   string            `toml:"require_version"`
	Env              map[string]string `toml:"env"`
}

// RunConfig describes what to run and where results go.
type RunConfig struct {
	Paths      []string `toml:"paths"`
	Extensions []string `toml:"extensions"`
	OutDir     string   `toml:"out_dir"`
	Jobs       int      `toml:"jobs"`
	Cache      bool     `toml:"cache"`
	CacheDir   string   `toml:"cache_dir"`
	Report     string   `toml:"report"`
}

// UnitConfig shapes the generated translation units.
type UnitConfig struct {
	Include string `toml:"include"`
	Suite   string `toml:"suite"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Compiler: CompilerConfig{
			Path: defaultCompiler(),
			Mode: string(invoke.ModeSyntaxOnly),
		},
		Run: RunConfig{
			Extensions: []string{".nc"},
			Jobs:       invoke.DefaultWorkers,
			Cache:      true,
			Report:     "pretty",
		},
		Unit: UnitConfig{Include: synth.DefaultGTestInclude},
	}
}

func defaultCompiler() string {
	if cxx := strings.TrimSpace(os.Getenv("CXX")); cxx != "" {
		return cxx
	}
	return "clang++"
}

// Find walks up from startDir looking for nctest.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load finds and decodes the configuration. When no file exists the
// defaults are returned with found=false.
func Load(startDir string) (cfg Config, found bool, err error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, false, err
	}
	if !ok {
		return Default(), false, nil
	}
	cfg, err = Decode(path)
	if err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

// Decode reads one file on top of the defaults.
func Decode(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		log.Warningf("%s: unknown key %s", path, key)
	}
	cfg.Path = path
	cfg.Root = filepath.Dir(path)

	if meta.IsDefined("compiler", "path") && strings.TrimSpace(cfg.Compiler.Path) == "" {
		return Config{}, fmt.Errorf("%s: [compiler].path must not be empty", path)
	}
	if meta.IsDefined("compiler", "timeout") {
		if _, err := cfg.timeout(); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if meta.IsDefined("run", "jobs") && cfg.Run.Jobs < 1 {
		return Config{}, fmt.Errorf("%s: [run].jobs must be at least 1, got %d", path, cfg.Run.Jobs)
	}
	switch cfg.Run.Report {
	case "pretty", "json":
	default:
		return Config{}, fmt.Errorf("%s: [run].report must be \"pretty\" or \"json\", got %q", path, cfg.Run.Report)
	}
	if _, err := cfg.Toolchain(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	cfg.resolvePaths()
	return cfg, nil
}

func (c *Config) resolvePaths() {
	c.Compiler.IncludeDirs = c.resolveAll(c.Compiler.IncludeDirs)
	c.Run.Paths = c.resolveAll(c.Run.Paths)
	c.Run.OutDir = c.resolve(c.Run.OutDir)
	c.Run.CacheDir = c.resolve(c.Run.CacheDir)
	// bare names stay on $PATH; anything path-like is relative to the file
	if strings.ContainsRune(c.Compiler.Path, '/') || strings.ContainsRune(c.Compiler.Path, filepath.Separator) {
		c.Compiler.Path = c.resolve(c.Compiler.Path)
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Root == "" {
		return p
	}
	return filepath.Join(c.Root, filepath.FromSlash(p))
}

func (c *Config) resolveAll(paths []string) []string {
	if len(paths) == 0 {
		return paths
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = c.resolve(p)
	}
	return out
}

func (c Config) timeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.Compiler.Timeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid [compiler].timeout %q: %w", raw, err)
	}
	return d, nil
}

// Toolchain converts the compiler section into an invoke.Toolchain.
func (c Config) Toolchain() (invoke.Toolchain, error) {
	timeout, err := c.timeout()
	if err != nil {
		return invoke.Toolchain{}, err
	}
	tc := invoke.Toolchain{
		Compiler:         c.Compiler.Path,
		Flags:            append([]string(nil), c.Compiler.Flags...),
		Std:              c.Compiler.Std,
		IncludeDirs:      append([]string(nil), c.Compiler.IncludeDirs...),
		Defines:          append([]string(nil), c.Compiler.Defines...),
		WarningsAsErrors: c.Compiler.WarningsAsErrors,
		Mode:             invoke.Mode(c.Compiler.Mode),
		Timeout:          timeout,
		Env:              c.Compiler.Env,
	}
	if err := tc.Validate(); err != nil {
		return invoke.Toolchain{}, err
	}
	return tc, nil
}

// UnitOptions converts the unit section for the synthesizer.
func (c Config) UnitOptions() synth.UnitOptions {
	return synth.UnitOptions{Include: c.Unit.Include, Suite: c.Unit.Suite}
}
