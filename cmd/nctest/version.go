package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"nctest/internal/cache"
	"nctest/internal/config"
	"nctest/internal/invoke"
	"nctest/internal/version"
)

type versionInfo struct {
	Version   string
	GitCommit string
	BuildDate string
	Toolchain *toolchainInfo
}

// toolchainInfo is what a run would use: the config file, the compiler
// it resolves to and where results are cached.
type toolchainInfo struct {
	ConfigFile      string `json:"config_file,omitempty"`
	Compiler        string `json:"compiler"`
	CompilerBanner  string `json:"compiler_banner,omitempty"`
	CompilerVersion string `json:"compiler_version,omitempty"`
	VersionError    string `json:"version_error,omitempty"`
	CacheDir        string `json:"cache_dir,omitempty"`
	CacheEnabled    bool   `json:"cache_enabled"`
}

type versionOptions struct {
	format        string
	showHash      bool
	showDate      bool
	showToolchain bool
}

type versionPayload struct {
	Tool      string         `json:"tool"`
	Version   string         `json:"version"`
	GitCommit string         `json:"git_commit,omitempty"`
	BuildDate string         `json:"build_date,omitempty"`
	Toolchain *toolchainInfo `json:"toolchain,omitempty"`
}

var (
	versionFormat        string
	versionShowHash      bool
	versionShowDate      bool
	versionShowToolchain bool
	versionShowFull      bool
)

func init() {
	versionCmd.Flags().BoolVar(&versionShowHash, "hash", false, "include git commit hash")
	versionCmd.Flags().BoolVar(&versionShowDate, "date", false, "include build timestamp")
	versionCmd.Flags().BoolVar(&versionShowToolchain, "toolchain", false, "ask the configured compiler for its version and show the result cache location")
	versionCmd.Flags().BoolVar(&versionShowFull, "full", false, "show build metadata and toolchain")
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show nctest build and toolchain information",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := versionOptions{
			format:        strings.ToLower(versionFormat),
			showHash:      versionShowHash || versionShowFull,
			showDate:      versionShowDate || versionShowFull,
			showToolchain: versionShowToolchain || versionShowFull,
		}

		switch opts.format {
		case "pretty", "json":
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}

		info := collectVersionInfo()
		if opts.showToolchain {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tc := collectToolchainInfo(cmd.Context(), invoke.OSRunner{}, cfg)
			info.Toolchain = &tc
		}
		if opts.format == "json" {
			return renderVersionJSON(cmd.OutOrStdout(), info, opts)
		}
		renderVersionPretty(cmd.OutOrStdout(), info, opts)
		return nil
	},
}

func collectVersionInfo() versionInfo {
	v := strings.TrimSpace(version.Version)
	if v == "" {
		v = "dev"
	}
	return versionInfo{
		Version:   v,
		GitCommit: strings.TrimSpace(version.GitCommit),
		BuildDate: strings.TrimSpace(version.BuildDate),
	}
}

// collectToolchainInfo never fails; a compiler that does not answer
// --version is reported in VersionError.
func collectToolchainInfo(ctx context.Context, runner invoke.Runner, cfg config.Config) toolchainInfo {
	if ctx == nil {
		ctx = context.Background()
	}
	info := toolchainInfo{
		ConfigFile:   cfg.Path,
		Compiler:     cfg.Compiler.Path,
		CacheEnabled: cfg.Run.Cache,
		CacheDir:     cfg.Run.CacheDir,
	}
	if info.CacheDir == "" {
		if dir, err := cache.DefaultDir(); err == nil {
			info.CacheDir = dir
		}
	}
	cv, err := invoke.ProbeVersion(ctx, runner, cfg.Compiler.Path)
	info.CompilerBanner = cv.Banner
	if cv.Version != nil {
		info.CompilerVersion = cv.Version.String()
	}
	if err != nil {
		info.VersionError = err.Error()
	}
	// The cache is skipped at run time when the banner is unknown.
	if cv.Banner == "" {
		info.CacheEnabled = false
	}
	return info
}

func renderVersionPretty(out io.Writer, info versionInfo, opts versionOptions) {
	v := info.Version
	if v == version.Version {
		v = version.Colored()
	}
	fmt.Fprintf(out, "nctest %s\n", v)
	if opts.showHash {
		fmt.Fprintf(out, "commit:   %s\n", valueOrUnknown(info.GitCommit))
	}
	if opts.showDate {
		fmt.Fprintf(out, "built:    %s\n", valueOrUnknown(info.BuildDate))
	}
	if tc := info.Toolchain; tc != nil {
		fmt.Fprintf(out, "config:   %s\n", valueOr(tc.ConfigFile, "none (defaults)"))
		fmt.Fprintf(out, "compiler: %s\n", tc.Compiler)
		if tc.VersionError != "" {
			fmt.Fprintf(out, "          %s\n", tc.VersionError)
		} else {
			fmt.Fprintf(out, "          %s\n", tc.CompilerBanner)
		}
		state := "off"
		if tc.CacheEnabled {
			state = "on"
		}
		fmt.Fprintf(out, "cache:    %s (%s)\n", valueOrUnknown(tc.CacheDir), state)
	}
}

func renderVersionJSON(out io.Writer, info versionInfo, opts versionOptions) error {
	payload := versionPayload{Tool: "nctest", Version: info.Version, Toolchain: info.Toolchain}
	if opts.showHash {
		payload.GitCommit = valueOrUnknown(info.GitCommit)
	}
	if opts.showDate {
		payload.BuildDate = valueOrUnknown(info.BuildDate)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func valueOrUnknown(s string) string {
	return valueOr(s, "unknown")
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
