package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nctest/internal/invoke"
)

func writeConfig(t *testing.T, dir, text string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
[compiler]
path = "g++"
std = "c++17"
flags = ["-Wall", "-Wextra"]
include_dirs = ["include", "/opt/abs"]
timeout = "30s"
require_version = ">= 11"

[compiler.env]
LANG = "C"

[run]
paths = ["tests"]
out_dir = "out/nc"
jobs = 8

[unit]
include = "testing/gtest/include/gtest/gtest.h"
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg, found, err := Load(nested)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected nctest.toml to be found")
	}
	if cfg.Root != root {
		t.Errorf("Root = %q, want %q", cfg.Root, root)
	}
	if diff := cmp.Diff([]string{filepath.Join(root, "include"), "/opt/abs"}, cfg.Compiler.IncludeDirs); diff != "" {
		t.Errorf("include dirs mismatch (-want +got):\n%s", diff)
	}
	if cfg.Run.OutDir != filepath.Join(root, "out", "nc") {
		t.Errorf("OutDir = %q", cfg.Run.OutDir)
	}
	if !cfg.Run.Cache || cfg.Run.Report != "pretty" || cfg.Run.Jobs != 8 {
		t.Errorf("defaults not merged: %+v", cfg.Run)
	}

	tc, err := cfg.Toolchain()
	if err != nil {
		t.Fatalf("Toolchain: %v", err)
	}
	want := invoke.Toolchain{
		Compiler:    "g++",
		Std:         "c++17",
		Flags:       []string{"-Wall", "-Wextra"},
		IncludeDirs: []string{filepath.Join(root, "include"), "/opt/abs"},
		Mode:        invoke.ModeSyntaxOnly,
		Timeout:     30 * time.Second,
		Env:         map[string]string{"LANG": "C"},
	}
	if diff := cmp.Diff(want, tc); diff != "" {
		t.Errorf("toolchain mismatch (-want +got):\n%s", diff)
	}
	if opts := cfg.UnitOptions(); opts.Include != "testing/gtest/include/gtest/gtest.h" {
		t.Errorf("UnitOptions = %+v", opts)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, found, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Skip("an nctest.toml exists above the temp dir")
	}
	if cfg.Compiler.Path == "" || cfg.Run.Jobs != invoke.DefaultWorkers {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestDecodeRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "syntax", text: "[compiler\n", want: "failed to parse TOML"},
		{name: "timeout", text: "[compiler]\ntimeout = \"soon\"\n", want: "invalid [compiler].timeout"},
		{name: "empty compiler", text: "[compiler]\npath = \"\"\n", want: "[compiler].path must not be empty"},
		{name: "mode", text: "[compiler]\nmode = \"link\"\n", want: "unknown compile mode"},
		{name: "jobs", text: "[run]\njobs = 0\n", want: "[run].jobs must be at least 1"},
		{name: "report", text: "[run]\nreport = \"xml\"\n", want: "[run].report must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.text)
			_, err := Decode(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) || !strings.Contains(err.Error(), path) {
				t.Errorf("error %q should mention %q and the file", err, tt.want)
			}
		})
	}
}

func TestRelativeCompilerPath(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, "[compiler]\npath = \"toolchain/bin/clang++\"\n")
	cfg, err := Decode(path)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Compiler.Path != filepath.Join(root, "toolchain", "bin", "clang++") {
		t.Errorf("compiler path = %q", cfg.Compiler.Path)
	}
}
