package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"nctest/internal/cache"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the result cache",
	Long:  "Remove cached compiler results and, with --out, the generated artifacts directory.",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().String("cache-dir", "", "result cache directory")
	cleanCmd.Flags().Bool("out", false, "also remove [run].out_dir")
}

func runClean(cmd *cobra.Command, _ []string) error {
	removeOut, err := cmd.Flags().GetBool("out")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("cache-dir") {
		if cfg.Run.CacheDir, err = cmd.Flags().GetString("cache-dir"); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()

	dir := cfg.Run.CacheDir
	if dir == "" {
		if dir, err = cache.DefaultDir(); err != nil {
			return err
		}
	}
	if _, statErr := os.Stat(dir); errors.Is(statErr, os.ErrNotExist) {
		_, _ = fmt.Fprintf(out, "cache directory not found\n")
	} else {
		c, err := cache.Open(dir)
		if err != nil {
			return err
		}
		if err := c.Clear(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "cleared %s\n", c.Dir())
	}

	if !removeOut {
		return nil
	}
	target := cfg.Run.OutDir
	if target == "" {
		return errors.New("--out given but no [run].out_dir is configured")
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_, _ = fmt.Fprintf(out, "output directory not found\n")
			return nil
		}
		return fmt.Errorf("failed to stat %q: %w", target, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", target)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to remove %q: %w", target, err)
	}
	_, _ = fmt.Fprintf(out, "removed %s\n", target)
	return nil
}
