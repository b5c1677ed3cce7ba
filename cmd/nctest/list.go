package main

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"nctest/internal/annot"
	"nctest/internal/pipeline"
	"nctest/internal/source"
)

var listCmd = &cobra.Command{
	Use:   "list [flags] [paths...]",
	Short: "List the test cases found in fragments without compiling",
	RunE:  listExecution,
}

func init() {
	listCmd.Flags().StringArray("ext", nil, "fragment file extension to discover (repeatable)")
	listCmd.Flags().String("run", "", "only list cases whose name matches this regexp")
	listCmd.Flags().Bool("expectations", false, "print the expectations of every case")
}

type listRow struct {
	path    string
	dialect string
	name    string
	state   string
	detail  []string
}

func listExecution(cmd *cobra.Command, args []string) error {
	pattern, err := cmd.Flags().GetString("run")
	if err != nil {
		return err
	}
	showExpectations, err := cmd.Flags().GetBool("expectations")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("ext") {
		if cfg.Run.Extensions, err = cmd.Flags().GetStringArray("ext"); err != nil {
			return err
		}
	}
	var filter *regexp.Regexp
	if pattern != "" {
		if filter, err = regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid --run pattern: %w", err)
		}
	}

	paths := cfg.Run.Paths
	if len(args) > 0 {
		paths = args
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}
	exts := cfg.Run.Extensions
	if len(exts) == 0 {
		exts = pipeline.DefaultExtensions
	}
	files, err := pipeline.Discover(paths, exts)
	if err != nil {
		return err
	}

	var (
		rows   []listRow
		broken int
	)
	for _, path := range files {
		r, err := listFragment(path, filter, showExpectations)
		if err != nil {
			broken++
			fmt.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
			continue
		}
		rows = append(rows, r...)
	}
	writeListRows(cmd.OutOrStdout(), rows)
	if broken > 0 {
		return fmt.Errorf("%d fragment(s) have annotation errors", broken)
	}
	return nil
}

func listFragment(path string, filter *regexp.Regexp, withExpectations bool) ([]listRow, error) {
	file, err := source.Load(path)
	if err != nil {
		return nil, err
	}
	set, err := annot.Parse(file)
	if err != nil {
		return nil, err
	}
	if len(set.Cases) == 0 {
		return []listRow{{path: path, dialect: set.Dialect.String(), name: "-", state: "no cases"}}, nil
	}
	var rows []listRow
	for _, tc := range set.Cases {
		if filter != nil && !filter.MatchString(tc.Name) {
			continue
		}
		row := listRow{path: path, dialect: tc.Dialect.String(), name: tc.Name, state: "enabled"}
		if tc.Disabled {
			row.state = "disabled"
		}
		if withExpectations {
			for _, e := range tc.Expectations {
				row.detail = append(row.detail, e.String())
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeListRows(out io.Writer, rows []listRow) {
	var wPath, wDialect, wName int
	for _, r := range rows {
		wPath = max(wPath, runewidth.StringWidth(r.path))
		wDialect = max(wDialect, runewidth.StringWidth(r.dialect))
		wName = max(wName, runewidth.StringWidth(r.name))
	}
	for _, r := range rows {
		line := runewidth.FillRight(r.path, wPath) + "  " +
			runewidth.FillRight(r.dialect, wDialect) + "  " +
			runewidth.FillRight(r.name, wName) + "  " + r.state
		fmt.Fprintln(out, strings.TrimRight(line, " "))
		for _, d := range r.detail {
			fmt.Fprintf(out, "    %s\n", d)
		}
	}
}
