package depfile

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Rule
	}{
		{
			name: "single line",
			in:   "a.o: a.nc b.h\n",
			want: []Rule{{Targets: []string{"a.o"}, Deps: []string{"a.nc", "b.h"}}},
		},
		{
			name: "continuations",
			in:   "out/a.o: \\\n  a.nc \\\n  include/b.h\n",
			want: []Rule{{Targets: []string{"out/a.o"}, Deps: []string{"a.nc", "include/b.h"}}},
		},
		{
			name: "escaped space and dollar",
			in:   `a.o: my\ dir/x.h cost$$.h` + "\n",
			want: []Rule{{Targets: []string{"a.o"}, Deps: []string{"my dir/x.h", "cost$.h"}}},
		},
		{
			name: "windows drive letters",
			in:   `C:\out\a.o: C:\src\a.nc D:/inc/b.h` + "\n",
			want: []Rule{{Targets: []string{`C:\out\a.o`}, Deps: []string{`C:\src\a.nc`, "D:/inc/b.h"}}},
		},
		{
			name: "multiple rules",
			in:   "a.o: a.nc\nb.h:\n",
			want: []Rule{
				{Targets: []string{"a.o"}, Deps: []string{"a.nc"}},
				{Targets: []string{"b.h"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("rules mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRejectsMissingColon(t *testing.T) {
	if _, err := Parse(strings.NewReader("just words here\n")); err == nil {
		t.Fatal("expected an error for a rule without ':'")
	}
}

func TestDepsUnion(t *testing.T) {
	rules := []Rule{
		{Targets: []string{"a.o"}, Deps: []string{"a.nc", "common.h"}},
		{Targets: []string{"b.o"}, Deps: []string{"./common.h", "other.h"}},
	}
	want := []string{"a.nc", "common.h", "other.h"}
	if diff := cmp.Diff(want, Deps(rules)); diff != "" {
		t.Errorf("Deps mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	deps := []string{"a.nc", "my dir/x.h", "c$.h"}
	if err := Write(&buf, "out/a.cc", deps); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := "out/a.cc: \\\n  a.nc \\\n  my\\ dir/x.h \\\n  c$$.h\n"
	if buf.String() != want {
		t.Fatalf("Write output:\n%q\nwant:\n%q", buf.String(), want)
	}
	rules, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(deps, Deps(rules)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "a.d")
	if err := WriteFile(path, "a.cc", []string{"a.nc"}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rules, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(rules) != 1 || rules[0].Targets[0] != "a.cc" {
		t.Errorf("unexpected rules: %+v", rules)
	}
}
