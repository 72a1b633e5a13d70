package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

func TestPickOptionsFilterComposition(t *testing.T) {
	tests := []struct {
		name       string
		in         []string
		wantFilter string
	}{
		{
			name:       "no filter excludes selftests",
			in:         []string{"bin"},
			wantFilter: "--gtest_filter=-bionic_selftest*",
		},
		{
			name:       "positive filter gets negative clause",
			in:         []string{"bin", "--gtest_filter=A"},
			wantFilter: "--gtest_filter=A:-bionic_selftest*",
		},
		{
			name:       "existing negative clause is extended",
			in:         []string{"bin", "--gtest_filter=A:-B"},
			wantFilter: "--gtest_filter=A:-B:bionic_selftest*",
		},
		{
			name:       "selftest mode overrides any filter",
			in:         []string{"bin", "--gtest_filter=A:-B", "--bionic-selftest"},
			wantFilter: "--gtest_filter=bionic_selftest*",
		},
		{
			name:       "synonym spelling is normalized",
			in:         []string{"bin", "--gtest-filter=suite.*"},
			wantFilter: "--gtest_filter=suite.*:-bionic_selftest*",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, args, err := pickOptions(tt.in)
			if err != nil {
				t.Fatalf("pickOptions() error = %v", err)
			}
			var filters []string
			for _, arg := range args {
				if strings.HasPrefix(arg, "--gtest_filter=") {
					filters = append(filters, arg)
				}
			}
			if len(filters) != 1 {
				t.Fatalf("pickOptions() left %d filter arguments, want 1: %v", len(filters), args)
			}
			if filters[0] != tt.wantFilter {
				t.Errorf("pickOptions() filter = %q, want %q", filters[0], tt.wantFilter)
			}
		})
	}
}

func TestPickOptionsJobCount(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    int
		wantErr bool
	}{
		{
			name: "attached value",
			in:   []string{"bin", "-j4"},
			want: 4,
		},
		{
			name: "separate value",
			in:   []string{"bin", "-j", "8"},
			want: 8,
		},
		{
			name: "bare defaults to processor count",
			in:   []string{"bin", "-j"},
			want: runtime.NumCPU(),
		},
		{
			name: "bare followed by another flag",
			in:   []string{"bin", "-j", "--deadline=100"},
			want: runtime.NumCPU(),
		},
		{
			name:    "zero is rejected",
			in:      []string{"bin", "-j0"},
			wantErr: true,
		},
		{
			name:    "garbage is rejected",
			in:      []string{"bin", "-junk"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, _, err := pickOptions(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("pickOptions() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("pickOptions() error = %v", err)
			}
			if opts.JobCount != tt.want {
				t.Errorf("pickOptions() JobCount = %d, want %d", opts.JobCount, tt.want)
			}
		})
	}
}

func TestPickOptionsDeadlineWarnline(t *testing.T) {
	opts, _, err := pickOptions([]string{"bin", "--deadline=500", "--warnline=100"})
	if err != nil {
		t.Fatalf("pickOptions() error = %v", err)
	}
	if opts.DeadlineMS != 500 {
		t.Errorf("DeadlineMS = %d, want 500", opts.DeadlineMS)
	}
	if opts.WarnlineMS != 100 {
		t.Errorf("WarnlineMS = %d, want 100", opts.WarnlineMS)
	}

	for _, bad := range [][]string{
		{"bin", "--deadline=0"},
		{"bin", "--deadline=-5"},
		{"bin", "--deadline=abc"},
		{"bin", "--warnline=0"},
		{"bin", "--warnline=xyz"},
	} {
		if _, _, err := pickOptions(bad); err == nil {
			t.Errorf("pickOptions(%v) expected error, got nil", bad)
		}
	}
}

func TestPickOptionsRemovesRepeatAndOutput(t *testing.T) {
	opts, args, err := pickOptions([]string{"bin", "--gtest_repeat=3", "--gtest_output=xml:/tmp/out.xml", "--gtest_color=no"})
	if err != nil {
		t.Fatalf("pickOptions() error = %v", err)
	}
	if opts.Repeat != 3 {
		t.Errorf("Repeat = %d, want 3", opts.Repeat)
	}
	if opts.Output != "/tmp/out.xml" {
		t.Errorf("Output = %q, want /tmp/out.xml", opts.Output)
	}
	if opts.Color != "no" {
		t.Errorf("Color = %q, want no", opts.Color)
	}
	for _, arg := range args {
		if strings.HasPrefix(arg, "--gtest_repeat=") || strings.HasPrefix(arg, "--gtest_output=") {
			t.Errorf("argument %q should have been removed from %v", arg, args)
		}
	}

	if _, _, err := pickOptions([]string{"bin", "--gtest_repeat=-1"}); err == nil {
		t.Error("pickOptions() expected error for negative repeat, got nil")
	}
	if _, _, err := pickOptions([]string{"bin", "--gtest_output=xml:"}); err == nil {
		t.Error("pickOptions() expected error for empty output path, got nil")
	}
}

func TestPickOptionsInsertsNoIsolate(t *testing.T) {
	_, args, err := pickOptions([]string{"bin", "-j2"})
	if err != nil {
		t.Fatalf("pickOptions() error = %v", err)
	}
	want := []string{"bin", "--no-isolate", "-j2", "--gtest_filter=-bionic_selftest*"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("pickOptions() args = %v, want %v", args, want)
	}
}

func TestPickOptionsDisablesIsolation(t *testing.T) {
	for _, in := range [][]string{
		{"bin", "--no-isolate"},
		{"bin", "--gtest_list_tests"},
	} {
		opts, _, err := pickOptions(in)
		if err != nil {
			t.Fatalf("pickOptions(%v) error = %v", in, err)
		}
		if opts.Isolate {
			t.Errorf("pickOptions(%v) Isolate = true, want false", in)
		}
	}
}

func TestPickOptionsHelp(t *testing.T) {
	opts, _, err := pickOptions([]string{"bin", "-j2", "--help"})
	if err != nil {
		t.Fatalf("pickOptions() error = %v", err)
	}
	if !opts.Help || opts.Isolate {
		t.Errorf("pickOptions() Help = %v Isolate = %v, want true false", opts.Help, opts.Isolate)
	}
}

func TestPickOptionsPrintTime(t *testing.T) {
	opts, _, err := pickOptions([]string{"bin", "--gtest_print_time=0"})
	if err != nil {
		t.Fatalf("pickOptions() error = %v", err)
	}
	if opts.PrintTime {
		t.Error("PrintTime = true, want false")
	}
}

func TestNormalizeOutputPath(t *testing.T) {
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origWd) })

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "relative file made absolute",
			in:   "xml:out.xml",
			want: filepath.Join(cwd, "out.xml"),
		},
		{
			name: "directory gets default file name",
			in:   "xml:out/",
			want: filepath.Join(cwd, "out", "test_details.xml"),
		},
		{
			name: "absolute path kept",
			in:   "xml:/tmp/report.xml",
			want: "/tmp/report.xml",
		},
		{
			name: "no xml prefix passes through",
			in:   "json:whatever",
			want: "json:whatever",
		},
		{
			name:    "empty path rejected",
			in:      "xml:",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeOutputPath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("normalizeOutputPath() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeOutputPath() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("normalizeOutputPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
