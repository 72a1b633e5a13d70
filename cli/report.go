package cli

// This file contains the progress reporter emitting gtest-style status
// lines and the end-of-iteration summary.

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/gisolate/gisolate/model"
)

const (
	colorGreen  = "\033[0;32m"
	colorRed    = "\033[0;31m"
	colorYellow = "\033[0;33m"
	colorReset  = "\033[m"
)

type reporter struct {
	out        io.Writer
	color      bool
	printTime  bool
	warnlineMS int
}

func newReporter(out io.Writer, opts *options) *reporter {
	return &reporter{
		out:        out,
		color:      colorEnabled(opts.Color, out),
		printTime:  opts.PrintTime,
		warnlineMS: opts.WarnlineMS,
	}
}

// colorEnabled resolves the gtest_color setting; "auto" means color
// only when the sink is a terminal.
func colorEnabled(mode string, out io.Writer) bool {
	switch mode {
	case "yes", "true", "t", "1":
		return true
	case "auto":
		f, ok := out.(*os.File)
		return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	}
	return false
}

// tag writes one status tag, colorized when enabled. Absence of color
// never changes the plain-text content.
func (r *reporter) tag(color, tag string) {
	if r.color {
		fmt.Fprint(r.out, color, tag, colorReset)
	} else {
		fmt.Fprint(r.out, tag)
	}
}

func (r *reporter) IterationStart(registry *model.Registry, iteration, iterationCount int) {
	if iterationCount > 1 {
		fmt.Fprintf(r.out, "\nRepeating all tests (iteration %d) . . .\n\n", iteration)
	}
	r.tag(colorGreen, "[==========] ")
	testCount := registry.TestCount()
	caseCount := len(registry.Cases)
	fmt.Fprintf(r.out, "Running %d %s from %d %s.\n",
		testCount, pluralize(testCount, "test", "tests"),
		caseCount, pluralize(caseCount, "test case", "test cases"))
}

func (r *reporter) TestEnd(name string, test *model.Test) {
	switch test.Status {
	case model.StatusSuccess:
		r.tag(colorGreen, "[    OK    ] ")
	case model.StatusFailed:
		r.tag(colorRed, "[  FAILED  ] ")
	case model.StatusTimeout:
		r.tag(colorRed, "[ TIMEOUT  ] ")
	}
	fmt.Fprint(r.out, name)
	if r.printTime {
		fmt.Fprintf(r.out, " (%d ms)\n", test.Elapsed.Milliseconds())
	} else {
		fmt.Fprintln(r.out)
	}
	fmt.Fprint(r.out, test.FailureMessage)
}

func (r *reporter) IterationEnd(registry *model.Registry, elapsed time.Duration) {
	type timedEntry struct {
		name    string
		elapsed time.Duration
	}
	var failed []string
	var timeouts []timedEntry
	var slow []timedEntry
	testCount := 0
	successCount := 0

	for i := range registry.Cases {
		testcase := &registry.Cases[i]
		testCount += len(testcase.Tests)
		for j := range testcase.Tests {
			test := &testcase.Tests[j]
			name := testcase.QualifiedName(j)
			switch test.Status {
			case model.StatusSuccess:
				successCount++
			case model.StatusFailed:
				failed = append(failed, name)
			case model.StatusTimeout:
				timeouts = append(timeouts, timedEntry{name, test.Elapsed})
			}
			if test.Status != model.StatusTimeout && test.Elapsed.Milliseconds() >= int64(r.warnlineMS) {
				slow = append(slow, timedEntry{name, test.Elapsed})
			}
		}
	}

	r.tag(colorGreen, "[==========] ")
	fmt.Fprintf(r.out, "%d %s from %d %s ran.",
		testCount, pluralize(testCount, "test", "tests"),
		len(registry.Cases), pluralize(len(registry.Cases), "test case", "test cases"))
	if r.printTime {
		fmt.Fprintf(r.out, " (%d ms total)", elapsed.Milliseconds())
	}
	fmt.Fprintln(r.out)

	r.tag(colorGreen, "[   PASS   ] ")
	fmt.Fprintf(r.out, "%d %s.\n", successCount, pluralize(successCount, "test", "tests"))

	if len(failed) > 0 {
		r.tag(colorRed, "[   FAIL   ] ")
		fmt.Fprintf(r.out, "%d %s, listed below:\n", len(failed), pluralize(len(failed), "test", "tests"))
		for _, name := range failed {
			r.tag(colorRed, "[   FAIL   ] ")
			fmt.Fprintf(r.out, "%s\n", name)
		}
	}

	if len(timeouts) > 0 {
		r.tag(colorRed, "[ TIMEOUT  ] ")
		fmt.Fprintf(r.out, "%d %s, listed below:\n", len(timeouts), pluralize(len(timeouts), "test", "tests"))
		for _, entry := range timeouts {
			r.tag(colorRed, "[ TIMEOUT  ] ")
			fmt.Fprintf(r.out, "%s (stopped at %d ms)\n", entry.name, entry.elapsed.Milliseconds())
		}
	}

	if len(slow) > 0 {
		r.tag(colorYellow, "[   SLOW   ] ")
		fmt.Fprintf(r.out, "%d %s, listed below:\n", len(slow), pluralize(len(slow), "test", "tests"))
		for _, entry := range slow {
			r.tag(colorYellow, "[   SLOW   ] ")
			fmt.Fprintf(r.out, "%s (%d ms, exceed warnline %d ms)\n", entry.name, entry.elapsed.Milliseconds(), r.warnlineMS)
		}
	}

	if len(failed) > 0 {
		fmt.Fprintf(r.out, "\n%2d FAILED %s\n", len(failed), pluralize(len(failed), "TEST", "TESTS"))
	}
	if len(timeouts) > 0 {
		fmt.Fprintf(r.out, "%2d TIMEOUT %s\n", len(timeouts), pluralize(len(timeouts), "TEST", "TESTS"))
	}
	if len(slow) > 0 {
		fmt.Fprintf(r.out, "%2d SLOW %s\n", len(slow), pluralize(len(slow), "TEST", "TESTS"))
	}
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
