package cli

// This file contains the structured XML report writer. The element
// shape follows the gtest XML output: a successful testcase
// self-closes, any other outcome wraps a failure child whose message
// attribute carries the full failure text.

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/gisolate/gisolate/model"
)

func writeXMLReport(path string, registry *model.Registry, start time.Time, elapsed time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", path, err)
	}
	w := bufio.NewWriter(f)

	totalTests := registry.TestCount()
	totalFailures := 0
	for i := range registry.Cases {
		totalFailures += registry.Cases[i].FailedCount()
	}

	fmt.Fprint(w, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(w, "<testsuites tests=\"%d\" failures=\"%d\" disabled=\"0\" errors=\"0\"", totalTests, totalFailures)
	fmt.Fprintf(w, " timestamp=\"%s\" time=\"%.3f\" name=\"AllTests\">\n", start.Format("2006-01-02T15:04:05"), elapsed.Seconds())

	for i := range registry.Cases {
		testcase := &registry.Cases[i]
		fmt.Fprintf(w, "  <testsuite name=\"%s\" tests=\"%d\" failures=\"%d\" disabled=\"0\" errors=\"0\"",
			xmlEscape(testcase.Name), len(testcase.Tests), testcase.FailedCount())
		fmt.Fprintf(w, " time=\"%.3f\">\n", testcase.Elapsed().Seconds())

		for j := range testcase.Tests {
			test := &testcase.Tests[j]
			fmt.Fprintf(w, "    <testcase name=\"%s\" status=\"run\" time=\"%.3f\" classname=\"%s\"",
				xmlEscape(test.Name), test.Elapsed.Seconds(), xmlEscape(testcase.Name))
			if test.Status == model.StatusSuccess {
				fmt.Fprint(w, " />\n")
			} else {
				fmt.Fprint(w, ">\n")
				fmt.Fprintf(w, "      <failure message=\"%s\" type=\"\">\n", xmlEscape(test.FailureMessage))
				fmt.Fprint(w, "      </failure>\n")
				fmt.Fprint(w, "    </testcase>\n")
			}
		}

		fmt.Fprint(w, "  </testsuite>\n")
	}
	fmt.Fprint(w, "</testsuites>\n")

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}

// xmlEscape escapes attribute text, keeping embedded newlines as
// character references so they survive inside attributes.
func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
