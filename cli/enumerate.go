package cli

// This file contains test enumeration: running the child binary with
// --gtest_list_tests and parsing its output into the registry.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/gisolate/gisolate/model"
)

// enumerate runs the test binary with a list-tests directive and parses
// its standard output into the registry, in declaration order. args is
// the residual argument vector whose element 0 is the binary path.
func (a *App) enumerate(args []string) (*model.Registry, error) {
	cmdArgs := append(append([]string{}, args[1:]...), "--gtest_list_tests")
	cmd := exec.Command(args[0], cmdArgs...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr

	a.logger.Debug().Str("command", shellescape.QuoteCommand(cmd.Args)).Msg("Enumerating tests")

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("listing tests failed with exit code %d", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}

	registry, err := parseTestList(&out)
	if err != nil {
		return nil, err
	}

	a.logger.Debug().
		Int("tests", registry.TestCount()).
		Int("cases", len(registry.Cases)).
		Msg("Enumerated tests")
	return registry, nil
}

// parseTestList parses gtest list output: a case line ends with a
// trailing dot, each following line is a test belonging to the most
// recently seen case. Surrounding whitespace is ignored. A line with
// internal whitespace means the child rejected the arguments.
func parseTestList(r io.Reader) (*model.Registry, error) {
	registry := &model.Registry{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.ContainsAny(line, " \t") {
			return nil, fmt.Errorf("argument error, check with --help")
		}
		if strings.HasSuffix(line, ".") {
			registry.Cases = append(registry.Cases, model.TestCase{Name: strings.TrimSuffix(line, ".")})
			continue
		}
		if len(registry.Cases) == 0 {
			return nil, fmt.Errorf("malformed test list: test %q appears before any test case", line)
		}
		last := &registry.Cases[len(registry.Cases)-1]
		last.Tests = append(last.Tests, model.Test{Name: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test list: %w", err)
	}
	return registry, nil
}
