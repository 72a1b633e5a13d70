package cli

// This file contains the child launcher: starting one child process per
// test with a dedicated pipe for its failure output.

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"
)

// outputFDEnv advertises the failure sink descriptor to the child. The
// pipe write end is inherited as descriptor 3; a child that does not
// recognize the variable simply never writes to it.
const outputFDEnv = "GISOLATE_OUTPUT_FD"

// drained is the full contents of a child's failure pipe, delivered
// once end-of-file is reached.
type drained struct {
	data []byte
	err  error
}

// childProc is one live child running a single test.
type childProc struct {
	cmd    *exec.Cmd
	pid    int
	output chan drained
}

// launchChild starts the test binary on exactly one test. The residual
// vector args (element 0 is the binary path, element 1 the injected
// --no-isolate) is extended with a filter selecting the named test. The
// child's stdout and stderr are discarded; its failure text travels
// through the pipe. The pipe is drained from a goroutine as the child
// writes, so a failure message larger than the kernel pipe capacity
// never blocks the child before it exits.
func launchChild(logger zerolog.Logger, args []string, name string) (*childProc, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}

	cmdArgs := append(append([]string{}, args[1:]...), "--gtest_filter="+name)
	cmd := exec.Command(args[0], cmdArgs...)
	cmd.ExtraFiles = []*os.File{w}
	cmd.Env = append(os.Environ(), outputFDEnv+"=3")

	logger.Debug().Str("command", shellescape.QuoteCommand(cmd.Args)).Msg("Starting test")

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	// The parent's copy of the write end must go away so the drain
	// sees end-of-file once the child exits.
	w.Close()

	proc := &childProc{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		output: make(chan drained, 1),
	}
	go func() {
		data, err := io.ReadAll(r)
		r.Close()
		proc.output <- drained{data: data, err: err}
	}()
	return proc, nil
}
