package cli

// This file contains the supervisor: the bounded worker pool that
// dispatches one child process per test, enforces per-test deadlines,
// and collects outcomes.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/gisolate/gisolate/model"
)

// completion is posted by a per-child waiter goroutine when the child
// has been reaped.
type completion struct {
	pid   int
	state *os.ProcessState
	err   error
}

// childSlot is one worker-pool position. A slot either is empty
// (proc == nil) or hosts exactly one child that has not been collected
// yet. Slots are reused across tests within an iteration.
type childSlot struct {
	proc      *childProc
	start     time.Time
	deadline  time.Time
	caseID    int
	testID    int
	completed bool
	timedOut  bool
	reaped    bool
	state     *os.ProcessState
}

type supervisor struct {
	logger      zerolog.Logger
	clk         clock.Clock
	opts        *options
	args        []string
	registry    *model.Registry
	reporter    *reporter
	slots       []childSlot
	completions chan completion
}

func newSupervisor(logger zerolog.Logger, clk clock.Clock, opts *options, args []string, registry *model.Registry, out io.Writer) *supervisor {
	return &supervisor{
		logger:      logger,
		clk:         clk,
		opts:        opts,
		args:        args,
		registry:    registry,
		reporter:    newReporter(out, opts),
		slots:       make([]childSlot, opts.JobCount),
		completions: make(chan completion, opts.JobCount),
	}
}

// run executes the requested number of iterations over the registry and
// writes the structured report after each one if an output path is set.
func (s *supervisor) run() error {
	for iteration := 1; iteration <= s.opts.Repeat; iteration++ {
		s.registry.Reset()
		s.reporter.IterationStart(s.registry, iteration, s.opts.Repeat)
		start := s.clk.Now()
		if err := s.runIteration(); err != nil {
			return err
		}
		elapsed := s.clk.Since(start)
		s.reporter.IterationEnd(s.registry, elapsed)
		if s.opts.Output != "" {
			if err := writeXMLReport(s.opts.Output, s.registry, start, elapsed); err != nil {
				return err
			}
		}
	}
	return nil
}

// runIteration drives the dispatch / wait / collect loop until every
// test in the registry has a terminal status.
func (s *supervisor) runIteration() error {
	nextCase, nextTest := 0, 0
	finished := make([]int, len(s.registry.Cases))
	finishedCases := 0
	for i := range s.registry.Cases {
		if len(s.registry.Cases[i].Tests) == 0 {
			finishedCases++
		}
	}
	for nextCase < len(s.registry.Cases) && len(s.registry.Cases[nextCase].Tests) == 0 {
		nextCase++
	}

	for finishedCases < len(s.registry.Cases) {
		// Dispatch in enumeration order into every empty slot.
		for i := range s.slots {
			if s.slots[i].proc != nil || nextCase >= len(s.registry.Cases) {
				continue
			}
			if err := s.dispatch(&s.slots[i], nextCase, nextTest); err != nil {
				return err
			}
			if nextTest++; nextTest == len(s.registry.Cases[nextCase].Tests) {
				nextTest = 0
				nextCase++
				for nextCase < len(s.registry.Cases) && len(s.registry.Cases[nextCase].Tests) == 0 {
					nextCase++
				}
			}
		}

		if err := s.waitStep(); err != nil {
			return err
		}

		for i := range s.slots {
			sl := &s.slots[i]
			if sl.proc == nil || !sl.completed {
				continue
			}
			if err := s.collect(sl); err != nil {
				return err
			}
			if finished[sl.caseID]++; finished[sl.caseID] == len(s.registry.Cases[sl.caseID].Tests) {
				finishedCases++
			}
			*sl = childSlot{}
		}
	}
	return nil
}

func (s *supervisor) dispatch(sl *childSlot, caseID, testID int) error {
	name := s.registry.Cases[caseID].QualifiedName(testID)
	proc, err := launchChild(s.logger, s.args, name)
	if err != nil {
		return err
	}
	now := s.clk.Now()
	*sl = childSlot{
		proc:     proc,
		start:    now,
		deadline: now.Add(time.Duration(s.opts.DeadlineMS) * time.Millisecond),
		caseID:   caseID,
		testID:   testID,
	}
	go func(cmd *exec.Cmd, pid int) {
		err := cmd.Wait()
		s.completions <- completion{pid: pid, state: cmd.ProcessState, err: err}
	}(proc.cmd, proc.pid)
	return nil
}

// waitStep blocks until at least one slot is marked completed, either
// by a reaped child or by a missed deadline. Completions are consumed
// without blocking; when none are pending, every live slot's deadline
// is checked against the current time, and a short sleep bounds the
// polling so a runaway child is killed within a millisecond of its
// deadline.
func (s *supervisor) waitStep() error {
	for {
		// A completion consumed while collecting a killed child may
		// already have marked another slot.
		marked := false
		for i := range s.slots {
			if s.slots[i].proc != nil && s.slots[i].completed {
				marked = true
			}
		}
		for {
			select {
			case c := <-s.completions:
				if err := s.applyCompletion(c); err != nil {
					return err
				}
				marked = true
				continue
			default:
			}
			break
		}
		if !marked {
			now := s.clk.Now()
			for i := range s.slots {
				sl := &s.slots[i]
				if sl.proc != nil && !sl.completed && !sl.deadline.After(now) {
					sl.completed = true
					sl.timedOut = true
					marked = true
				}
			}
		}
		if marked {
			return nil
		}
		s.clk.Sleep(time.Millisecond)
	}
}

func (s *supervisor) applyCompletion(c completion) error {
	if c.err != nil {
		var exitErr *exec.ExitError
		if !errors.As(c.err, &exitErr) {
			return fmt.Errorf("failed to wait for child %d: %w", c.pid, c.err)
		}
	}
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.proc != nil && sl.proc.pid == c.pid {
			sl.completed = true
			sl.reaped = true
			sl.state = c.state
			return nil
		}
	}
	return fmt.Errorf("reaped unknown child %d", c.pid)
}

// collect finalizes one completed slot: kill and reap a timed-out
// child, take the drained pipe contents, classify the outcome, and
// report the test end.
func (s *supervisor) collect(sl *childSlot) error {
	testcase := &s.registry.Cases[sl.caseID]
	test := &testcase.Tests[sl.testID]
	name := testcase.QualifiedName(sl.testID)
	test.Elapsed = s.clk.Since(sl.start)

	// A timed-out child is killed and reaped before its pipe contents
	// are taken, so the drain is guaranteed to reach end-of-file.
	if sl.timedOut {
		if err := sl.proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill child %d: %w", sl.proc.pid, err)
		}
		for !sl.reaped {
			if err := s.applyCompletion(<-s.completions); err != nil {
				return err
			}
		}
	}

	out := <-sl.proc.output
	if out.err != nil {
		return fmt.Errorf("failed to read failure output of %s: %w", name, out.err)
	}
	test.FailureMessage += string(out.data)

	switch {
	case sl.timedOut:
		test.Status = model.StatusTimeout
		test.FailureMessage += fmt.Sprintf("%s killed because of timeout at %d ms.\n", name, test.Elapsed.Milliseconds())
	case signaled(sl.state):
		test.Status = model.StatusFailed
		test.FailureMessage += fmt.Sprintf("%s terminated by signal: %s.\n", name, signalName(sl.state))
	case sl.state.ExitCode() == 0:
		test.Status = model.StatusSuccess
	default:
		test.Status = model.StatusFailed
		test.FailureMessage += fmt.Sprintf("%s exited with exitcode %d.\n", name, sl.state.ExitCode())
	}

	s.reporter.TestEnd(name, test)
	return nil
}

func waitStatus(state *os.ProcessState) unix.WaitStatus {
	return unix.WaitStatus(state.Sys().(syscall.WaitStatus))
}

func signaled(state *os.ProcessState) bool {
	return waitStatus(state).Signaled()
}

func signalName(state *os.ProcessState) string {
	return unix.SignalName(waitStatus(state).Signal())
}
