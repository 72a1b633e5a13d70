package cli

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"al.essio.dev/pkg/shellescape"
	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "gisolate"

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run the tests inside a gtest binary, one process per test",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "run",
		Usage:           "Run a gtest binary with per-test process isolation",
		ArgsUsage:       "BINARY [OPTIONS...] [GTEST_ARGS...]",
		Action:          app.run,
		SkipFlagParsing: true,
		Description: `Run a gtest binary with per-test process isolation.

Everything after BINARY is split into runner options and arguments
forwarded to the gtest binary. Each test runs in its own child process;
children exceeding the deadline are killed and reported as TIMEOUT.

Examples:
  gisolate run ./mytests                      # isolate, one job per processor
  gisolate run ./mytests -j4 --deadline=5000  # four jobs, 5 s per test
  gisolate run ./mytests --gtest_filter=Foo.* # forward a gtest filter
  gisolate run ./mytests --no-isolate         # plain single-process run`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "list",
		Usage:           "List the tests inside a gtest binary",
		ArgsUsage:       "BINARY [GTEST_ARGS...]",
		Action:          app.listTests,
		SkipFlagParsing: true,
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

func (a *App) run(ctx *cli.Context) error {
	argv := ctx.Args().Slice()
	if len(argv) < 1 {
		return cli.Exit("no test binary specified", 1)
	}

	opts, args, err := pickOptions(argv)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if opts.Help {
		fmt.Print(helpText)
		return nil
	}
	if !opts.Isolate {
		return a.runDirect(args)
	}

	registry, err := a.enumerate(args)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to enumerate tests")
		return cli.Exit(err.Error(), 1)
	}

	a.logger.Debug().
		Int("jobs", opts.JobCount).
		Int("deadline_ms", opts.DeadlineMS).
		Int("warnline_ms", opts.WarnlineMS).
		Int("iterations", opts.Repeat).
		Msg("Running tests in isolation mode")

	sup := newSupervisor(a.logger, clock.NewClock(), opts, args, registry, os.Stdout)
	if err := sup.run(); err != nil {
		a.logger.Error().Err(err).Msg("Test supervision failed")
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

// runDirect bypasses the isolation engine and hands the terminal to a
// single child process, propagating its exit code.
func (a *App) runDirect(args []string) error {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	a.logger.Debug().Str("command", shellescape.QuoteCommand(cmd.Args)).Msg("Running without isolation")

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return cli.Exit("", exitErr.ExitCode())
		}
		return cli.Exit(fmt.Sprintf("failed to execute %s: %v", args[0], err), 1)
	}
	return nil
}

func (a *App) listTests(ctx *cli.Context) error {
	argv := ctx.Args().Slice()
	if len(argv) < 1 {
		return cli.Exit("no test binary specified", 1)
	}

	registry, err := a.enumerate(argv)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	for i := range registry.Cases {
		testcase := &registry.Cases[i]
		for j := range testcase.Tests {
			fmt.Println(testcase.QualifiedName(j))
		}
	}
	return nil
}
