package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/artpar/lnlab/internal/core/domain"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitDatabaseError = 2
	ExitDockerError   = 3
	ExitCommandError  = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, formatError(err))
		return exitCode(err)
	}
	return ExitSuccess
}

// =============================================================================
// Root Command
// =============================================================================

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	jsonOutput bool

	out    io.Writer
	errOut io.Writer

	cfg    *Config
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{out: stdout, errOut: stderr}

	root := &cobra.Command{
		Use:   "lnlab",
		Short: "lnlab - local Lightning Network development environments",
		Long: `lnlab creates and runs isolated regtest Lightning networks in Docker.

Each network gets a bitcoind backend and any number of lnd nodes, with
non-overlapping host ports and state that survives restarts.

  lnlab network create alpha --lnd 3
  lnlab network start alpha
  lnlab logs alpha lnd-1`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.loadConfig()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to config file")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Output in JSON format")

	root.AddCommand(
		c.newServeCmd(),
		c.newNetworkCmd(),
		c.newNodeCmd(),
		c.newMineCmd(),
		c.newFundCmd(),
		c.newChannelCmd(),
		c.newPayCmd(),
		c.newSyncCmd(),
		c.newLogsCmd(),
		c.newReconcileCmd(),
		c.newDoctorCmd(),
	)

	return root
}

func (c *cli) loadConfig() error {
	cfg, err := LoadConfig(c.configPath)
	if err != nil {
		return &exitError{code: ExitConfigError, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: ExitConfigError, err: fmt.Errorf("invalid configuration: %w", err)}
	}
	c.cfg = cfg
	c.logger = SetupLogger(cfg, c.errOut)
	return nil
}

// =============================================================================
// Exit Errors
// =============================================================================

// exitError pins the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// exitCode picks the exit code for a command error.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, domain.ErrRuntimeUnavailable):
		return ExitDockerError
	case errors.Is(err, domain.ErrStateCorruption):
		return ExitDatabaseError
	default:
		return ExitCommandError
	}
}

// formatError renders err as "error [Reason]: message". Errors that carry
// no domain kind, such as flag parsing failures, omit the reason.
func formatError(err error) string {
	var ee *exitError
	if errors.As(err, &ee) && ee.code == ExitConfigError {
		return "error: " + err.Error()
	}
	reason := domain.Reason(err)
	if reason == "Internal" {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("error [%s]: %s", reason, err.Error())
}
