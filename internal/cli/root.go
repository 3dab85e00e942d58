package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/ratecheck/internal/loadtest/config"
	"github.com/wesleyorama2/ratecheck/internal/logging"
)

var version = "0.1.0"

// envPrefix namespaces environment overrides of flags, e.g.
// RATECHECK_URL or RATECHECK_LOG_LEVEL.
const envPrefix = "RATECHECK"

// Exit codes returned by Main.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

// CommandError carries the process exit code of a failed command.
type CommandError struct {
	Code int
	Err  error

	// Reported is set when the command already told the user about the
	// failure, so Main does not print it again.
	Reported bool
}

func (e *CommandError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode maps the error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ExitError
}

// app is the state shared by all commands of one root command.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
}

// logger builds the process logger from --log-level and --log-format.
// fallbackLevel applies when no level was given.
func (a *app) logger(fallbackLevel string) (zerolog.Logger, error) {
	level := a.v.GetString("log-level")
	if level == "" {
		level = fallbackLevel
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: a.v.GetString("log-format"),
		Writer: a.stderr,
	})
}

// NewRootCmd builds the command tree. Flags of every command can also be
// set through RATECHECK_-prefixed environment variables.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:     "ratecheck",
		Short:   "Load-test and verify an HTTP rate limiter",
		Version: version,
		Long: `ratecheck drives virtual users against an HTTP service, sending one
anonymous request and one API_KEY request per iteration, and checks the
per-status latency trends against thresholds.

It also ships the rate-limited target service itself.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
			config.UserAgent = "ratecheck/" + version
			return a.v.BindPFlags(cmd.Flags())
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	root.PersistentFlags().String("log-format", logging.FormatAuto, "Log format: auto, console, json")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newTargetCmd(a))
	root.AddCommand(newHistoryCmd(a))

	return root
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}

// Main executes the CLI and returns the process exit code.
func Main() int {
	err := Execute()
	var ce *CommandError
	if err != nil && !(errors.As(err, &ce) && ce.Reported) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}
