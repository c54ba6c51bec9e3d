package runner

import (
	"context"
	"time"
)

// CommandConfig describes a single command invocation. Command is a flat
// shell command line; Dir selects the working directory for the invocation.
type CommandConfig struct {
	Command string
	Dir     string
	Env     []string
}

// CommandResult encapsulates the results from a command execution.
type CommandResult struct {
	Command   string
	STDOUT    string
	STDERR    string
	ExitCode  int
	Duration  time.Duration
	Timestamp time.Time
}

// Runner executes commands, either on the local system or on a remote one.
type Runner interface {
	Run(ctx context.Context, config CommandConfig) (CommandResult, error)
}
