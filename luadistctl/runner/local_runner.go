package runner

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// LocalRunner executes commands on the local system through the shell, so
// pipelines and quoted arguments in the command line work as written.
type LocalRunner struct {
	// Shell overrides the shell binary. Defaults to "sh".
	Shell string
}

func (l *LocalRunner) shell() string {
	if l.Shell != "" {
		return l.Shell
	}
	return "sh"
}

func (l *LocalRunner) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, l.shell(), "-c", config.Command)
	cmd.Dir = config.Dir
	if len(config.Env) > 0 {
		cmd.Env = append(os.Environ(), config.Env...)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := CommandResult{
		Command:   config.Command,
		STDOUT:    stdout.String(),
		STDERR:    stderr.String(),
		ExitCode:  getExitCode(err),
		Duration:  time.Since(start),
		Timestamp: start,
	}

	return result, err
}

func getExitCode(err error) int {
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			status := exitError.Sys().(syscall.WaitStatus)
			return status.ExitStatus()
		}
	}
	return 0
}
