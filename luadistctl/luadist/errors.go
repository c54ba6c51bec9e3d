package luadist

import (
	"fmt"

	"github.com/luadistops/luadistctl/luadistctl/runner"
)

type commandError struct {
	Msg    string
	Result runner.CommandResult
	Err    error
}

func (e commandError) Error() string {
	if e.Result.Command == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %q exited with code %d", e.Msg, e.Result.Command, e.Result.ExitCode)
}

func (e commandError) Unwrap() error {
	return e.Err
}

// CommandResult exposes the captured subprocess output for error reporting.
func (e commandError) CommandResult() runner.CommandResult {
	return e.Result
}

// BootstrapError reports that the environment-setup subprocess did not leave
// the luadist binary in place.
type BootstrapError struct{ commandError }

// AuditError reports a non-zero exit from the package-list subprocess.
type AuditError struct{ commandError }

// InstallError reports an install subprocess failure that was not the benign
// nothing-to-do case.
type InstallError struct{ commandError }
