package luadist

import (
	"context"
	"os"
	"path/filepath"

	"github.com/luadistops/luadistctl/luadistctl/runner"
)

// Prober answers filesystem existence questions about the environment
// directory.
type Prober interface {
	Exists(ctx context.Context, dir, relPath string) (bool, error)
}

// FSProber checks the local filesystem directly, with no subprocess.
type FSProber struct{}

func (FSProber) Exists(_ context.Context, dir, relPath string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, relPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// RunnerProber checks existence through the runner, for environments that are
// not on the local filesystem.
type RunnerProber struct {
	Runner runner.Runner
}

func (p RunnerProber) Exists(ctx context.Context, dir, relPath string) (bool, error) {
	result, err := p.Runner.Run(ctx, runner.CommandConfig{
		Command: "test -e " + relPath,
		Dir:     dir,
	})
	if result.ExitCode == 0 && err == nil {
		return true, nil
	}
	if result.ExitCode == 1 {
		return false, nil
	}
	return false, err
}
