// Package luadist wraps the external LuaDist package manager CLI. All real
// package and dependency logic lives in LuaDist itself; this package only
// constructs its command lines, runs them through a runner and interprets
// the output.
package luadist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/luadistops/luadistctl/luadistctl/runner"
)

const (
	// BinaryRelPath is the fixed location of the luadist binary relative to
	// the environment path.
	BinaryRelPath = "LuaDist/bin/luadist"

	// DefaultRepo is the public repository used when the caller does not
	// supply one.
	DefaultRepo = "git://github.com/LuaDist/Repository.git"

	// DefaultBootstrapURL points at the upstream bootstrap script redirector.
	DefaultBootstrapURL = "https://tinyurl.com/luadist"

	// noopPhrase is what luadist prints when an install request has nothing
	// left to do. Some LuaDist versions pair it with a non-zero exit code,
	// so it is treated as success.
	noopPhrase = "No packages to install"
)

// DistPolicy restricts which dist types LuaDist may install.
type DistPolicy string

const (
	DistAll    DistPolicy = "all"
	DistBinary DistPolicy = "binary"
	DistSource DistPolicy = "source"
)

// ParseDistPolicy validates the wire spelling of a dist policy.
func ParseDistPolicy(s string) (DistPolicy, error) {
	switch DistPolicy(s) {
	case DistAll, DistBinary, DistSource:
		return DistPolicy(s), nil
	case "":
		return DistAll, nil
	}
	return "", fmt.Errorf("unknown dist policy %q: must be one of all, binary, source", s)
}

// SourceAllowed reports whether the policy permits source dists.
func (p DistPolicy) SourceAllowed() bool {
	return p != DistBinary
}

// BinaryAllowed reports whether the policy permits binary dists.
func (p DistPolicy) BinaryAllowed() bool {
	return p != DistSource
}

// Client drives the luadist CLI inside one environment directory.
type Client struct {
	Runner       runner.Runner
	Prober       Prober // defaults to FSProber
	BootstrapURL string // defaults to DefaultBootstrapURL
}

func (c *Client) prober() Prober {
	if c.Prober != nil {
		return c.Prober
	}
	return FSProber{}
}

func (c *Client) bootstrapURL() string {
	if c.BootstrapURL != "" {
		return c.BootstrapURL
	}
	return DefaultBootstrapURL
}

// IsPresent reports whether a LuaDist installation exists under path.
func (c *Client) IsPresent(ctx context.Context, path string) (bool, error) {
	return c.prober().Exists(ctx, path, BinaryRelPath)
}

// Bootstrap installs the LuaDist environment into path by fetching and
// executing the upstream installer script. Presence is re-checked afterwards;
// the bootstrap is attempted exactly once.
func (c *Client) Bootstrap(ctx context.Context, path string) error {
	cmd := `curl -fksSL ` + c.bootstrapURL() + ` | bash`
	slog.Debug("Bootstrapping LuaDist environment", "path", path, "command", cmd)

	result, err := c.Runner.Run(ctx, runner.CommandConfig{Command: cmd, Dir: path})
	present, presErr := c.IsPresent(ctx, path)
	if presErr != nil {
		return presErr
	}
	if !present {
		return &BootstrapError{commandError{
			Msg:    "cannot create LuaDist environment in the specified path",
			Result: result,
			Err:    err,
		}}
	}
	return nil
}

// Installed reports whether the named package is already installed in the
// environment at path, by substring containment in `luadist list` output.
func (c *Client) Installed(ctx context.Context, path, name string) (bool, error) {
	cmd := "./" + BinaryRelPath + " list " + name
	result, err := c.Runner.Run(ctx, runner.CommandConfig{Command: cmd, Dir: path})
	if err != nil || result.ExitCode != 0 {
		return false, &AuditError{commandError{
			Msg:    "cannot check the status of one or more packages",
			Result: result,
			Err:    err,
		}}
	}
	return strings.Contains(result.STDOUT, name), nil
}

// InstallCommand builds the exact luadist install command line: every package
// in request order, the dist-policy flags, then the quoted repository URL.
func InstallCommand(packages []string, policy DistPolicy, repo string) string {
	var b strings.Builder
	b.WriteString("./" + BinaryRelPath + " install ")
	for _, pkg := range packages {
		b.WriteString(pkg + " ")
	}
	b.WriteString(fmt.Sprintf(" -source=%t -binary=%t", policy.SourceAllowed(), policy.BinaryAllowed()))
	b.WriteString(` -repos="` + repo + `"`)
	return b.String()
}

// Install runs a single install for the full package list and returns the
// command line used. A non-zero exit is fatal unless the output carries the
// recognized nothing-to-do phrase.
func (c *Client) Install(ctx context.Context, path string, packages []string, policy DistPolicy, repo string) (string, error) {
	cmd := InstallCommand(packages, policy, repo)
	slog.Debug("Installing packages", "path", path, "command", cmd)

	result, err := c.Runner.Run(ctx, runner.CommandConfig{Command: cmd, Dir: path})
	alreadyInstalled := strings.Contains(result.STDOUT, noopPhrase)
	if (err != nil || result.ExitCode != 0) && !alreadyInstalled {
		return "", &InstallError{commandError{
			Msg: "cannot install one or more of the specified packages, " +
				"make sure all packages exist in the configured repository",
			Result: result,
			Err:    err,
		}}
	}
	return cmd, nil
}
