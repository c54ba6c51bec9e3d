// Package reconciler converges a Lua environment on its requested state:
// bootstrap LuaDist if it is missing, then install whatever packages the
// request names that are not already present.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/luadistops/luadistctl/logger"
	"github.com/luadistops/luadistctl/luadistctl/luadist"
)

// ErrMissingPath rejects requests without an environment path.
var ErrMissingPath = errors.New("path is required and must not be empty")

// Request is the declarative description of the desired environment state.
// Field names follow the external invocation contract.
type Request struct {
	Path       string             `json:"path"`
	Packages   []string           `json:"name,omitempty"`
	AllowDists luadist.DistPolicy `json:"allow_dists,omitempty"`
	DistsRepo  string             `json:"dists_repo,omitempty"`
	CheckMode  bool               `json:"check_mode,omitempty"`
}

// Result reports what a reconciliation did. Cmd is the exact install command
// line executed, empty when no install ran. Nothing here is persisted; the
// calling orchestrator owns any state tracking across runs.
type Result struct {
	Changed  bool     `json:"changed"`
	Cmd      string   `json:"cmd"`
	EnvPath  string   `json:"env_path"`
	Packages []string `json:"name"`
}

// Reconciler drives a single environment toward its requested state.
type Reconciler struct {
	Client *luadist.Client
	Log    logger.Logger
}

func New(client *luadist.Client) *Reconciler {
	return &Reconciler{Client: client, Log: logger.NopLogger{}}
}

func (r *Reconciler) log() logger.Logger {
	if r.Log != nil {
		return r.Log
	}
	return logger.NopLogger{}
}

// Reconcile makes the on-disk state match the request and reports whether a
// change occurred. State is re-derived from the environment on every call, so
// a second identical call against a stable environment reports no change.
// Any subprocess failure aborts the remaining steps immediately; there is no
// retry and no partial result.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (Result, error) {
	if req.Path == "" {
		return Result{}, ErrMissingPath
	}
	policy, err := luadist.ParseDistPolicy(string(req.AllowDists))
	if err != nil {
		return Result{}, fmt.Errorf("invalid request: %w", err)
	}
	repo := req.DistsRepo
	if repo == "" {
		repo = luadist.DefaultRepo
	}

	result := Result{
		EnvPath:  req.Path,
		Packages: req.Packages,
	}

	// Check mode never mutates and never audits; it only reports the
	// current state unchanged.
	if req.CheckMode {
		r.log().Debug("Check mode requested, reporting no change", "path", req.Path)
		return result, nil
	}

	present, err := r.Client.IsPresent(ctx, req.Path)
	if err != nil {
		return Result{}, err
	}
	if !present {
		r.log().Info("LuaDist not present, bootstrapping", "path", req.Path)
		if err := r.Client.Bootstrap(ctx, req.Path); err != nil {
			return Result{}, err
		}
		result.Changed = true
	}

	// Audit stops at the first missing package; one miss is enough to decide,
	// since the install step always re-requests the full list.
	allPresent := true
	for _, pkg := range req.Packages {
		installed, err := r.Client.Installed(ctx, req.Path, pkg)
		if err != nil {
			return Result{}, err
		}
		if !installed {
			r.log().Debug("Package missing from environment", "package", pkg, "path", req.Path)
			allPresent = false
			break
		}
	}

	if !allPresent {
		result.Changed = true
		cmd, err := r.Client.Install(ctx, req.Path, req.Packages, policy, repo)
		if err != nil {
			return Result{}, err
		}
		result.Cmd = cmd
	}

	return result, nil
}
