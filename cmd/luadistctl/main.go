package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/term"

	"github.com/luadistops/luadistctl/logger"
	"github.com/luadistops/luadistctl/luadistctl/config"
	"github.com/luadistops/luadistctl/luadistctl/luadist"
	"github.com/luadistops/luadistctl/luadistctl/reconciler"
	"github.com/luadistops/luadistctl/luadistctl/runner"
)

var programLevel = new(slog.LevelVar)

type flags struct {
	AllowDists     string
	Check          bool
	Concurrency    int
	Debug          bool
	DistsRepo      string
	Hostnames      stringsValue
	IniFilePath    string
	KeyPassPrompt  bool
	Packages       stringsValue
	PasswordPrompt bool
	Path           string
	RequestPath    string
	Username       string
}

type stringsValue []string

func (s *stringsValue) String() string {
	return strings.Join(*s, ",")
}

func (s *stringsValue) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func parseFlags() *flags {
	f := &flags{}
	flag.BoolVar(&f.Check, "check", false, "Check mode: report without making any change")
	flag.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	flag.BoolVar(&f.KeyPassPrompt, "keypass", false, "Prompt for the passphrase to decrypt SSH keys")
	flag.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for a password for the SSH connection")
	flag.IntVar(&f.Concurrency, "concurrency", 5, "Maximum number of hosts reconciled at once")
	flag.StringVar(&f.AllowDists, "allow-dists", "", "Dist types allowed: all, binary or source")
	flag.StringVar(&f.DistsRepo, "repo", "", "Repository to install dists from")
	flag.StringVar(&f.IniFilePath, "ini", "", "Path to INI file with site defaults")
	flag.StringVar(&f.Path, "path", "", "Path to install the Lua environment to")
	flag.StringVar(&f.RequestPath, "request", "", "Path to a JSON request file describing the desired state")
	flag.StringVar(&f.Username, "username", "", "Username to use for the SSH connection")
	flag.Var(&f.Hostnames, "hostname", "Remote host to reconcile; repeatable, local when omitted")
	flag.Var(&f.Packages, "package", "Lua package that must be present; repeatable")

	flag.Parse()

	return f
}

func configureLogger(f *flags) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
	slog.SetDefault(slog.New(h))

	if f.Debug {
		programLevel.Set(slog.LevelDebug)
		slog.Debug("Debug mode enabled")
	} else {
		programLevel.Set(slog.LevelInfo)
	}
}

func readPasswords(f *flags) (password, keyPass string) {
	if f.PasswordPrompt {
		fmt.Fprint(os.Stderr, "Enter the password: ")
		passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			slog.Error("Failed to read password", "error", err)
		}
		password = string(passwordBytes)
		fmt.Fprintln(os.Stderr)
	}

	if f.KeyPassPrompt {
		fmt.Fprint(os.Stderr, "Enter the key passphrase: ")
		keyPassBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			slog.Error("Failed to read key passphrase", "error", err)
		}
		keyPass = string(keyPassBytes)
		fmt.Fprintln(os.Stderr)
	}
	return
}

// buildRequest assembles the reconcile request. A -request JSON file supplies
// the full desired state; otherwise the state comes from flags. INI defaults
// fill whatever is still unset.
func buildRequest(f *flags, cfg config.Config) (reconciler.Request, error) {
	var req reconciler.Request

	if f.RequestPath != "" {
		data, err := os.ReadFile(f.RequestPath)
		if err != nil {
			return reconciler.Request{}, err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return reconciler.Request{}, fmt.Errorf("failed to parse request file %s: %w", f.RequestPath, err)
		}
	} else {
		req.Path = f.Path
		req.Packages = []string(f.Packages)
		req.AllowDists = luadist.DistPolicy(f.AllowDists)
		req.DistsRepo = f.DistsRepo
	}

	if req.AllowDists == "" {
		req.AllowDists = luadist.DistPolicy(cfg.AllowDists)
	}
	if req.DistsRepo == "" {
		req.DistsRepo = cfg.DistsRepo
	}
	if f.Check {
		req.CheckMode = true
	}

	return req, nil
}

// errorReport is the structured failure output promised to the control plane.
type errorReport struct {
	Failed bool   `json:"failed"`
	Msg    string `json:"msg"`
	RC     int    `json:"rc,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

func newErrorReport(err error) errorReport {
	report := errorReport{Failed: true, Msg: err.Error()}

	var carrier interface {
		CommandResult() runner.CommandResult
	}
	if errors.As(err, &carrier) {
		result := carrier.CommandResult()
		report.RC = result.ExitCode
		report.Stdout = result.STDOUT
		report.Stderr = result.STDERR
	}
	return report
}

func emitJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to encode result", "error", err)
		os.Exit(1)
	}
}

func localReconciler(cfg config.Config) *reconciler.Reconciler {
	client := &luadist.Client{
		Runner:       &runner.LocalRunner{},
		BootstrapURL: cfg.BootstrapURL,
	}
	rec := reconciler.New(client)
	rec.Log = logger.New()
	return rec
}

func hostReconciler(hostname string, f *flags, cfg config.Config, password, keyPass string) *reconciler.Reconciler {
	user := f.Username
	if user == "" {
		user = cfg.SSHUser
	}
	run := &runner.SSHRunner{
		Hostname:      hostname,
		User:          user,
		Password:      password,
		KeyPassphrase: keyPass,
		Dialer:        runner.NetSSHDialer{},
	}
	client := &luadist.Client{
		Runner:       run,
		Prober:       luadist.RunnerProber{Runner: run},
		BootstrapURL: cfg.BootstrapURL,
	}
	rec := reconciler.New(client)
	rec.Log = logger.New()
	return rec
}

// reconcileHosts runs one reconciliation per host, at most concurrency at a
// time. Each host's reconciliation stays strictly sequential internally.
func reconcileHosts(ctx context.Context, req reconciler.Request, f *flags, cfg config.Config, password, keyPass string) (map[string]reconciler.Result, error) {
	sem := make(chan struct{}, f.Concurrency)
	errCh := make(chan error, len(f.Hostnames))

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]reconciler.Result)

	for _, hostname := range f.Hostnames {
		wg.Add(1)
		go func(hostname string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec := hostReconciler(hostname, f, cfg, password, keyPass)
			result, err := rec.Reconcile(ctx, req)
			if err != nil {
				errCh <- fmt.Errorf("host %s: %w", hostname, err)
				return
			}
			mu.Lock()
			results[hostname] = result
			mu.Unlock()
		}(hostname)
	}

	wg.Wait()
	close(errCh)

	var merr *multierror.Error
	for err := range errCh {
		slog.Error("Host reconciliation failed", "error", err)
		merr = multierror.Append(merr, err)
	}

	return results, merr.ErrorOrNil()
}

func main() {
	f := parseFlags()
	configureLogger(f)

	cfg := config.Default()
	if f.IniFilePath != "" {
		loaded, err := config.Load(f.IniFilePath)
		if err != nil {
			slog.Error("Failed to read INI file", "error", err)
			emitJSON(newErrorReport(err))
			os.Exit(1)
		}
		cfg = loaded
	}

	req, err := buildRequest(f, cfg)
	if err != nil {
		emitJSON(newErrorReport(err))
		os.Exit(1)
	}

	password, keyPass := readPasswords(f)
	ctx := context.Background()

	if len(f.Hostnames) == 0 {
		result, err := localReconciler(cfg).Reconcile(ctx, req)
		if err != nil {
			emitJSON(newErrorReport(err))
			os.Exit(1)
		}
		emitJSON(result)
		return
	}

	results, err := reconcileHosts(ctx, req, f, cfg, password, keyPass)
	emitJSON(results)
	if err != nil {
		emitJSON(newErrorReport(err))
		os.Exit(1)
	}
}
