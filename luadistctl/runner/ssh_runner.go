package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/luadistops/luadistctl/luadistctl/keymanager"
)

// SSHDialer abstracts ssh.Dial so remote execution can be tested without a
// live host.
type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error)
}

// NetSSHDialer dials real SSH connections.
type NetSSHDialer struct{}

func (NetSSHDialer) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	config.Timeout = timeout
	return ssh.Dial(network, addr, config)
}

// SSHRunner executes commands on a remote host over SSH. The working
// directory is applied by prefixing the command with a cd, since SSH sessions
// have no native working-directory selection.
type SSHRunner struct {
	Hostname      string
	User          string
	Password      string
	KeyPassphrase string
	Dialer        SSHDialer
}

func (s *SSHRunner) sshConfig() (*ssh.ClientConfig, error) {
	var authMethod ssh.AuthMethod

	if s.Password != "" {
		slog.Debug("Using password authentication", "hostname", s.Hostname)
		authMethod = ssh.Password(s.Password)
	} else {
		slog.Debug("Using public key authentication", "hostname", s.Hostname)
		var km keymanager.SSHKeyManager
		if s.KeyPassphrase != "" {
			km = keymanager.FileSSHKeyManager{}
		} else {
			km = keymanager.AgentSSHKeyManager{}
		}

		keys, err := km.ReadPrivateKeys(s.KeyPassphrase)
		if err != nil {
			return nil, err
		}

		authMethod = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return keys, nil
		})
	}

	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}, nil
}

func (s *SSHRunner) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	slog.Debug("Executing remote command", "hostname", s.Hostname, "command", config.Command)

	if s.Dialer == nil {
		return CommandResult{}, errors.New("SSH dialer is not initialized")
	}

	sshConfig, err := s.sshConfig()
	if err != nil {
		return CommandResult{}, err
	}

	var dialTimeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	} else {
		dialTimeout = 15 * time.Minute
	}

	client, err := s.Dialer.Dial("tcp", s.Hostname+":22", sshConfig, dialTimeout)
	if err != nil {
		return CommandResult{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return CommandResult{}, err
	}
	defer session.Close()

	cmdStr := config.Command
	if config.Dir != "" {
		cmdStr = "cd " + config.Dir + " && " + cmdStr
	}

	start := time.Now()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(cmdStr)

	result := CommandResult{
		Command:   config.Command,
		STDOUT:    stdout.String(),
		STDERR:    stderr.String(),
		ExitCode:  sshExitCode(runErr),
		Duration:  time.Since(start),
		Timestamp: start,
	}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	return result, runErr
}

func sshExitCode(err error) int {
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus()
		}
	}
	return 0
}
