package hostinfo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// DefaultExecTimeout bounds an execute_command run.
const DefaultExecTimeout = 30 * time.Second

// ErrExecDisabled is returned when the agent was started without
// permission to run shell commands.
var ErrExecDisabled = errors.New("command execution disabled on this host")

// ExecRequest is the data of an execute_command command.
type ExecRequest struct {
	Command string `json:"command"`
}

// ExecResult is what the command printed and how it exited. A non-zero
// exit status is a result, not an error.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
}

// CommandRunner runs a shell command line on the host.
type CommandRunner interface {
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// ShellRunner runs commands through the platform shell: cmd /C on
// Windows, /bin/sh -c elsewhere.
type ShellRunner struct {
	// Enabled must be set for any command to run.
	Enabled bool
	Timeout time.Duration
	goos    string
}

// NewShellRunner creates a runner for the running OS.
func NewShellRunner(enabled bool) *ShellRunner {
	return &ShellRunner{Enabled: enabled, Timeout: DefaultExecTimeout, goos: runtime.GOOS}
}

func (s *ShellRunner) argv(command string) []string {
	if s.goos == "windows" {
		return []string{"cmd", "/C", command}
	}
	return []string{"/bin/sh", "-c", command}
}

// Exec runs req.Command and collects its output.
func (s *ShellRunner) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	if !s.Enabled {
		return ExecResult{}, ErrExecDisabled
	}
	if strings.TrimSpace(req.Command) == "" {
		return ExecResult{}, errors.New("empty command")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := s.argv(req.Command)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("command timed out after %s", timeout)
	}
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ReturnCode = exitErr.ExitCode()
	case err != nil:
		return res, err
	}
	return res, nil
}
