package hostinfo

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Power actions accepted by power_management.
const (
	PowerShutdown        = "shutdown"
	PowerRestart         = "restart"
	PowerLock            = "lock"
	PowerCancelScheduled = "cancel_scheduled"
)

// ErrPowerDisabled is returned when the agent was started without
// permission to run power actions.
var ErrPowerDisabled = errors.New("power management disabled on this host")

// PowerRequest is the data of a power_management command.
type PowerRequest struct {
	Action  string `json:"action"`
	Seconds *int   `json:"seconds,omitempty"`
}

// PowerController carries out power actions. The agent treats it as
// opaque; the OS decides what the action really does.
type PowerController interface {
	Power(ctx context.Context, req PowerRequest) error
}

// ExecPower runs the operating system's shutdown tooling.
type ExecPower struct {
	// Enabled must be set for any action to run.
	Enabled bool
	run     func(ctx context.Context, name string, args ...string) error
}

// NewExecPower creates a controller for the running OS.
func NewExecPower(enabled bool) *ExecPower {
	return &ExecPower{Enabled: enabled, run: runContext}
}

func runContext(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Power validates req and runs the matching platform command.
func (p *ExecPower) Power(ctx context.Context, req PowerRequest) error {
	if !p.Enabled {
		return ErrPowerDisabled
	}
	argv, err := powerCommand(req)
	if err != nil {
		return err
	}
	return p.run(ctx, argv[0], argv[1:]...)
}

func validateDelay(req PowerRequest) error {
	if req.Seconds != nil && *req.Seconds <= 0 {
		return fmt.Errorf("invalid shutdown delay %d", *req.Seconds)
	}
	return nil
}

func unknownAction(action string) error {
	return fmt.Errorf("unknown power action %q", action)
}
