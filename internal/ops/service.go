package ops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultSystemctl is the systemctl binary invoked for service control.
const DefaultSystemctl = "/bin/systemctl"

// ErrUnknownAction is returned for actions other than start, stop and restart.
var ErrUnknownAction = errors.New("unknown service action")

// Actions accepted by ServiceController.Do.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// CommandResult is the outcome of one external command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args. A non-zero exit status is reported in the
// result, not as an error.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("run %s: %w", name, err)
	}
	return res, nil
}

// ServiceController queries and drives one systemd unit.
type ServiceController struct {
	Unit      string
	Systemctl string
	Runner    Runner
}

// NewServiceController controls unit through the system systemctl.
func NewServiceController(unit string) *ServiceController {
	return &ServiceController{Unit: unit, Systemctl: DefaultSystemctl, Runner: ExecRunner{}}
}

// State returns the output of `systemctl is-active`, e.g. "active" or
// "inactive". Errors running the binary are returned as the state text.
func (s *ServiceController) State(ctx context.Context) string {
	res, err := s.Runner.Run(ctx, s.systemctl(), "is-active", s.Unit)
	if err != nil {
		return err.Error()
	}
	return commandMessage(res)
}

// Do runs start, stop or restart on the unit. ok reports a zero exit status.
func (s *ServiceController) Do(ctx context.Context, action string) (ok bool, message string, err error) {
	switch action {
	case ActionStart, ActionStop, ActionRestart:
	default:
		return false, "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	res, err := s.Runner.Run(ctx, s.systemctl(), action, s.Unit)
	if err != nil {
		return false, err.Error(), nil
	}
	return res.ExitCode == 0, commandMessage(res), nil
}

func (s *ServiceController) systemctl() string {
	if s.Systemctl == "" {
		return DefaultSystemctl
	}
	return s.Systemctl
}

func commandMessage(res CommandResult) string {
	if out := strings.TrimSpace(res.Stdout); out != "" {
		return out
	}
	return strings.TrimSpace(res.Stderr)
}
