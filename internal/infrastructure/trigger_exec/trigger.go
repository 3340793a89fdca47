package trigger_exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/davarch/debfactory/internal/domain"
)

// Trigger dispatches builds by running a configured command with the
// target coordinates and snapshot appended as arguments:
//
//	cmd [args...] <repo> <codename> <pocket> <commit> <archive>
//
// Exit 0 reports success, the configured unavailable exit code (or a
// failure to start the command at all) reports the builder as
// unreachable, and any other exit is a build failure with the stderr
// tail as reason.
type Trigger struct {
	command         []string
	unavailableExit int
}

func New(command []string, unavailableExit int) *Trigger {
	return &Trigger{command: command, unavailableExit: unavailableExit}
}

func (t *Trigger) Trigger(ctx context.Context, target domain.BuildTarget, snap domain.Snapshot) (domain.TriggerResult, error) {
	if len(t.command) == 0 {
		return domain.TriggerResult{}, errors.New("no trigger command configured")
	}

	args := append([]string{}, t.command[1:]...)
	args = append(args, target.Repo, target.Codename, target.Pocket, snap.CommitID, snap.Location)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.command[0], args...)
	cmd.Stderr = &stderr
	// On shutdown the builder gets an interrupt and a grace period to
	// clean up before being killed.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 10 * time.Second

	err := cmd.Run()
	if err == nil {
		return domain.TriggerResult{Outcome: domain.OutcomeSucceeded}, nil
	}

	if ctx.Err() != nil {
		// The build was interrupted, not failed: surface the shutdown
		// so the claim is released instead of an attempt being charged.
		return domain.TriggerResult{}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// The command never ran: missing binary, context cancelled.
		// That is builder unavailability, not a build failure.
		return domain.TriggerResult{
			Outcome: domain.OutcomeUnavailable,
			Reason:  err.Error(),
		}, nil
	}

	if exitErr.ExitCode() == t.unavailableExit {
		return domain.TriggerResult{
			Outcome: domain.OutcomeUnavailable,
			Reason:  fmt.Sprintf("builder unavailable (exit %d)", exitErr.ExitCode()),
		}, nil
	}

	return domain.TriggerResult{
		Outcome: domain.OutcomeFailed,
		Reason:  failureReason(exitErr.ExitCode(), stderr.Bytes()),
	}, nil
}

func failureReason(code int, stderr []byte) string {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return fmt.Sprintf("trigger exited %d", code)
	}
	// Keep the tail: build tools print the actual error last.
	lines := strings.Split(msg, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return fmt.Sprintf("trigger exited %d: %s", code, strings.Join(lines, "\n"))
}
