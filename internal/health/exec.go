package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// ExecChecker considers a service healthy when the configured command
// exits zero. It runs on the host, inheriting no container boundary,
// since services under this supervisor are plain OS processes.
type ExecChecker struct {
	Command []string
	Timeout time.Duration
	Dir     string
}

// NewExecChecker returns an ExecChecker with a 10s default timeout.
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{Command: command, Timeout: 10 * time.Second}
}

// Check performs the exec health check.
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return Result{Healthy: false, Message: "no command specified", CheckedAt: start, Duration: time.Since(start)}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	message := fmt.Sprintf("command: %v", e.Command)
	if err != nil {
		message = fmt.Sprintf("%s, error: %v", message, err)
		if stderr.Len() > 0 {
			message = fmt.Sprintf("%s, stderr: %s", message, stderr.String())
		}
		return Result{Healthy: false, Message: message, CheckedAt: start, Duration: time.Since(start)}
	}

	if stdout.Len() > 0 {
		output := stdout.String()
		if len(output) > 100 {
			output = output[:100] + "..."
		}
		message = fmt.Sprintf("%s, output: %s", message, output)
	}

	return Result{Healthy: true, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

// Type returns CheckTypeExec.
func (e *ExecChecker) Type() CheckType { return CheckTypeExec }

// WithTimeout sets the execution timeout.
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}
