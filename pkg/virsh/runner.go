// Package virsh drives the pool commands of the virsh command line.
package virsh

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/virtqa/pool-create-check/pkg/errors"
)

// Result is what a finished command left behind. A non-zero ExitStatus is
// not an error at this layer.
type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Runner executes a host command.
type Runner interface {
	// Run returns an error only when the command could not be started.
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	slog.Debug("exec_command", "command", name, "args", strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if stderrors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitCode()
			return res, nil
		}
		slog.Error("exec_start_failed", "command", name, "error", err)
		return nil, errors.Wrapf(err, "failed to run %s", name)
	}
	return res, nil
}
