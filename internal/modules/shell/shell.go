// Package shell runs the external tools the bootstrap depends on and
// turns a non-zero exit into a typed error carrying the tool's output.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// Command is one process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current environment.
	Env []string
	// Stream copies output to these writers as well as capturing it.
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the captured output of a finished command.
type Result struct {
	Stdout string
	Stderr string
}

// Runner executes commands. Exec is the real implementation; tests swap
// in fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// UpstreamError reports an external tool that exited non-zero or could
// not be started.
type UpstreamError struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("%s failed", strings.TrimSpace(e.Tool+" "+strings.Join(e.Args, " ")))
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Output != "" {
		msg += ": " + e.Output
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Exec runs commands with os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if c.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&outBuf, c.Stdout)
	}
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&errBuf, c.Stderr)
	}

	slog.Debug("Running", "cmd", c.String(), "dir", c.Dir)
	err := cmd.Run()
	res := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if err != nil {
		uerr := &UpstreamError{
			Tool:   c.Name,
			Args:   c.Args,
			Output: strings.TrimSpace(res.Stderr),
			Err:    err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			uerr.ExitCode = exitErr.ExitCode()
		}
		return res, uerr
	}
	return res, nil
}
