package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vk/cargo-optee/internal/ctxlog"
)

// Command is a single external program invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is applied on top of the inherited process environment, in order.
	Env []EnvVar
}

// String renders the command line the way a user would type it.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the captured output of a finished command.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// CommandError reports a command that ran but exited unsuccessfully.
type CommandError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed with exit code: %d", e.Command, e.ExitCode)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by real subprocesses.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run starts the command, waits for it and captures its output. A non-zero
// exit status is returned as a *CommandError.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), EnvList(cmd.Env)...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, &CommandError{
				Command:  cmd.Name,
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		return res, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
	}
	return res, nil
}

// Exec runs cmd through r. When the command fails its captured output is
// logged so the user can see why, and the error is labelled with step.
func Exec(ctx context.Context, r Runner, step string, cmd Command) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Running command.", "step", step, "command", cmd.String(), "dir", cmd.Dir)

	res, err := r.Run(ctx, cmd)
	if err == nil {
		return res, nil
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		logger.Error(step+" stdout", "output", cmdErr.Stdout)
		logger.Error(step+" stderr", "output", cmdErr.Stderr)
	}
	return res, fmt.Errorf("%s: %w", step, err)
}

// Describe logs a command line together with its environment overrides
// before a long running step.
func Describe(ctx context.Context, cmd Command, description string) {
	logger := ctxlog.FromContext(ctx)
	logger.Info(description + "...")
	if len(cmd.Env) > 0 {
		logger.Info("  Environment", "vars", strings.Join(EnvList(cmd.Env), " "))
	}
	logger.Info("  Command", "line", cmd.String())
}

// ExitCode returns the exit code carried by err, or 1 if err does not
// originate from a failed command.
func ExitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}
