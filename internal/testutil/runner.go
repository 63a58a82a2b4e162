package testutil

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/vk/cargo-optee/internal/toolchain"
)

// FakeRunner is a toolchain.Runner that records every command instead of
// starting it. It mimics the few side effects the build pipeline relies on:
// cargo metadata reports TargetDir, objcopy copies its input to its output
// and the signing script writes its --out file.
type FakeRunner struct {
	// TargetDir is reported as target_directory by cargo metadata.
	TargetDir string
	// FailOn may return an error to make a command fail.
	FailOn func(cmd toolchain.Command) error

	mu    sync.Mutex
	calls []toolchain.Command
}

// Run implements toolchain.Runner.
func (f *FakeRunner) Run(_ context.Context, cmd toolchain.Command) (*toolchain.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.FailOn != nil {
		if err := f.FailOn(cmd); err != nil {
			return &toolchain.Result{}, err
		}
	}

	switch {
	case cmd.Name == "cargo" && len(cmd.Args) > 0 && cmd.Args[0] == "metadata":
		out := fmt.Sprintf(`{"packages":[],"target_directory":%q,"version":1}`, f.TargetDir)
		return &toolchain.Result{Stdout: []byte(out)}, nil
	case strings.HasSuffix(cmd.Name, "objcopy") && len(cmd.Args) == 3:
		if cmd.Args[1] != cmd.Args[2] {
			if err := copyBytes(cmd.Args[1], cmd.Args[2]); err != nil {
				return &toolchain.Result{}, err
			}
		}
	case cmd.Name == "python3":
		if i := slices.Index(cmd.Args, "--out"); i >= 0 && i+1 < len(cmd.Args) {
			if err := os.WriteFile(cmd.Args[i+1], []byte("signed TA"), 0o644); err != nil {
				return &toolchain.Result{}, err
			}
		}
	}
	return &toolchain.Result{}, nil
}

// Calls returns a copy of the recorded commands in execution order.
func (f *FakeRunner) Calls() []toolchain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CommandLines returns the recorded commands rendered as strings.
func (f *FakeRunner) CommandLines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Find returns the first recorded command whose line starts with prefix.
func (f *FakeRunner) Find(prefix string) (toolchain.Command, bool) {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.String(), prefix) {
			return c, true
		}
	}
	return toolchain.Command{}, false
}

// FailCommand returns a FailOn func failing commands whose line starts with
// prefix with the given exit code.
func FailCommand(prefix string, exitCode int) func(toolchain.Command) error {
	return func(cmd toolchain.Command) error {
		if strings.HasPrefix(cmd.String(), prefix) {
			return &toolchain.CommandError{Command: cmd.Name, ExitCode: exitCode, Stderr: "simulated failure"}
		}
		return nil
	}
}

func copyBytes(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o755)
}
