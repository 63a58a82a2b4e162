package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vk/cargo-optee/internal/ctxlog"
)

// ErrCargoNotFound is returned when no cargo binary can be located.
var ErrCargoNotFound = errors.New("cargo command not found. Please install Rust: curl --proto '=https' --tlsv1.2 -sSf https://sh.rustup.rs | sh")

// LookPathFunc resolves a program name to a path, like exec.LookPath.
type LookPathFunc func(file string) (string, error)

// EnsureCargo makes sure cargo can be started. When it is not on PATH but a
// rustup installation exists under $CARGO_HOME or ~/.cargo, that bin
// directory is prepended to PATH for this process and its children.
func EnsureCargo(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if _, err := exec.LookPath("cargo"); err == nil {
		return nil
	}

	var candidates []string
	if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, ".cargo", "bin"))
	}
	if cargoHome := os.Getenv(EnvCargoHome); cargoHome != "" {
		candidates = append(candidates, filepath.Join(cargoHome, "bin"))
	}

	for _, dir := range candidates {
		info, err := os.Stat(filepath.Join(dir, "cargo"))
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			continue
		}
		path := dir
		if current := os.Getenv("PATH"); current != "" {
			path = dir + string(os.PathListSeparator) + current
		}
		if err := os.Setenv("PATH", path); err != nil {
			return fmt.Errorf("failed to extend PATH with %s: %w", dir, err)
		}
		logger.Debug("Added cargo installation to PATH.", "dir", dir)
		return nil
	}

	return ErrCargoNotFound
}

// MissingToolsError lists cross tools that could not be found.
type MissingToolsError struct {
	Tools []string
}

func (e *MissingToolsError) Error() string {
	var b strings.Builder
	b.WriteString("required cross-compile toolchain not found, missing tools: ")
	b.WriteString(strings.Join(e.Tools, ", "))
	b.WriteString("\n\nPlease install the required toolchain:\n\n")
	b.WriteString("# For aarch64 host (ARM64 machine):\n")
	b.WriteString("apt update && apt -y install gcc gcc-arm-linux-gnueabihf\n\n")
	b.WriteString("# For x86_64 host (Intel/AMD machine):\n")
	b.WriteString("apt update && apt -y install gcc-aarch64-linux-gnu gcc-arm-linux-gnueabihf\n\n")
	b.WriteString("Or manually install the cross-compilation tools for your target architecture.")
	return b.String()
}

// CheckCrossTools verifies that <prefix>gcc and <prefix>objcopy resolve.
// A nil lookPath means exec.LookPath.
func CheckCrossTools(lookPath LookPathFunc, prefix string) error {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	var missing []string
	for _, tool := range []string{prefix + "gcc", prefix + "objcopy"} {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return &MissingToolsError{Tools: missing}
	}
	return nil
}
