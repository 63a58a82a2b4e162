package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/fsutil"
	"github.com/vk/cargo-optee/internal/toolchain"
)

// DefaultInstallDir is used by install when no --target-dir is given.
const DefaultInstallDir = "shared"

// Install copies the artifact into dir, creating it when needed, and
// returns the installed path.
func (b *Builder) Install(ctx context.Context, art *Artifact, dir string) (string, error) {
	if art == nil {
		return "", errors.New("nothing to install")
	}
	if dir == "" {
		dir = DefaultInstallDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create install directory %q: %w", dir, err)
	}

	dst := filepath.Join(dir, filepath.Base(art.Path))
	if err := fsutil.CopyFile(art.Path, dst); err != nil {
		return "", fmt.Errorf("failed to install %s: %w", art.Kind, err)
	}
	ctxlog.FromContext(ctx).Info("📦 Installed", "kind", art.Kind, "path", absOrSelf(dst))
	return dst, nil
}

// Clean runs cargo clean in the project and removes the cargo-optee scratch
// directory under target/.
func (b *Builder) Clean(ctx context.Context, projectDir string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("🧹 Cleaning project", "dir", absOrSelf(projectDir))

	_, err := toolchain.Exec(ctx, b.runner, "cargo clean", toolchain.Command{
		Name: "cargo",
		Args: []string{"clean"},
		Dir:  projectDir,
	})
	if err != nil {
		return err
	}

	scratch := filepath.Join(projectDir, "target", "cargo-optee")
	ok, err := fsutil.Exists(scratch)
	if err != nil {
		return err
	}
	if ok {
		if err := os.RemoveAll(scratch); err != nil {
			return fmt.Errorf("failed to remove %s: %w", scratch, err)
		}
		logger.Debug("Removed scratch directory.", "path", scratch)
	}
	logger.Info("✅ Clean finished.")
	return nil
}
