package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vk/cargo-optee/internal/config"
	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/toolchain"
)

// clippyDenials are the lints every component must pass.
var clippyDenials = []string{
	"-D", "warnings",
	"-D", "clippy::unwrap_used",
	"-D", "clippy::expect_used",
	"-D", "clippy::panic",
}

// Common holds the options shared by every component kind.
type Common struct {
	Arch       target.Arch
	Debug      bool
	ProjectDir string
	// Env is applied to lint and compile commands, in order.
	Env               []toolchain.EnvVar
	NoDefaultFeatures bool
	// Features is a comma separated list passed on to cargo.
	Features string
}

func (c Common) profile() string {
	if c.Debug {
		return "debug"
	}
	return "release"
}

// featureList returns the features to enable; "std" comes first for std
// Trusted Applications.
func (c Common) featureList(std bool) []string {
	var features []string
	if std {
		features = append(features, "std")
	}
	for _, f := range strings.Split(c.Features, ",") {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	return features
}

// Artifact is the final output of a component build.
type Artifact struct {
	Kind config.Kind
	Path string
	// UUID is set for Trusted Applications and plugins.
	UUID string
}

// Builder runs component builds through a toolchain.Runner.
type Builder struct {
	runner   toolchain.Runner
	lookPath toolchain.LookPathFunc
	getenv   func(string) string
}

// Option configures a Builder.
type Option func(*Builder)

// WithLookPath replaces exec.LookPath for the cross toolchain check.
func WithLookPath(fn toolchain.LookPathFunc) Option {
	return func(b *Builder) { b.lookPath = fn }
}

// WithGetenv replaces os.Getenv for inherited variables such as RUSTFLAGS.
func WithGetenv(fn func(string) string) Option {
	return func(b *Builder) { b.getenv = fn }
}

// New returns a Builder that executes commands through r.
func New(r toolchain.Runner, opts ...Option) *Builder {
	b := &Builder{
		runner:   r,
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// cargoArgs builds "<subcommand> --target T [--no-default-features]
// [--features F]".
func cargoArgs(subcommand string, triple target.Triple, c Common, std bool) []string {
	args := []string{subcommand, "--target", triple.Target}
	if c.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	if features := c.featureList(std); len(features) > 0 {
		args = append(args, "--features", strings.Join(features, ","))
	}
	return args
}

// linkerConfig points cargo at the cross gcc for the target.
func linkerConfig(triple target.Triple) []string {
	return []string{"--config", fmt.Sprintf("target.%s.linker=%q", triple.Target, triple.Linker())}
}

// step is one stage of a component pipeline.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// runSteps executes steps in order and stops at the first failure.
func runSteps(ctx context.Context, steps []step) error {
	logger := ctxlog.FromContext(ctx)
	for i, s := range steps {
		logger.Info("▶️ Running step", "step", s.name, "index", i+1, "total", len(steps))
		if err := s.run(ctx); err != nil {
			logger.Error("Step failed.", "step", s.name, "error", err)
			return fmt.Errorf("%s step failed: %w", s.name, err)
		}
		logger.Debug("Step finished.", "step", s.name)
	}
	return nil
}

// runFmt formats the crate in place; cargo fmt picks up the project's
// rust-toolchain file because it runs inside the project directory.
func (b *Builder) runFmt(ctx context.Context, projectDir string) error {
	ctxlog.FromContext(ctx).Info("Running cargo fmt and clippy...")
	_, err := toolchain.Exec(ctx, b.runner, "cargo fmt", toolchain.Command{
		Name: "cargo",
		Args: []string{"fmt"},
		Dir:  projectDir,
	})
	return err
}

// requireFile fails with a descriptive error if path is not an existing
// regular file.
func requireFile(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s not found at %q", what, path)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a file: %q", what, path)
	}
	return nil
}

// absOrSelf returns the absolute form of path, or path itself on failure.
func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
