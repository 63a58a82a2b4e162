package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/cargo-optee/internal/config"
	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/manifest"
	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/toolchain"
)

// TAOptions configures a Trusted Application build. Paths are expected to
// be validated and absolute.
type TAOptions struct {
	Common
	Std         bool
	TADevKitDir string
	SigningKey  string
	UUIDPath    string
}

// taBuild carries the state shared by the steps of one TA build.
type taBuild struct {
	opts         TAOptions
	triple       target.Triple
	manifestPath string
	// specDir holds the custom target specs for std builds.
	specDir string

	profileDir string
	stripped   string
	artifact   *Artifact
}

// BuildTA lints, compiles, strips and signs a Trusted Application.
func (b *Builder) BuildTA(ctx context.Context, opts TAOptions) (*Artifact, error) {
	logger := ctxlog.FromContext(ctx)

	triple, err := target.Lookup(opts.Arch, target.TAMode(opts.Std))
	if err != nil {
		return nil, err
	}
	if err := toolchain.CheckCrossTools(b.lookPath, triple.CrossCompile); err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(opts.ProjectDir, manifest.FileName)
	if err := requireFile(manifestPath, "Cargo.toml"); err != nil {
		return nil, fmt.Errorf("no Cargo.toml found in TA project directory %q; run cargo-optee from a TA project directory or pass --manifest-path: %w", opts.ProjectDir, err)
	}
	logger.Info("🔨 Building TA", "dir", absOrSelf(opts.ProjectDir), "target", triple.Target)

	tb := &taBuild{opts: opts, triple: triple, manifestPath: manifestPath}
	if triple.IsCustom() {
		dir, err := os.MkdirTemp("", "cargo-optee-targets-")
		if err != nil {
			return nil, fmt.Errorf("failed to create target spec directory: %w", err)
		}
		defer os.RemoveAll(dir)
		if err := target.WriteCustomSpecs(dir); err != nil {
			return nil, err
		}
		tb.specDir = dir
	}

	steps := []step{
		{name: "lint", run: func(ctx context.Context) error { return b.lintTA(ctx, tb) }},
		{name: "compile", run: func(ctx context.Context) error { return b.compileTA(ctx, tb) }},
		{name: "strip", run: func(ctx context.Context) error { return b.stripTA(ctx, tb) }},
		{name: "sign", run: func(ctx context.Context) error { return b.signTA(ctx, tb) }},
	}
	if err := runSteps(ctx, steps); err != nil {
		return nil, err
	}

	logger.Info("✅ TA build successfully!", "artifact", tb.artifact.Path)
	return tb.artifact, nil
}

// tool is xargo for std builds and cargo otherwise.
func (tb *taBuild) tool() string {
	if tb.opts.Std {
		return "xargo"
	}
	return "cargo"
}

// taCommand assembles a cargo or xargo invocation with the TA environment.
func (b *Builder) taCommand(tb *taBuild, subcommand string) toolchain.Command {
	rustflags := b.getenv(toolchain.EnvRustFlags)
	if rustflags != "" {
		rustflags += " "
	}
	rustflags += "-C panic=abort"

	env := []toolchain.EnvVar{{Key: toolchain.EnvRustFlags, Value: rustflags}}
	env = append(env, tb.opts.Env...)
	env = append(env, toolchain.EnvVar{Key: toolchain.EnvTADevKitDir, Value: absOrSelf(tb.opts.TADevKitDir)})
	if tb.specDir != "" {
		env = append(env, toolchain.EnvVar{Key: toolchain.EnvRustTargetPath, Value: tb.specDir})
	}

	return toolchain.Command{
		Name: tb.tool(),
		Args: cargoArgs(subcommand, tb.triple, tb.opts.Common, tb.opts.Std),
		Dir:  tb.opts.ProjectDir,
		Env:  env,
	}
}

func (b *Builder) lintTA(ctx context.Context, tb *taBuild) error {
	if err := b.runFmt(ctx, tb.opts.ProjectDir); err != nil {
		return err
	}
	cmd := b.taCommand(tb, "clippy")
	cmd.Args = append(append(cmd.Args, "--"), clippyDenials...)
	_, err := toolchain.Exec(ctx, b.runner, "clippy", cmd)
	return err
}

func (b *Builder) compileTA(ctx context.Context, tb *taBuild) error {
	cmd := b.taCommand(tb, "build")
	if !tb.opts.Debug {
		cmd.Args = append(cmd.Args, "--release")
	}
	cmd.Args = append(cmd.Args, linkerConfig(tb.triple)...)

	toolchain.Describe(ctx, cmd, "Building TA binary")
	_, err := toolchain.Exec(ctx, b.runner, "build", cmd)
	return err
}

func (b *Builder) stripTA(ctx context.Context, tb *taBuild) error {
	ctxlog.FromContext(ctx).Info("Stripping binary...")

	m, err := manifest.Load(tb.manifestPath)
	if err != nil {
		return err
	}
	name, err := m.PackageName()
	if err != nil {
		return err
	}
	targetDir, err := manifest.TargetDirectory(ctx, b.runner, tb.manifestPath)
	if err != nil {
		return err
	}

	tb.profileDir = filepath.Join(targetDir, tb.triple.Target, tb.opts.profile())
	binary := filepath.Join(tb.profileDir, name)
	if err := requireFile(binary, "Binary"); err != nil {
		return err
	}
	tb.stripped = filepath.Join(tb.profileDir, "stripped_"+name)

	objcopy := tb.triple.Objcopy()
	_, err = toolchain.Exec(ctx, b.runner, objcopy, toolchain.Command{
		Name: objcopy,
		Args: []string{"--strip-unneeded", binary, tb.stripped},
		Dir:  tb.opts.ProjectDir,
	})
	return err
}

func (b *Builder) signTA(ctx context.Context, tb *taBuild) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Signing TA...")

	uuid, err := ReadUUID(tb.opts.UUIDPath)
	if err != nil {
		return err
	}
	if err := requireFile(tb.opts.SigningKey, "Signing key"); err != nil {
		return err
	}
	script := filepath.Join(tb.opts.TADevKitDir, "scripts", "sign_encrypt.py")
	if err := requireFile(script, "Sign script"); err != nil {
		return err
	}

	out := filepath.Join(tb.profileDir, uuid+".ta")
	_, err = toolchain.Exec(ctx, b.runner, "sign_encrypt.py", toolchain.Command{
		Name: "python3",
		Args: []string{script, "--uuid", uuid, "--key", tb.opts.SigningKey, "--in", tb.stripped, "--out", out},
		Dir:  tb.opts.ProjectDir,
	})
	if err != nil {
		return err
	}

	logger.Info("SIGN => "+uuid, "output", absOrSelf(out))
	tb.artifact = &Artifact{Kind: config.KindTA, Path: out, UUID: uuid}
	return nil
}
