package builder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/vk/cargo-optee/internal/config"
	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/fsutil"
	"github.com/vk/cargo-optee/internal/manifest"
	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/toolchain"
)

// ErrPluginUUIDRequired is returned when a plugin build has no UUID file.
var ErrPluginUUIDRequired = errors.New("UUID path is required for plugin builds")

// CAOptions configures a Client Application or plugin build. Paths are
// expected to be validated and absolute.
type CAOptions struct {
	Common
	// Plugin builds a shared library named after the UUID instead of an
	// executable.
	Plugin            bool
	OpteeClientExport string
	UUIDPath          string
}

func (o CAOptions) label() string {
	if o.Plugin {
		return "Plugin"
	}
	return "CA"
}

func (o CAOptions) kind() config.Kind {
	if o.Plugin {
		return config.KindPlugin
	}
	return config.KindCA
}

// BuildCA lints and compiles a Client Application, then strips it in place.
// Plugins are copied to <uuid>.plugin.so instead of being stripped.
func (b *Builder) BuildCA(ctx context.Context, opts CAOptions) (*Artifact, error) {
	logger := ctxlog.FromContext(ctx)

	triple, err := target.Lookup(opts.Arch, target.ModeCA)
	if err != nil {
		return nil, err
	}
	if err := toolchain.CheckCrossTools(b.lookPath, triple.CrossCompile); err != nil {
		return nil, err
	}
	if opts.Plugin && opts.UUIDPath == "" {
		return nil, ErrPluginUUIDRequired
	}

	manifestPath := filepath.Join(opts.ProjectDir, manifest.FileName)
	if err := requireFile(manifestPath, "Cargo.toml"); err != nil {
		return nil, fmt.Errorf("no Cargo.toml found in %s project directory %q: %w", opts.label(), opts.ProjectDir, err)
	}
	logger.Info("🔨 Building "+opts.label(), "dir", absOrSelf(opts.ProjectDir), "target", triple.Target)

	var artifact *Artifact
	steps := []step{
		{name: "lint", run: func(ctx context.Context) error { return b.lintCA(ctx, opts, triple) }},
		{name: "compile", run: func(ctx context.Context) error { return b.compileCA(ctx, opts, triple) }},
		{name: "post-build", run: func(ctx context.Context) error {
			var err error
			artifact, err = b.postBuildCA(ctx, opts, triple, manifestPath)
			return err
		}},
	}
	if err := runSteps(ctx, steps); err != nil {
		return nil, err
	}

	logger.Info("✅ "+opts.label()+" build successfully!", "artifact", absOrSelf(artifact.Path))
	return artifact, nil
}

func caCommand(opts CAOptions, triple target.Triple, subcommand string) toolchain.Command {
	env := []toolchain.EnvVar{{Key: toolchain.EnvOpteeClientExport, Value: opts.OpteeClientExport}}
	env = append(env, opts.Env...)
	return toolchain.Command{
		Name: "cargo",
		Args: cargoArgs(subcommand, triple, opts.Common, false),
		Dir:  opts.ProjectDir,
		Env:  env,
	}
}

func (b *Builder) lintCA(ctx context.Context, opts CAOptions, triple target.Triple) error {
	if err := b.runFmt(ctx, opts.ProjectDir); err != nil {
		return err
	}
	cmd := caCommand(opts, triple, "clippy")
	cmd.Args = append(append(cmd.Args, "--"), clippyDenials...)
	_, err := toolchain.Exec(ctx, b.runner, "clippy", cmd)
	return err
}

func (b *Builder) compileCA(ctx context.Context, opts CAOptions, triple target.Triple) error {
	cmd := caCommand(opts, triple, "build")
	if !opts.Debug {
		cmd.Args = append(cmd.Args, "--release")
	}
	cmd.Args = append(cmd.Args, linkerConfig(triple)...)

	toolchain.Describe(ctx, cmd, "Building "+opts.label()+" binary")
	_, err := toolchain.Exec(ctx, b.runner, "build", cmd)
	return err
}

func (b *Builder) postBuildCA(ctx context.Context, opts CAOptions, triple target.Triple, manifestPath string) (*Artifact, error) {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	targetDir, err := manifest.TargetDirectory(ctx, b.runner, manifestPath)
	if err != nil {
		return nil, err
	}
	profileDir := filepath.Join(targetDir, triple.Target, opts.profile())

	if opts.Plugin {
		return copyPlugin(ctx, opts, m, profileDir)
	}
	return b.stripCA(ctx, opts, triple, m, profileDir)
}

func copyPlugin(ctx context.Context, opts CAOptions, m *manifest.Manifest, profileDir string) (*Artifact, error) {
	ctxlog.FromContext(ctx).Info("Processing plugin...")

	libName, err := m.LibName()
	if err != nil {
		return nil, err
	}
	src := filepath.Join(profileDir, "lib"+libName+".so")
	if err := requireFile(src, "Plugin library"); err != nil {
		return nil, err
	}
	uuid, err := ReadUUID(opts.UUIDPath)
	if err != nil {
		return nil, err
	}

	dst := filepath.Join(profileDir, uuid+".plugin.so")
	if err := fsutil.CopyFile(src, dst); err != nil {
		return nil, fmt.Errorf("failed to copy plugin: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Plugin copied.", "path", absOrSelf(dst))
	return &Artifact{Kind: config.KindPlugin, Path: dst, UUID: uuid}, nil
}

func (b *Builder) stripCA(ctx context.Context, opts CAOptions, triple target.Triple, m *manifest.Manifest, profileDir string) (*Artifact, error) {
	ctxlog.FromContext(ctx).Info("Stripping binary...")

	name, err := m.PackageName()
	if err != nil {
		return nil, err
	}
	binary := filepath.Join(profileDir, name)
	if err := requireFile(binary, "Binary"); err != nil {
		return nil, err
	}

	objcopy := triple.Objcopy()
	_, err = toolchain.Exec(ctx, b.runner, objcopy, toolchain.Command{
		Name: objcopy,
		Args: []string{"--strip-unneeded", binary, binary},
		Dir:  opts.ProjectDir,
	})
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("CA binary stripped.", "path", absOrSelf(binary))
	return &Artifact{Kind: opts.kind(), Path: binary}, nil
}
