package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vk/cargo-optee/internal/builder"
	"github.com/vk/cargo-optee/internal/config"
	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/plan"
	"github.com/vk/cargo-optee/internal/toolchain"
)

// ErrInvalidManifestPath is returned when --manifest-path has no usable
// parent directory.
var ErrInvalidManifestPath = errors.New("invalid manifest path")

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	builder *builder.Builder
	loader  *plan.Loader
}

// NewApp is the constructor for the main application. It owns an isolated
// logger writing to outW and runs every external command through runner.
// outW need not be safe for concurrent use.
func NewApp(outW io.Writer, cfg *Config, runner toolchain.Runner, opts ...builder.Option) *App {
	outW = &syncWriter{w: outW}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		builder: builder.New(runner, opts...),
		loader:  plan.NewLoader(),
	}
}

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", a.config.Command, "target", a.config.Target)

	switch a.config.Command {
	case CommandClean:
		dir, err := resolveProjectDir(a.config.ManifestPath)
		if err != nil {
			return err
		}
		return a.builder.Clean(ctx, dir)
	case CommandBuild, CommandInstall:
		if a.config.Target == TargetPlan {
			return a.runPlan(ctx)
		}
		return a.runSingle(ctx)
	default:
		return fmt.Errorf("unknown command %q", a.config.Command)
	}
}

func (a *App) runSingle(ctx context.Context) error {
	dir, err := resolveProjectDir(a.config.ManifestPath)
	if err != nil {
		return err
	}

	art, err := a.buildComponent(ctx, componentRequest{
		Kind:              config.Kind(a.config.Target),
		Dir:               dir,
		Overrides:         a.config.Overrides,
		Features:          a.config.Features,
		NoDefaultFeatures: a.config.NoDefaultFeatures,
	})
	if err != nil {
		return err
	}

	if a.config.Command == CommandInstall {
		if _, err := a.builder.Install(ctx, art, a.config.InstallDir); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) runPlan(ctx context.Context) error {
	file := a.config.PlanFile
	if file == "" {
		file = plan.DefaultFile
	}
	p, err := a.loader.Load(ctx, file)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	report, err := plan.NewExecutor(a.config.Jobs).Run(ctx, p, func(ctx context.Context, c *plan.Component) error {
		art, err := a.buildComponent(ctx, componentRequest{
			Kind:              c.Kind,
			Dir:               c.Dir,
			Overrides:         c.Overrides,
			Features:          c.Features,
			NoDefaultFeatures: c.NoDefaultFeatures,
		})
		if err != nil {
			return err
		}
		if a.config.Command == CommandInstall {
			_, err = a.builder.Install(ctx, art, a.config.InstallDir)
		}
		return err
	})

	for _, id := range p.Order() {
		a.logger.Info("Plan result", "component", id, "status", report.Status(id))
	}
	return err
}

// componentRequest is one component to resolve and build.
type componentRequest struct {
	Kind              config.Kind
	Dir               string
	Overrides         config.Overrides
	Features          string
	NoDefaultFeatures bool
}

// buildComponent resolves the configuration of one component, prints it,
// validates its paths and runs the matching build pipeline.
func (a *App) buildComponent(ctx context.Context, req componentRequest) (*builder.Artifact, error) {
	cfg, err := config.Resolve(ctx, req.Dir, req.Kind, req.Overrides)
	if err != nil {
		return nil, err
	}
	a.printSummary(cfg)

	common := builder.Common{
		Arch:              cfg.Arch,
		Debug:             cfg.Debug,
		ProjectDir:        req.Dir,
		Env:               cfg.Env,
		NoDefaultFeatures: req.NoDefaultFeatures,
		Features:          req.Features,
	}

	switch req.Kind {
	case config.KindTA:
		devKit, err := cfg.RequireTADevKitDir()
		if err != nil {
			return nil, err
		}
		key, err := cfg.SigningKeyPath(devKit)
		if err != nil {
			return nil, err
		}
		uuidPath, err := cfg.ResolvedUUIDPath()
		if err != nil {
			return nil, err
		}
		return a.builder.BuildTA(ctx, builder.TAOptions{
			Common:      common,
			Std:         cfg.Std,
			TADevKitDir: devKit,
			SigningKey:  key,
			UUIDPath:    uuidPath,
		})
	case config.KindCA, config.KindPlugin:
		export, err := cfg.RequireOpteeClientExport()
		if err != nil {
			return nil, err
		}
		opts := builder.CAOptions{
			Common:            common,
			Plugin:            req.Kind == config.KindPlugin,
			OpteeClientExport: export,
		}
		if opts.Plugin {
			if opts.UUIDPath, err = cfg.ResolvedUUIDPath(); err != nil {
				return nil, err
			}
		}
		return a.builder.BuildCA(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownKind, req.Kind)
	}
}

// printSummary writes the resolved configuration to the output in one
// piece so concurrent plan builds do not interleave.
func (a *App) printSummary(cfg *config.BuildConfig) {
	var buf bytes.Buffer
	cfg.Summary(&buf)

	a.outW.Write(buf.Bytes())
}

// resolveProjectDir returns the absolute project directory: the parent of
// manifestPath, or the current directory when it is empty.
func resolveProjectDir(manifestPath string) (string, error) {
	if manifestPath == "" {
		return os.Getwd()
	}
	parent := filepath.Dir(manifestPath)
	if parent == "." {
		return os.Getwd()
	}
	abs, err := filepath.Abs(parent)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidManifestPath, manifestPath)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrInvalidManifestPath, manifestPath)
	}
	return abs, nil
}
