package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/cargo-optee/internal/app"
	"github.com/vk/cargo-optee/internal/builder"
	"github.com/vk/cargo-optee/internal/config"
	"github.com/vk/cargo-optee/internal/plan"
)

// Version is the released version, overridable with -ldflags -X.
var Version = "0.1.0"

const programName = "cargo-optee"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) *ExitError {
	return &ExitError{Code: 2, Message: err.Error()}
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// A leading "optee" argument, as inserted by "cargo optee", is ignored.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	if len(args) > 0 && args[0] == "optee" {
		args = args[1:]
	}

	global := flag.NewFlagSet(programName, flag.ContinueOnError)
	global.SetOutput(output)
	global.Usage = func() {
		fmt.Fprint(output, rootUsage)
		global.PrintDefaults()
	}
	logFormatFlag := global.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := global.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError(err)
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return nil, true, nil
	}

	cfg := app.Config{LogFormat: logFormat, LogLevel: logLevel}
	var (
		shouldExit bool
		err        error
	)
	switch cmd := rest[0]; cmd {
	case "help":
		global.Usage()
		return nil, true, nil
	case "version":
		fmt.Fprintf(output, "%s %s\n", programName, Version)
		return nil, true, nil
	case string(app.CommandClean):
		shouldExit, err = parseClean(&cfg, rest[1:], output)
	case string(app.CommandBuild), string(app.CommandInstall):
		shouldExit, err = parseBuild(&cfg, app.Command(cmd), rest[1:], output)
	default:
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q, run '%s help' for usage", cmd, programName)}
	}
	if err != nil || shouldExit {
		return nil, shouldExit, err
	}
	slog.Debug("Arguments parsed successfully.", "command", cfg.Command, "target", cfg.Target)

	validated, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError(err)
	}
	return validated, false, nil
}

const rootUsage = `
cargo-optee - builds OP-TEE Trusted Applications, Client Applications and plugins.

Usage:
  cargo-optee [options] <command> [args]
  cargo optee [options] <command> [args]

Commands:
  build ta|ca|plugin|plan     Build a component, or every component of a plan.
  install ta|ca|plugin|plan   Build, then copy the artifacts into --target-dir.
  clean                       Remove build artifacts of a project.
  version                     Print the version.
  help                        Print this help.

Options:
`

func newFlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(programName+" "+name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage:\n  %s %s [flags]\n\nFlags:\n", programName, name)
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags parses a subcommand's flags. Positional arguments are not
// accepted after the target.
func parseFlags(fs *flag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return false, usageError(err)
	}
	if fs.NArg() > 0 {
		return false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected argument %q", fs.Arg(0))}
	}
	return false, nil
}

// visited returns the names of the flags given on the command line.
func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func parseClean(cfg *app.Config, args []string, output io.Writer) (bool, error) {
	cfg.Command = app.CommandClean
	fs := newFlagSet("clean", output)
	fs.StringVar(&cfg.ManifestPath, "manifest-path", "", "Path to Cargo.toml. Defaults to the current directory.")
	return parseFlags(fs, args)
}

func parseBuild(cfg *app.Config, cmd app.Command, args []string, output io.Writer) (bool, error) {
	cfg.Command = cmd
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprintf(output, "Usage:\n  %s %s ta|ca|plugin|plan [flags]\n", programName, cmd)
		if len(args) == 0 {
			return false, &ExitError{Code: 2, Message: fmt.Sprintf("%s requires a target: ta, ca, plugin or plan", cmd)}
		}
		return true, nil
	}
	cfg.Target = args[0]

	fs := newFlagSet(string(cmd)+" "+cfg.Target, output)
	if cmd == app.CommandInstall {
		fs.StringVar(&cfg.InstallDir, "target-dir", builder.DefaultInstallDir, "Directory the artifacts are copied into, relative to the current directory.")
	}

	if cfg.Target == app.TargetPlan {
		fs.StringVar(&cfg.PlanFile, "file", plan.DefaultFile, "Plan file, or a directory of .hcl plan files.")
		fs.IntVar(&cfg.Jobs, "jobs", 1, "Number of components built concurrently.")
		return parseFlags(fs, args[1:])
	}

	kind, err := config.ParseKind(cfg.Target)
	if err != nil {
		return false, usageError(err)
	}
	bf := registerBuildFlags(fs, kind)
	if shouldExit, err := parseFlags(fs, args[1:]); err != nil || shouldExit {
		return shouldExit, err
	}
	return false, bf.apply(cfg, visited(fs))
}

// buildFlags are the per-component flags of build and install.
type buildFlags struct {
	manifestPath      string
	arch              archValue
	debug             bool
	env               envList
	noDefaultFeatures bool
	features          string

	std               bool
	noStd             bool
	taDevKitDir       string
	signingKey        string
	uuidPath          string
	opteeClientExport string
}

func registerBuildFlags(fs *flag.FlagSet, kind config.Kind) *buildFlags {
	f := &buildFlags{}
	fs.StringVar(&f.manifestPath, "manifest-path", "", "Path to Cargo.toml. Defaults to the current directory.")
	fs.Var(&f.arch, "arch", "Target architecture: aarch64 (arm64) or arm (arm32). Defaults to the metadata, then aarch64.")
	fs.BoolVar(&f.debug, "debug", false, "Build in debug mode instead of release.")
	fs.Var(&f.env, "env", "Extra environment variable for the build as KEY=VALUE. Repeatable.")
	fs.BoolVar(&f.noDefaultFeatures, "no-default-features", false, "Disable the crate's default features.")
	fs.StringVar(&f.features, "features", "", "Comma separated list of features to enable.")

	switch kind {
	case config.KindTA:
		fs.BoolVar(&f.std, "std", false, "Build the TA with std support (xargo, custom target).")
		fs.BoolVar(&f.noStd, "no-std", false, "Build the TA without std support.")
		fs.StringVar(&f.taDevKitDir, "ta-dev-kit-dir", "", "Path to the OP-TEE TA development kit (export-ta_arm64 or export-ta_arm32).")
		fs.StringVar(&f.signingKey, "signing-key", "", "Path to the TA signing key. Defaults to <ta-dev-kit-dir>/keys/default_ta.pem.")
		fs.StringVar(&f.uuidPath, "uuid-path", "", "Path to the UUID file, relative to the current directory.")
	case config.KindCA:
		fs.StringVar(&f.opteeClientExport, "optee-client-export", "", "Path to the OP-TEE client export directory.")
	case config.KindPlugin:
		fs.StringVar(&f.opteeClientExport, "optee-client-export", "", "Path to the OP-TEE client export directory.")
		fs.StringVar(&f.uuidPath, "uuid-path", "", "Path to the UUID file, relative to the current directory.")
	}
	return f
}

// apply copies the parsed flags into cfg. Flags that were not given leave
// their override unset so the manifest metadata can decide.
func (f *buildFlags) apply(cfg *app.Config, set map[string]bool) error {
	if set["std"] && set["no-std"] {
		return &ExitError{Code: 2, Message: "--std and --no-std cannot be used together"}
	}

	o := config.Overrides{
		TADevKitDir:       f.taDevKitDir,
		OpteeClientExport: f.opteeClientExport,
		SigningKey:        f.signingKey,
		UUIDPath:          f.uuidPath,
		Env:               f.env,
	}
	if set["arch"] {
		arch := f.arch.arch
		o.Arch = &arch
	}
	if set["debug"] {
		debug := f.debug
		o.Debug = &debug
	}
	switch {
	case set["std"]:
		std := f.std
		o.Std = &std
	case set["no-std"]:
		std := !f.noStd
		o.Std = &std
	}

	cfg.ManifestPath = f.manifestPath
	cfg.Overrides = o
	cfg.Features = f.features
	cfg.NoDefaultFeatures = f.noDefaultFeatures
	return nil
}
