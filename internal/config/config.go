package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/manifest"
	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/toolchain"
)

// Kind is the type of OP-TEE component being built.
type Kind string

const (
	KindTA     Kind = "ta"
	KindCA     Kind = "ca"
	KindPlugin Kind = "plugin"
)

// ErrUnknownKind is returned by ParseKind.
var ErrUnknownKind = errors.New("unknown component kind")

// ParseKind validates a component kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTA, KindCA, KindPlugin:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q (expected ta, ca or plugin)", ErrUnknownKind, s)
}

// DefaultUUIDPath is used when neither the CLI nor the metadata name one.
const DefaultUUIDPath = "../uuid.txt"

// Overrides are the highest-priority tier. Nil pointers and empty strings
// mean "not given".
type Overrides struct {
	Arch              *target.Arch
	Debug             *bool
	Std               *bool
	TADevKitDir       string
	OpteeClientExport string
	SigningKey        string
	UUIDPath          string
	// UUIDBase is the directory a relative UUIDPath is resolved against.
	// Empty means the current working directory.
	UUIDBase string
	Env      []toolchain.EnvVar
}

// BuildConfig is the merged configuration of one component.
type BuildConfig struct {
	Kind       Kind
	ProjectDir string

	Arch  target.Arch
	Debug bool
	Std   bool

	// Paths exactly as configured; use the Require/Resolve helpers to get
	// validated absolute paths.
	TADevKitDir       string
	OpteeClientExport string
	SigningKey        string
	UUIDPath          string

	// Env is the metadata env followed by the override env.
	Env []toolchain.EnvVar

	uuidBase string
}

// Resolve merges overrides, the project's manifest metadata and defaults.
// A missing or unreadable Cargo.toml only disables the metadata tier.
func Resolve(ctx context.Context, projectDir string, kind Kind, o Overrides) (*BuildConfig, error) {
	logger := ctxlog.FromContext(ctx)
	if projectDir == "" {
		return nil, errors.New("project directory must be set")
	}

	var meta map[string]any
	if m, err := manifest.LoadDir(projectDir); err != nil {
		logger.Debug("No usable manifest metadata.", "dir", projectDir, "error", err)
	} else {
		meta = m.Metadata()
	}

	var fromMeta *Metadata
	if meta != nil {
		md, err := ExtractMetadata(ctx, meta, kind)
		if err != nil {
			logger.Debug("No metadata section for component.", "kind", kind, "error", err)
		} else {
			fromMeta = md
		}
	}

	arch := target.Aarch64
	switch {
	case o.Arch != nil:
		arch = *o.Arch
	case fromMeta != nil:
		arch = fromMeta.Arch
	}
	if fromMeta != nil && fromMeta.Arch != arch {
		// Per-arch tables must be read for the overriding architecture.
		fromMeta, _ = ExtractMetadataForArch(ctx, meta, kind, arch)
	}
	if fromMeta == nil {
		fromMeta = &Metadata{Arch: arch}
	}

	cfg := &BuildConfig{
		Kind:              kind,
		ProjectDir:        projectDir,
		Arch:              arch,
		Debug:             pick(o.Debug, fromMeta.Debug),
		Std:               pick(o.Std, fromMeta.Std),
		TADevKitDir:       firstNonEmpty(o.TADevKitDir, fromMeta.TADevKitDir),
		OpteeClientExport: firstNonEmpty(o.OpteeClientExport, fromMeta.OpteeClientExport),
		SigningKey:        firstNonEmpty(o.SigningKey, fromMeta.SigningKey),
		uuidBase:          projectDir,
	}

	switch {
	case o.UUIDPath != "":
		cfg.UUIDPath = o.UUIDPath
		cfg.uuidBase = o.UUIDBase
	default:
		cfg.UUIDPath = DefaultUUIDPath
		if p, ok := UUIDPathFromMetadata(meta, kind); ok {
			cfg.UUIDPath = p
		}
	}

	cfg.Env = append(cfg.Env, fromMeta.Env...)
	cfg.Env = append(cfg.Env, o.Env...)

	logger.Debug("Build configuration resolved.", "kind", kind, "arch", cfg.Arch, "debug", cfg.Debug, "std", cfg.Std)
	return cfg, nil
}

func pick(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ResolvedUUIDPath returns the UUID file path made absolute. Overrides are
// relative to their UUIDBase (the current directory for CLI flags);
// metadata and default values are relative to the project directory.
func (c *BuildConfig) ResolvedUUIDPath() (string, error) {
	if filepath.IsAbs(c.UUIDPath) {
		return filepath.Clean(c.UUIDPath), nil
	}
	base := c.uuidBase
	if base == "" {
		base = "."
	}
	return filepath.Abs(filepath.Join(base, c.UUIDPath))
}
