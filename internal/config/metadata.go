package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/toolchain"
)

var (
	// ErrNoOpteeMetadata means [package.metadata.optee] is absent.
	ErrNoOpteeMetadata = errors.New("no optee metadata found in application package")
	// ErrNoComponentMetadata means the optee table has no section for the
	// component kind.
	ErrNoComponentMetadata = errors.New("no component metadata found in optee section")
)

// Metadata is the build configuration found in one component's metadata
// section, with per-arch tables already resolved for Arch.
type Metadata struct {
	Arch              target.Arch
	Debug             bool
	Std               bool
	TADevKitDir       string
	OpteeClientExport string
	SigningKey        string
	Env               []toolchain.EnvVar
}

func componentSection(meta map[string]any, kind Kind) (map[string]any, error) {
	optee, ok := meta["optee"].(map[string]any)
	if !ok {
		return nil, ErrNoOpteeMetadata
	}
	section, ok := optee[string(kind)].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoComponentMetadata, kind)
	}
	return section, nil
}

// ExtractMetadata reads the component's section using the architecture
// declared in that section (aarch64 when absent or invalid).
func ExtractMetadata(ctx context.Context, meta map[string]any, kind Kind) (*Metadata, error) {
	section, err := componentSection(meta, kind)
	if err != nil {
		return nil, err
	}

	arch := target.Aarch64
	if s, ok := section["arch"].(string); ok {
		parsed, err := target.ParseArch(s)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Ignoring invalid arch in metadata, using default.", "kind", kind, "arch", s, "default", target.Aarch64)
		} else {
			arch = parsed
		}
	}
	return ExtractMetadataForArch(ctx, meta, kind, arch)
}

// ExtractMetadataForArch reads the component's section, resolving the
// per-arch path tables for arch.
func ExtractMetadataForArch(ctx context.Context, meta map[string]any, kind Kind, arch target.Arch) (*Metadata, error) {
	section, err := componentSection(meta, kind)
	if err != nil {
		return nil, err
	}

	m := &Metadata{Arch: arch}
	m.Debug, _ = section["debug"].(bool)
	m.Std, _ = section["std"].(bool)

	switch kind {
	case KindTA:
		m.TADevKitDir = archPath(section["ta-dev-kit-dir"], arch)
		m.SigningKey, _ = section["signing-key"].(string)
	case KindCA, KindPlugin:
		m.OpteeClientExport = archPath(section["optee-client-export"], arch)
	}

	m.Env = parseMetadataEnv(ctx, section["env"])
	return m, nil
}

// archPath accepts either a plain string, valid for every architecture, or a
// table keyed by architecture name. A missing key, a non-string value or an
// empty string all mean unset.
func archPath(v any, arch target.Arch) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		s, _ := val[arch.String()].(string)
		return s
	default:
		return ""
	}
}

func parseMetadataEnv(ctx context.Context, v any) []toolchain.EnvVar {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	var env []toolchain.EnvVar
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			continue
		}
		ev, err := toolchain.ParseEnvVar(s)
		if err != nil {
			logger.Warn("Invalid environment variable format in metadata, skipping.", "entry", s)
			continue
		}
		env = append(env, ev)
	}
	return env
}

// UUIDPathFromMetadata returns uuid-path from the component's own section,
// falling back to the ta section.
func UUIDPathFromMetadata(meta map[string]any, kind Kind) (string, bool) {
	for _, k := range []Kind{kind, KindTA} {
		section, err := componentSection(meta, k)
		if err != nil {
			continue
		}
		if s, ok := section["uuid-path"].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
