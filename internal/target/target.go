// Package target maps an architecture and build mode onto the Rust target
// triple and the GNU cross-compile prefix used to link and strip it.
package target

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Arch is the target CPU architecture of a component.
type Arch int

const (
	// Aarch64 is the 64-bit ARM architecture and the default.
	Aarch64 Arch = iota
	// Arm is the 32-bit ARM architecture.
	Arm
)

// ErrInvalidArch is returned by ParseArch for unknown architecture names.
var ErrInvalidArch = errors.New("invalid architecture")

// String returns the key used for the architecture in manifest metadata.
func (a Arch) String() string {
	switch a {
	case Aarch64:
		return "aarch64"
	case Arm:
		return "arm"
	default:
		return fmt.Sprintf("Arch(%d)", int(a))
	}
}

// ParseArch parses an architecture name. It is case-insensitive and accepts
// the arm64/arm32 aliases.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aarch64", "arm64":
		return Aarch64, nil
	case "arm", "arm32":
		return Arm, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidArch, s)
	}
}

// BuildMode selects which family of targets a component is compiled for.
type BuildMode int

const (
	// ModeCA is a normal-world Linux binary or plugin.
	ModeCA BuildMode = iota
	// ModeTAStd is a Trusted Application built against the custom optee
	// targets with the std feature.
	ModeTAStd
	// ModeTANoStd is a no-std Trusted Application built with the Linux
	// targets.
	ModeTANoStd
)

func (m BuildMode) String() string {
	switch m {
	case ModeCA:
		return "ca"
	case ModeTAStd:
		return "ta-std"
	case ModeTANoStd:
		return "ta-no-std"
	default:
		return fmt.Sprintf("BuildMode(%d)", int(m))
	}
}

// TAMode returns the TA build mode for the given std setting.
func TAMode(std bool) BuildMode {
	if std {
		return ModeTAStd
	}
	return ModeTANoStd
}

// Triple is a resolved Rust target together with its cross toolchain prefix.
type Triple struct {
	Target       string
	CrossCompile string
}

// Linker is the cross gcc used as cargo's linker for the target.
func (t Triple) Linker() string { return t.CrossCompile + "gcc" }

// Objcopy is the cross objcopy used to strip binaries.
func (t Triple) Objcopy() string { return t.CrossCompile + "objcopy" }

// IsCustom reports whether the target needs an embedded target spec.
func (t Triple) IsCustom() bool { return strings.HasSuffix(t.Target, "-unknown-optee") }

type tableKey struct {
	arch Arch
	mode BuildMode
}

var table = map[tableKey]Triple{
	{Arm, ModeCA}:          {"arm-unknown-linux-gnueabihf", "arm-linux-gnueabihf-"},
	{Arm, ModeTANoStd}:     {"arm-unknown-linux-gnueabihf", "arm-linux-gnueabihf-"},
	{Arm, ModeTAStd}:       {"arm-unknown-optee", "arm-linux-gnueabihf-"},
	{Aarch64, ModeCA}:      {"aarch64-unknown-linux-gnu", "aarch64-linux-gnu-"},
	{Aarch64, ModeTANoStd}: {"aarch64-unknown-linux-gnu", "aarch64-linux-gnu-"},
	{Aarch64, ModeTAStd}:   {"aarch64-unknown-optee", "aarch64-linux-gnu-"},
}

// Lookup returns the target triple for an architecture and build mode.
func Lookup(arch Arch, mode BuildMode) (Triple, error) {
	t, ok := table[tableKey{arch, mode}]
	if !ok {
		return Triple{}, fmt.Errorf("no target configuration found for arch: %s, mode: %s", arch, mode)
	}
	return t, nil
}

//go:embed specs/*.json
var specs embed.FS

// WriteCustomSpecs writes the optee target specifications into dir so that
// it can be used as RUST_TARGET_PATH.
func WriteCustomSpecs(dir string) error {
	entries, err := fs.ReadDir(specs, "specs")
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := specs.ReadFile("specs/" + e.Name())
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, e.Name()), data, 0o644); err != nil {
			return fmt.Errorf("failed to write target spec %s: %w", e.Name(), err)
		}
	}
	return nil
}
