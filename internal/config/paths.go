package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PathType is what a configured path is expected to point at.
type PathType int

const (
	Directory PathType = iota
	File
)

var (
	// ErrTADevKitDirRequired is returned when a TA has no dev kit configured.
	ErrTADevKitDirRequired = errors.New(`ta-dev-kit-dir is MANDATORY but not configured.
Please set it via:
1. Command line: --ta-dev-kit-dir <path>
2. Cargo.toml metadata: [package.metadata.optee.ta] section

Example Cargo.toml:
[package.metadata.optee.ta]
ta-dev-kit-dir = { aarch64 = "/path/to/optee_os/out/arm-plat-vexpress/export-ta_arm64" }
# arm architecture omitted (defaults to null)

For help with available options, run: cargo-optee build ta --help`)

	// ErrOpteeClientExportRequired is returned when a CA or plugin has no
	// client export configured.
	ErrOpteeClientExportRequired = errors.New(`optee-client-export is MANDATORY but not configured.
Please set it via:
1. Command line: --optee-client-export <path>
2. Cargo.toml metadata: [package.metadata.optee.ca] or [package.metadata.optee.plugin] section

Example Cargo.toml:
[package.metadata.optee.ca]
optee-client-export = { aarch64 = "/path/to/optee_client/export_arm64" }
# arm architecture omitted (defaults to null)

For help with available options, run: cargo-optee build ca --help`)
)

// RequireTADevKitDir returns the validated, absolute dev kit directory.
func (c *BuildConfig) RequireTADevKitDir() (string, error) {
	if c.TADevKitDir == "" {
		return "", ErrTADevKitDirRequired
	}
	return ResolvePath(c.TADevKitDir, c.ProjectDir, Directory, "TA development kit directory")
}

// RequireOpteeClientExport returns the validated, absolute client export
// directory.
func (c *BuildConfig) RequireOpteeClientExport() (string, error) {
	if c.OpteeClientExport == "" {
		return "", ErrOpteeClientExportRequired
	}
	return ResolvePath(c.OpteeClientExport, c.ProjectDir, Directory, "OP-TEE client export directory")
}

// SigningKeyPath returns the validated signing key, defaulting to the dev
// kit's keys/default_ta.pem.
func (c *BuildConfig) SigningKeyPath(devKitDir string) (string, error) {
	key := c.SigningKey
	if key == "" {
		key = filepath.Join(devKitDir, "keys", "default_ta.pem")
	}
	return ResolvePath(key, c.ProjectDir, File, "Signing key file")
}

// ResolvePath joins a relative path onto projectDir and checks that it
// exists and has the expected type.
func ResolvePath(path, projectDir string, want PathType, what string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(projectDir, resolved)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("%s: %w", what, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s does not exist: %q", what, abs)
		}
		return "", fmt.Errorf("%s: %w", what, err)
	}

	switch want {
	case Directory:
		if !info.IsDir() {
			return "", fmt.Errorf("%s is not a directory: %q", what, abs)
		}
	case File:
		if !info.Mode().IsRegular() {
			return "", fmt.Errorf("%s is not a file: %q", what, abs)
		}
	}
	return abs, nil
}
