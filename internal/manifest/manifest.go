// Package manifest reads the parts of a Cargo.toml that cargo-optee needs:
// the package name and the [package.metadata] tree.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/vk/cargo-optee/internal/toolchain"
)

// FileName is the manifest file cargo looks for in a project directory.
const FileName = "Cargo.toml"

// ErrNoPackageName is returned when the manifest has no [package].name,
// e.g. a virtual workspace manifest.
var ErrNoPackageName = errors.New("could not find package name in Cargo.toml")

// Manifest is a parsed Cargo.toml.
type Manifest struct {
	Path    string `toml:"-"`
	Package struct {
		Name     string         `toml:"name"`
		Metadata map[string]any `toml:"metadata"`
	} `toml:"package"`
}

// Load parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	m.Path = path
	return &m, nil
}

// LoadDir parses the Cargo.toml inside dir.
func LoadDir(dir string) (*Manifest, error) {
	return Load(filepath.Join(dir, FileName))
}

// PackageName returns [package].name.
func (m *Manifest) PackageName() (string, error) {
	if m.Package.Name == "" {
		return "", ErrNoPackageName
	}
	return m.Package.Name, nil
}

// LibName returns the crate's library file stem; cargo replaces '-' with '_'.
func (m *Manifest) LibName() (string, error) {
	name, err := m.PackageName()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(name, "-", "_"), nil
}

// Metadata returns [package.metadata]; never nil.
func (m *Manifest) Metadata() map[string]any {
	if m.Package.Metadata == nil {
		return map[string]any{}
	}
	return m.Package.Metadata
}

// TargetDirectory asks cargo which target directory it builds into for the
// given manifest. This honours workspaces, CARGO_TARGET_DIR and
// .cargo/config.toml.
func TargetDirectory(ctx context.Context, r toolchain.Runner, manifestPath string) (string, error) {
	res, err := toolchain.Exec(ctx, r, "cargo metadata", toolchain.Command{
		Name: "cargo",
		Args: []string{"metadata", "--manifest-path", manifestPath, "--format-version", "1", "--no-deps"},
		Dir:  filepath.Dir(manifestPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get cargo metadata: %w", err)
	}

	var meta struct {
		TargetDirectory string `json:"target_directory"`
	}
	if err := json.Unmarshal(res.Stdout, &meta); err != nil {
		return "", fmt.Errorf("failed to decode cargo metadata: %w", err)
	}
	if meta.TargetDirectory == "" {
		return "", errors.New("could not get target directory from cargo metadata")
	}
	return meta.TargetDirectory, nil
}
