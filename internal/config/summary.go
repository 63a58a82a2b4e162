package config

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Summary prints the final configuration being used for the build.
func (c *BuildConfig) Summary(w io.Writer) {
	fmt.Fprintf(w, "Building %s with:\n", strings.ToUpper(string(c.Kind)))
	fmt.Fprintf(w, "  Arch: %s\n", c.Arch)
	fmt.Fprintf(w, "  Debug: %t\n", c.Debug)

	switch c.Kind {
	case KindTA:
		fmt.Fprintf(w, "  Std: %t\n", c.Std)
		if c.TADevKitDir != "" {
			fmt.Fprintf(w, "  TA dev kit dir: %s\n", c.display(c.TADevKitDir))
		}
		if c.SigningKey != "" {
			fmt.Fprintf(w, "  Signing key: %s\n", c.display(c.SigningKey))
		}
		c.printUUID(w)
	case KindCA, KindPlugin:
		if c.OpteeClientExport != "" {
			fmt.Fprintf(w, "  OP-TEE client export: %s\n", c.display(c.OpteeClientExport))
		}
		if c.Kind == KindPlugin {
			c.printUUID(w)
		}
	}

	if len(c.Env) > 0 {
		fmt.Fprintf(w, "  Environment variables: %d set\n", len(c.Env))
	}
}

func (c *BuildConfig) printUUID(w io.Writer) {
	if p, err := c.ResolvedUUIDPath(); err == nil {
		fmt.Fprintf(w, "  UUID path: %s\n", p)
	}
}

func (c *BuildConfig) display(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}
