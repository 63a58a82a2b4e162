package toolchain

import (
	"fmt"
	"strings"
)

// Environment variables understood by the OP-TEE Rust build scripts and by
// cargo itself.
const (
	EnvTADevKitDir       = "TA_DEV_KIT_DIR"
	EnvOpteeClientExport = "OPTEE_CLIENT_EXPORT"
	EnvRustFlags         = "RUSTFLAGS"
	EnvRustTargetPath    = "RUST_TARGET_PATH"
	EnvCargoHome         = "CARGO_HOME"
)

// EnvVar is a single KEY=VALUE override passed to a subprocess.
type EnvVar struct {
	Key   string
	Value string
}

func (e EnvVar) String() string { return e.Key + "=" + e.Value }

// ParseEnvVar splits s at the first '='. The value may be empty or contain
// further '=' characters; the key may not be empty.
func ParseEnvVar(s string) (EnvVar, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return EnvVar{}, fmt.Errorf("invalid environment variable format: '%s'. Expected 'KEY=VALUE'", s)
	}
	return EnvVar{Key: key, Value: value}, nil
}

// EnvList renders vars in os/exec form.
func EnvList(vars []EnvVar) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		out = append(out, v.String())
	}
	return out
}

// Lookup returns the value of the last occurrence of key in vars.
func Lookup(vars []EnvVar, key string) (string, bool) {
	for i := len(vars) - 1; i >= 0; i-- {
		if vars[i].Key == key {
			return vars[i].Value, true
		}
	}
	return "", false
}
