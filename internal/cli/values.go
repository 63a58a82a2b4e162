package cli

import (
	"strings"

	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/toolchain"
)

// archValue is a flag.Value accepting the names understood by
// target.ParseArch.
type archValue struct {
	arch target.Arch
}

func (a *archValue) String() string {
	if a == nil {
		return ""
	}
	return a.arch.String()
}

func (a *archValue) Set(s string) error {
	arch, err := target.ParseArch(s)
	if err != nil {
		return err
	}
	a.arch = arch
	return nil
}

// envList is a repeatable KEY=VALUE flag.
type envList []toolchain.EnvVar

func (e *envList) String() string {
	if e == nil {
		return ""
	}
	return strings.Join(toolchain.EnvList(*e), ",")
}

func (e *envList) Set(s string) error {
	v, err := toolchain.ParseEnvVar(s)
	if err != nil {
		return err
	}
	*e = append(*e, v)
	return nil
}
