package app

import (
	"errors"
	"fmt"

	"github.com/vk/cargo-optee/internal/config"
)

// Command is the top-level action requested on the command line.
type Command string

const (
	CommandBuild   Command = "build"
	CommandInstall Command = "install"
	CommandClean   Command = "clean"
)

// TargetPlan selects a plan file instead of a single component.
const TargetPlan = "plan"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	LogFormat string
	LogLevel  string

	Command Command
	// Target is a component kind or TargetPlan. Unused by clean.
	Target string

	// ManifestPath selects the project; empty means the current directory.
	ManifestPath      string
	Overrides         config.Overrides
	Features          string
	NoDefaultFeatures bool

	// InstallDir is where install copies artifacts, relative to the
	// current directory.
	InstallDir string

	PlanFile string
	Jobs     int
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	switch cfg.Command {
	case CommandClean:
		return &cfg, nil
	case CommandBuild, CommandInstall:
	case "":
		return nil, errors.New("command is a required configuration field and cannot be empty")
	default:
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}

	if cfg.Target != TargetPlan {
		if _, err := config.ParseKind(cfg.Target); err != nil {
			return nil, err
		}
	}
	if cfg.Jobs < 0 {
		return nil, fmt.Errorf("jobs must not be negative, got %d", cfg.Jobs)
	}
	return &cfg, nil
}
