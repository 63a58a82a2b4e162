package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/cargo-optee/internal/config"
	"github.com/vk/cargo-optee/internal/ctxlog"
	"github.com/vk/cargo-optee/internal/fsutil"
	"github.com/vk/cargo-optee/internal/target"
	"github.com/vk/cargo-optee/internal/toolchain"
	"github.com/zclconf/go-cty/cty"
)

// DefaultFile is the plan file looked up in the current directory.
const DefaultFile = "optee.hcl"

// fileRoot decodes all top-level blocks of a plan file.
type fileRoot struct {
	Components []*componentBlock `hcl:"component,block"`
}

type componentBlock struct {
	Kind string `hcl:"kind,label"`
	Name string `hcl:"name,label"`

	Path              *string           `hcl:"path,optional"`
	Arch              *string           `hcl:"arch,optional"`
	Debug             *bool             `hcl:"debug,optional"`
	Std               *bool             `hcl:"std,optional"`
	TADevKitDir       *string           `hcl:"ta_dev_kit_dir,optional"`
	OpteeClientExport *string           `hcl:"optee_client_export,optional"`
	SigningKey        *string           `hcl:"signing_key,optional"`
	UUIDPath          *string           `hcl:"uuid_path,optional"`
	Features          *string           `hcl:"features,optional"`
	NoDefaultFeatures *bool             `hcl:"no_default_features,optional"`
	Env               map[string]string `hcl:"env,optional"`
	DependsOn         []string          `hcl:"depends_on,optional"`
}

// Loader reads plan files.
type Loader struct {
	environ func() []string
}

// NewLoader creates a loader whose expressions see the process environment.
func NewLoader() *Loader {
	return &Loader{environ: os.Environ}
}

// Load parses the plan at path, which is either a single .hcl file or a
// directory whose .hcl files are all read, and validates the result.
func (l *Loader) Load(ctx context.Context, path string) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := l.findPlanFiles(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered plan files.", "count", len(files))

	evalCtx := l.evalContext()
	parser := hclparse.NewParser()

	var components []*Component
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse plan file %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode plan file %s: %w", file, diags)
		}

		for _, block := range root.Components {
			c, err := translateComponent(file, block)
			if err != nil {
				return nil, err
			}
			components = append(components, c)
		}
	}

	p, err := newPlan(components)
	if err != nil {
		return nil, err
	}
	logger.Debug("Plan loading complete.", "components", len(p.Components), "order", strings.Join(p.order, ","))
	return p, nil
}

// findPlanFiles returns path itself for a file, or every .hcl file below a
// directory.
func (l *Loader) findPlanFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plan file not found: %s", path)
		}
		return nil, fmt.Errorf("error accessing path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %s", path)
	}
	return files, nil
}

// evalContext exposes the process environment as env.NAME.
func (l *Loader) evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range l.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" || !hclsyntax.ValidIdentifier(key) {
			continue
		}
		env[key] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}

// translateComponent turns a decoded block into a Component, resolving
// relative paths against the directory of file.
func translateComponent(file string, b *componentBlock) (*Component, error) {
	kind, err := config.ParseKind(b.Kind)
	if err != nil {
		return nil, fmt.Errorf("%s: component %q: %w", file, b.Name, err)
	}
	if b.Name == "" {
		return nil, fmt.Errorf("%s: component of kind %q has an empty name", file, b.Kind)
	}

	base, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return nil, err
	}
	resolve := func(p *string) string {
		if p == nil || *p == "" {
			return ""
		}
		if filepath.IsAbs(*p) {
			return filepath.Clean(*p)
		}
		return filepath.Join(base, *p)
	}

	c := &Component{
		ID:        string(kind) + "." + b.Name,
		Kind:      kind,
		Name:      b.Name,
		Dir:       base,
		File:      file,
		DependsOn: b.DependsOn,
	}
	if dir := resolve(b.Path); dir != "" {
		c.Dir = dir
	}

	o := config.Overrides{
		Debug:             b.Debug,
		Std:               b.Std,
		TADevKitDir:       resolve(b.TADevKitDir),
		OpteeClientExport: resolve(b.OpteeClientExport),
		SigningKey:        resolve(b.SigningKey),
		UUIDPath:          resolve(b.UUIDPath),
		UUIDBase:          base,
	}
	if b.Arch != nil {
		arch, err := target.ParseArch(*b.Arch)
		if err != nil {
			return nil, fmt.Errorf("%s: component %s: %w", file, c.ID, err)
		}
		o.Arch = &arch
	}

	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		o.Env = append(o.Env, toolchain.EnvVar{Key: k, Value: b.Env[k]})
	}
	c.Overrides = o

	if b.Features != nil {
		c.Features = *b.Features
	}
	if b.NoDefaultFeatures != nil {
		c.NoDefaultFeatures = *b.NoDefaultFeatures
	}
	return c, nil
}
