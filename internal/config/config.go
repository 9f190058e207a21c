// Package config holds the per-platform toolchain configuration of the
// extension builder.
//
// A Configuration is loaded once and never modified afterwards; it may be
// shared by any number of concurrently running builds.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/goplus/extender/internal/subst"
)

// DefaultBinaryName is the base name of the linked engine executable.
const DefaultBinaryName = "dmengine"

// Configuration is the complete toolchain configuration.
type Configuration struct {
	Platforms map[string]*Platform `yaml:"platforms"`
	// Vars are the named template variables available to every template.
	Vars map[string]interface{} `yaml:"context"`
	// ExportedSymbols are engine symbols registered after every extension symbol.
	ExportedSymbols []string `yaml:"exportedSymbols"`

	SDKVersion string `yaml:"sdkVersion"`
	Binary     string `yaml:"binaryName"`
	// MainTemplate and ExportedSymbolsTemplate override the built-in stub
	// sources. Relative paths are resolved against the configuration file.
	MainTemplate            string `yaml:"main"`
	ExportedSymbolsTemplate string `yaml:"exportedSymbolsTemplate"`
}

// Platform is the toolchain profile of one target platform.
type Platform struct {
	Compile  subst.Template `yaml:"compile"`
	Lib      subst.Template `yaml:"lib"`
	Link     subst.Template `yaml:"link"`
	Includes []string       `yaml:"includes"`
	ExeExt   string         `yaml:"exeExt"`

	// Fixed link inputs, exposed to the link template as
	// {{#libPaths}}, {{#libs}} and {{#frameworks}}.
	LibPaths   []string `yaml:"libPaths"`
	Libs       []string `yaml:"libs"`
	Frameworks []string `yaml:"frameworks"`

	Env       map[string]string `yaml:"env"`
	SplitMode subst.SplitMode   `yaml:"splitMode"`
}

// Context returns a fresh copy of the configured template variables.
func (c *Configuration) Context() subst.Context {
	ctx := make(subst.Context, len(c.Vars))
	for k, v := range c.Vars {
		ctx[k] = v
	}
	return ctx
}

// Platform returns the profile named name.
func (c *Configuration) Platform(name string) (*Platform, error) {
	p, ok := c.Platforms[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("unknown platform %q (available: %s)", name, strings.Join(c.PlatformNames(), ", "))
	}
	return p, nil
}

// PlatformNames returns the configured platform names, sorted.
func (c *Configuration) PlatformNames() []string {
	names := make([]string, 0, len(c.Platforms))
	for name := range c.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BinaryName returns the executable base name.
func (c *Configuration) BinaryName() string {
	if c.Binary == "" {
		return DefaultBinaryName
	}
	return c.Binary
}

// Validate checks that every platform can compile, archive and link.
func (c *Configuration) Validate() error {
	if len(c.Platforms) == 0 {
		return errors.New("no platforms configured")
	}
	var errs []error
	for _, name := range c.PlatformNames() {
		p := c.Platforms[name]
		if p == nil {
			errs = append(errs, fmt.Errorf("platform %s: empty profile", name))
			continue
		}
		if p.Compile.IsZero() {
			errs = append(errs, fmt.Errorf("platform %s: missing compile template", name))
		}
		if p.Lib.IsZero() {
			errs = append(errs, fmt.Errorf("platform %s: missing lib template", name))
		}
		if p.Link.IsZero() {
			errs = append(errs, fmt.Errorf("platform %s: missing link template", name))
		}
	}
	return errors.Join(errs...)
}

// Parse decodes configuration data. format is a file extension: "yaml",
// "yml", "json" or "toml".
func Parse(data []byte, format string) (*Configuration, error) {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml", "json", "":
	case "toml":
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return nil, err
		}
		if data, err = yaml.Marshal(tree.ToMap()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	var c Configuration
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses the configuration file at path. Stub template
// overrides are made absolute relative to the file's directory.
func Load(fs afero.Fs, path string) (*Configuration, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for _, p := range []*string{&c.MainTemplate, &c.ExportedSymbolsTemplate} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return c, nil
}
