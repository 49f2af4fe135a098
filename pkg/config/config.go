// Package config describes the render configuration consumed when an
// environment is built, plus JSON/YAML loading for files handed to the CLI.
package config

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Config is the immutable input of an environment build. The JSON and YAML
// keys match the wire names used by the job protocol.
type Config struct {
	// SearchDirs lists the directories templates are resolved against, in
	// priority order.
	SearchDirs []string `json:"searchDirs,omitempty" yaml:"searchDirs,omitempty"`
	// Globals are merged into the environment's global variables.
	Globals map[string]any `json:"globals,omitempty" yaml:"globals,omitempty"`
	// Filters maps "name" or "name:function" to Starlark source.
	Filters map[string]string `json:"filters,omitempty" yaml:"filters,omitempty"`
	// Extensions lists extension identifiers such as "jinja2.ext.do".
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	NonStrict    bool `json:"nonStrict,omitempty" yaml:"nonStrict,omitempty"`
	TrimBlocks   bool `json:"trimBlocks,omitempty" yaml:"trimBlocks,omitempty"`
	LStripBlocks bool `json:"lstripBlocks,omitempty" yaml:"lstripBlocks,omitempty"`
	DebugTrace   bool `json:"debugTrace,omitempty" yaml:"debugTrace,omitempty"`
}

// Option mutates a Config prior to use.
type Option func(*Config)

// New applies options to an empty Config.
func New(options ...Option) Config {
	cfg := Config{}
	cfg.Apply(options...)
	return cfg
}

// Apply runs options against cfg in order.
func (c *Config) Apply(options ...Option) {
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(c)
	}
}

// WithSearchDirs appends search directories.
func WithSearchDirs(dirs ...string) Option {
	return func(cfg *Config) {
		for _, dir := range dirs {
			if trimmed := strings.TrimSpace(dir); trimmed != "" {
				cfg.SearchDirs = append(cfg.SearchDirs, trimmed)
			}
		}
	}
}

// WithGlobals merges values into the global variable table. Later calls win.
func WithGlobals(values map[string]any) Option {
	return func(cfg *Config) {
		if len(values) == 0 {
			return
		}
		if cfg.Globals == nil {
			cfg.Globals = make(map[string]any, len(values))
		}
		for key, value := range values {
			cfg.Globals[strings.TrimSpace(key)] = value
		}
	}
}

// WithGlobal sets a single global variable.
func WithGlobal(name string, value any) Option {
	return WithGlobals(map[string]any{name: value})
}

// WithFilter registers filter source under name ("name" or "name:function").
func WithFilter(name, source string) Option {
	return func(cfg *Config) {
		if cfg.Filters == nil {
			cfg.Filters = make(map[string]string)
		}
		cfg.Filters[strings.TrimSpace(name)] = source
	}
}

// WithExtensions appends extension identifiers.
func WithExtensions(ids ...string) Option {
	return func(cfg *Config) {
		cfg.Extensions = append(cfg.Extensions, ids...)
	}
}

// WithNonStrict selects the permissive undefined policy.
func WithNonStrict(enabled bool) Option {
	return func(cfg *Config) { cfg.NonStrict = enabled }
}

// WithTrimBlocks removes the first newline after a block tag.
func WithTrimBlocks(enabled bool) Option {
	return func(cfg *Config) { cfg.TrimBlocks = enabled }
}

// WithLStripBlocks strips whitespace before a block tag on its line.
func WithLStripBlocks(enabled bool) Option {
	return func(cfg *Config) { cfg.LStripBlocks = enabled }
}

// WithDebugTrace turns on the engine's trace output.
func WithDebugTrace(enabled bool) Option {
	return func(cfg *Config) { cfg.DebugTrace = enabled }
}

// Validate reports structural problems that would make an environment build
// fail in a less readable way later on.
func (c Config) Validate() error {
	var errs []error
	for i, dir := range c.SearchDirs {
		if strings.TrimSpace(dir) == "" {
			errs = append(errs, fmt.Errorf("config: searchDirs[%d] is empty", i))
		}
	}
	for _, name := range c.FilterNames() {
		if strings.TrimSpace(strings.SplitN(name, ":", 2)[0]) == "" {
			errs = append(errs, fmt.Errorf("config: filter key %q has an empty name", name))
		}
	}
	for i, ext := range c.Extensions {
		if strings.TrimSpace(ext) == "" {
			errs = append(errs, fmt.Errorf("config: extensions[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// FilterNames returns the filter keys in a stable order so builds are
// deterministic.
func (c Config) FilterNames() []string {
	names := make([]string, 0, len(c.Filters))
	for name := range c.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy so per-call overrides never leak into the
// receiver.
func (c Config) Clone() Config {
	out := c
	out.SearchDirs = append([]string(nil), c.SearchDirs...)
	out.Extensions = append([]string(nil), c.Extensions...)
	if c.Filters != nil {
		out.Filters = maps.Clone(c.Filters)
	}
	if c.Globals != nil {
		out.Globals = cloneMap(c.Globals)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
