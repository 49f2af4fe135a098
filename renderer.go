// Package jinja renders batches of Jinja style templates. Each batch is
// processed in order and yields one result per item; a failing item never
// affects the others.
package jinja

import (
	"context"
	"encoding/json"

	"github.com/goliatone/go-jinja/pkg/config"
	"github.com/goliatone/go-jinja/pkg/logging"
	"github.com/goliatone/go-jinja/pkg/render"
)

// Config aliases config.Config so callers can build one without importing the
// subpackage.
type Config = config.Config

// Result is the outcome of one batch item.
type Result = render.Result

// StructuredError describes a failed item.
type StructuredError = render.StructuredError

// TraceEvent is passed to hooks registered with WithTrace.
type TraceEvent = render.TraceEvent

// GoFilter is a filter implemented in Go, registered with WithGoFilter.
type GoFilter = render.GoFilter

type settings struct {
	config  config.Config
	logger  logging.Logger
	traces  []func(TraceEvent)
	factory render.EngineFactory
	// extra dispatcher options: Go filters and Go globals, in call order.
	extra []render.Option
}

func (s settings) clone() settings {
	s.config = s.config.Clone()
	s.traces = append([]func(TraceEvent){}, s.traces...)
	s.extra = append([]render.Option{}, s.extra...)
	return s
}

// Option configures a Renderer, or a single call when passed to one of its
// methods.
type Option func(*settings)

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		s.config = cfg.Clone()
	}
}

// WithSearchDirs appends template search directories.
func WithSearchDirs(dirs ...string) Option {
	return configOption(config.WithSearchDirs(dirs...))
}

// WithGlobals merges values into the global variables.
func WithGlobals(values map[string]any) Option {
	return configOption(config.WithGlobals(values))
}

// WithGlobal sets a single global variable.
func WithGlobal(name string, value any) Option {
	return configOption(config.WithGlobal(name, value))
}

// WithFilter registers filter code under name ("name" or "name:function").
func WithFilter(name, source string) Option {
	return configOption(config.WithFilter(name, source))
}

// WithExtensions enables extensions by id.
func WithExtensions(ids ...string) Option {
	return configOption(config.WithExtensions(ids...))
}

// WithNonStrict switches undefined variables to the permissive policy.
func WithNonStrict(enabled bool) Option {
	return configOption(config.WithNonStrict(enabled))
}

// WithTrimBlocks drops the first newline after a block tag.
func WithTrimBlocks(enabled bool) Option {
	return configOption(config.WithTrimBlocks(enabled))
}

// WithLStripBlocks strips spaces and tabs from the start of a line up to a
// block tag.
func WithLStripBlocks(enabled bool) Option {
	return configOption(config.WithLStripBlocks(enabled))
}

// WithGoFilter registers a filter written in Go next to the configured
// filter code. Registering a name that already exists fails the batch.
func WithGoFilter(name string, fn GoFilter) Option {
	return func(s *settings) {
		if fn != nil {
			s.extra = append(s.extra, render.WithGoFilter(name, fn))
		}
	}
}

// WithGoGlobals merges a map or struct into the global variables. Unlike
// WithGlobals the values are not copied into Config, so they may hold
// functions and other values the wire format cannot carry.
func WithGoGlobals(data any) Option {
	return func(s *settings) {
		if data != nil {
			s.extra = append(s.extra, render.WithGoGlobals(data))
		}
	}
}

// WithDebugTrace turns on gonja's own trace logging.
func WithDebugTrace(enabled bool) Option {
	return configOption(config.WithDebugTrace(enabled))
}

// WithLogger routes library logs to logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *settings) {
		s.logger = logging.OrNop(logger)
	}
}

// WithTrace registers a hook called before and after every batch.
func WithTrace(hook func(TraceEvent)) Option {
	return func(s *settings) {
		if hook != nil {
			s.traces = append(s.traces, hook)
		}
	}
}

// WithEngineFactory swaps the rendering engine.
func WithEngineFactory(factory render.EngineFactory) Option {
	return func(s *settings) {
		if factory != nil {
			s.factory = factory
		}
	}
}

func configOption(opt config.Option) Option {
	return func(s *settings) {
		s.config.Apply(opt)
	}
}

// Renderer holds default settings. It is safe for concurrent use: every call
// works on its own copy and builds its own environment.
type Renderer struct {
	defaults settings
}

// New returns a Renderer with strict undefined handling and no search
// directories unless configured otherwise.
func New(opts ...Option) *Renderer {
	s := settings{
		config:  config.New(),
		logger:  logging.Nop(),
		factory: render.GonjaFactory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return &Renderer{defaults: s}
}

// Config returns a copy of the default configuration.
func (r *Renderer) Config() Config {
	return r.defaults.config.Clone()
}

// RenderStrings renders each item as template source.
func (r *Renderer) RenderStrings(ctx context.Context, items []string, opts ...Option) []Result {
	return r.run(ctx, render.ModeRenderStrings, items, opts)
}

// RenderFiles renders each item as a template name.
func (r *Renderer) RenderFiles(ctx context.Context, items []string, opts ...Option) []Result {
	return r.run(ctx, render.ModeRenderFiles, items, opts)
}

// FindVariables reports, per item, the JSON array of variables the template
// reads without defining. Each item is analysed on its own.
func (r *Renderer) FindVariables(ctx context.Context, items []string, opts ...Option) []Result {
	return r.run(ctx, render.ModeFindVariables, items, opts)
}

// RenderString renders a single template string. The error, if any, is a
// *StructuredError.
func (r *Renderer) RenderString(ctx context.Context, text string, opts ...Option) (string, error) {
	return single(r.RenderStrings(ctx, []string{text}, opts...))
}

// RenderFile renders a single named template. The error, if any, is a
// *StructuredError.
func (r *Renderer) RenderFile(ctx context.Context, name string, opts ...Option) (string, error) {
	return single(r.RenderFiles(ctx, []string{name}, opts...))
}

func (r *Renderer) run(ctx context.Context, mode render.Mode, items []string, opts []Option) []Result {
	s := r.resolve(opts)
	return s.dispatcher().Run(ctx, s.config, mode, items)
}

func (r *Renderer) resolve(opts []Option) settings {
	s := r.defaults.clone()
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

func (s settings) dispatcher() *render.Dispatcher {
	opts := []render.Option{
		render.WithLogger(s.logger),
		render.WithEngineFactory(s.factory),
	}
	for _, hook := range s.traces {
		opts = append(opts, render.WithTrace(hook))
	}
	opts = append(opts, s.extra...)
	return render.NewDispatcher(opts...)
}

func single(results []Result) (string, error) {
	if len(results) != 1 {
		return "", &StructuredError{Message: "jinja: expected exactly one result"}
	}
	if !results[0].OK() {
		return "", results[0].Err
	}
	return results[0].Value, nil
}

// MarshalResults encodes results in the wire shape: a JSON array of
// {"result": "..."} or {"error": {"message": ..., "templateName": ...,
// "lineNumber": ...}} objects.
func MarshalResults(results []Result) ([]byte, error) {
	if results == nil {
		results = []Result{}
	}
	return json.Marshal(results)
}
