package render

import (
	"github.com/goliatone/go-jinja/pkg/config"
	"github.com/goliatone/go-jinja/pkg/logging"
	"github.com/goliatone/go-jinja/pkg/render/template"
	"github.com/goliatone/go-jinja/pkg/render/template/gonjatemplate"
)

// EngineFactory builds the rendering environment for one batch.
type EngineFactory func(cfg config.Config, logger logging.Logger) (template.TemplateRenderer, error)

// GonjaFactory is the default EngineFactory.
func GonjaFactory(cfg config.Config, logger logging.Logger) (template.TemplateRenderer, error) {
	return gonjatemplate.New(cfg, gonjatemplate.WithLogger(logger))
}

// GoFilter is a filter implemented in Go. param is the first filter
// argument, nil when none is given.
type GoFilter func(input any, param any) (any, error)

type goFilter struct {
	name string
	fn   GoFilter
}

// TraceKind tells a request trace from a response trace.
type TraceKind string

const (
	TraceRequest  TraceKind = "request"
	TraceResponse TraceKind = "response"
)

// TraceEvent is handed to trace hooks once before a batch runs and once after.
type TraceEvent struct {
	Kind    TraceKind
	BatchID string
	Mode    Mode
	Config  config.Config
	Items   []string
	// Results is set on response events only.
	Results []Result
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger routes dispatcher logs to logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logging.OrNop(logger)
	}
}

// WithEngineFactory replaces GonjaFactory.
func WithEngineFactory(factory EngineFactory) Option {
	return func(d *Dispatcher) {
		if factory != nil {
			d.factory = factory
		}
	}
}

// WithTrace registers a hook receiving every request and response.
func WithTrace(hook func(TraceEvent)) Option {
	return func(d *Dispatcher) {
		if hook != nil {
			d.traces = append(d.traces, hook)
		}
	}
}

// WithGoFilter registers fn under name on every environment the dispatcher
// builds. A name that collides with an existing filter fails the batch.
func WithGoFilter(name string, fn GoFilter) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.filters = append(d.filters, goFilter{name: name, fn: fn})
		}
	}
}

// WithGoGlobals merges data (a map or struct) into the globals of every
// environment, after the configured globals.
func WithGoGlobals(data any) Option {
	return func(d *Dispatcher) {
		if data != nil {
			d.globals = append(d.globals, data)
		}
	}
}
