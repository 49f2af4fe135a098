package gonjatemplate

import (
	"io"
	"os"

	"github.com/goliatone/go-jinja/pkg/extensions"
	"github.com/goliatone/go-jinja/pkg/logging"
)

// DefaultCacheSize bounds the compiled-template cache of an Engine.
const DefaultCacheSize = 10000

// Option configures the engine before construction.
type Option func(*options)

type options struct {
	logger      logging.Logger
	registry    *extensions.Registry
	cacheSize   int
	traceOutput io.Writer
}

func defaultOptions() *options {
	return &options{
		logger:      logging.Nop(),
		registry:    extensions.Default(),
		cacheSize:   DefaultCacheSize,
		traceOutput: os.Stderr,
	}
}

// WithLogger routes engine and filter logs to logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logging.OrNop(logger)
	}
}

// WithExtensionRegistry resolves extension identifiers against registry
// instead of extensions.Default().
func WithExtensionRegistry(registry *extensions.Registry) Option {
	return func(o *options) {
		if registry != nil {
			o.registry = registry
		}
	}
}

// WithCacheSize overrides DefaultCacheSize. Non-positive sizes are ignored.
func WithCacheSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.cacheSize = size
		}
	}
}

// WithTraceOutput sets where engine tracing goes when the configuration asks
// for debugTrace. Defaults to stderr.
func WithTraceOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.traceOutput = w
		}
	}
}
