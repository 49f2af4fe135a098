package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-jinja/pkg/analysis"
	"github.com/goliatone/go-jinja/pkg/config"
	"github.com/goliatone/go-jinja/pkg/logging"
	"github.com/goliatone/go-jinja/pkg/render/template"
)

// Mode selects what a batch does with its items.
type Mode string

const (
	ModeRenderStrings Mode = "render_strings"
	ModeRenderFiles   Mode = "render_files"
	ModeFindVariables Mode = "find_variables"
)

// ParseMode accepts the wire names plus the short CLI forms strings, files
// and vars.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "render_strings", "strings":
		return ModeRenderStrings, nil
	case "render_files", "files":
		return ModeRenderFiles, nil
	case "find_variables", "vars", "variables":
		return ModeFindVariables, nil
	default:
		return "", fmt.Errorf("render: unknown mode %q", raw)
	}
}

// Dispatcher runs batches. It holds no per-batch state: each Run builds its
// own environment.
type Dispatcher struct {
	factory EngineFactory
	logger  logging.Logger
	traces  []func(TraceEvent)
	filters []goFilter
	globals []any
}

// NewDispatcher returns a Dispatcher backed by GonjaFactory unless overridden.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		factory: GonjaFactory,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Run processes items in order and returns one Result per item. The
// environment is built once, before any item runs; if that fails every slot
// carries the same raw message. Item failures never affect other items. A
// cancelled ctx fails the items not yet started.
func (d *Dispatcher) Run(ctx context.Context, cfg config.Config, mode Mode, items []string) (results []Result) {
	if ctx == nil {
		ctx = context.Background()
	}
	batchID := uuid.NewString()
	started := time.Now()

	d.emit(TraceEvent{Kind: TraceRequest, BatchID: batchID, Mode: mode, Config: cfg, Items: items})
	defer func() {
		if r := recover(); r != nil {
			results = FanOut(fmt.Errorf("render: internal error: %v", r), len(items))
		}
		d.emit(TraceEvent{Kind: TraceResponse, BatchID: batchID, Mode: mode, Config: cfg, Items: items, Results: results})
		d.logger.Info("batch finished",
			"batch_id", batchID,
			"mode", string(mode),
			"items", len(items),
			"failed", countFailed(results),
			"duration", time.Since(started),
		)
	}()

	run, done, err := d.prepare(cfg, mode)
	if err != nil {
		d.logger.Warn("batch setup failed", "batch_id", batchID, "error", err)
		return FanOut(err, len(items))
	}
	defer done()

	results = make([]Result, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(items); j++ {
				results[j] = Failure(StructuredError{Message: err.Error()})
			}
			break
		}
		results[i] = runItem(run, item)
		d.logger.Debug("item processed", "batch_id", batchID, "index", i, "ok", results[i].OK())
	}
	return results
}

// prepare builds the environment and returns the per-item step plus the
// func that releases the environment. find_variables builds it too, so a
// configuration that cannot be built fails that mode the same way, even
// though analysis never renders.
func (d *Dispatcher) prepare(cfg config.Config, mode Mode) (run func(string) (string, error), done func(), err error) {
	switch mode {
	case ModeRenderStrings, ModeRenderFiles, ModeFindVariables:
	default:
		return nil, nil, fmt.Errorf("render: unknown mode %q", mode)
	}

	engine, err := d.factory(cfg, d.logger)
	if err != nil {
		return nil, nil, err
	}
	done = func() { d.release(engine) }
	if err := d.extend(engine); err != nil {
		done()
		return nil, nil, err
	}

	switch mode {
	case ModeFindVariables:
		return findVariables, done, nil
	case ModeRenderFiles:
		return func(name string) (string, error) { return engine.RenderFile(name, nil) }, done, nil
	default:
		return func(text string) (string, error) { return renderString(engine, text) }, done, nil
	}
}

// extend adds the Go filters and globals registered on the dispatcher.
func (d *Dispatcher) extend(engine template.TemplateRenderer) error {
	for _, f := range d.filters {
		if err := engine.RegisterFilter(f.name, f.fn); err != nil {
			return err
		}
	}
	for _, data := range d.globals {
		if err := engine.GlobalContext(data); err != nil {
			return err
		}
	}
	return nil
}

// release closes engines that hold resources beyond the batch.
func (d *Dispatcher) release(engine template.TemplateRenderer) {
	closer, ok := engine.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		d.logger.Warn("engine close failed", "error", err)
	}
}

func renderString(engine template.TemplateRenderer, text string) (string, error) {
	if !template.IsMaybeTemplate(text) {
		return text, nil
	}
	return engine.RenderString(text, nil)
}

// findVariables returns the JSON array of names text reads without binding.
// The text is analysed on its own; referenced templates are not followed.
func findVariables(text string) (string, error) {
	names, err := analysis.FindUndeclared(text)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(names)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func runItem(run func(string) (string, error), item string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Failure(StructuredError{Message: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	out, err := run(item)
	if err != nil {
		return Failure(Extract(err))
	}
	return Success(out)
}

func (d *Dispatcher) emit(event TraceEvent) {
	for _, hook := range d.traces {
		hook(event)
	}
}

func countFailed(results []Result) int {
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	return failed
}
