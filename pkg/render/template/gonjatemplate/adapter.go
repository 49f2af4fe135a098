// Package gonjatemplate implements the template.TemplateRenderer contract on
// top of gonja, a Go port of Jinja.
package gonjatemplate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nikolalohinski/gonja/v2/builtins"
	gonjaconfig "github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/parser"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/goliatone/go-jinja/internal/loader"
	"github.com/goliatone/go-jinja/pkg/analysis"
	"github.com/goliatone/go-jinja/pkg/config"
	"github.com/goliatone/go-jinja/pkg/extensions"
	"github.com/goliatone/go-jinja/pkg/filters"
	"github.com/goliatone/go-jinja/pkg/logging"
	"github.com/goliatone/go-jinja/pkg/render/template"
	"github.com/goliatone/go-jinja/pkg/undefined"
)

// Engine is a fully built rendering environment: loader chain, undefined
// policy, filters, globals and a bounded cache of compiled file templates.
// Root templates are passed per call, so one Engine can serve concurrent
// renders.
type Engine struct {
	mu sync.RWMutex

	config *gonjaconfig.Config
	env    *exec.Environment
	chain  *loader.Chain
	policy undefined.Policy
	guard  *undefined.Guard
	cache  *lru.Cache[string, *compiled]
	logger logging.Logger

	stopTrace func()
}

type compiled struct {
	tpl *exec.Template
	// undeclared holds the names seeded with Null under the permissive
	// policy.
	undeclared []string
	// release drops the template's guarded nodes; nil under strict.
	release func()
}

// Ensure Engine implements the TemplateRenderer interface.
var (
	_ template.TemplateRenderer = (*Engine)(nil)
	_ io.Closer                 = (*Engine)(nil)
)

// New builds an Engine from cfg. Every step must succeed; the first failure
// is returned and no partially built Engine escapes.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	policy := undefined.FromNonStrict(cfg.NonStrict)
	gcfg := gonjaconfig.New()
	gcfg.StrictUndefined = policy.IsStrict()
	gcfg.TrimBlocks = cfg.TrimBlocks
	gcfg.LeftStripBlocks = cfg.LStripBlocks

	env := newEnvironment()
	if err := extensions.DisableOptionalTags(env.ControlStructures); err != nil {
		return nil, fmt.Errorf("gonjatemplate: %w", err)
	}

	chain, err := loader.New(cfg.SearchDirs)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *compiled](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("gonjatemplate: cache: %w", err)
	}

	if err := o.registry.Apply(env, cfg.Extensions); err != nil {
		return nil, err
	}

	if len(cfg.Globals) > 0 {
		env.Context.Update(exec.NewContext(cfg.Globals))
	}

	for _, key := range cfg.FilterNames() {
		f, err := filters.Compile(key, cfg.Filters[key], filters.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		if err := filters.Install(env.Filters, f); err != nil {
			return nil, fmt.Errorf("gonjatemplate: install filter %s: %w", f.Name, err)
		}
	}

	var guard *undefined.Guard
	if !policy.IsStrict() {
		guard = undefined.NewGuard()
		if err := installPermissive(env, guard); err != nil {
			return nil, err
		}
	}

	stop := func() {}
	if cfg.DebugTrace {
		stop = startTrace(o.traceOutput)
	}

	o.logger.Debug("environment built",
		"policy", policy.String(),
		"search_dirs", chain.SearchDirs(),
		"filters", len(cfg.Filters),
		"extensions", cfg.Extensions,
	)

	return &Engine{
		config: gcfg,
		env:    env,
		chain:  chain,
		policy:    policy,
		guard:     guard,
		cache:     cache,
		logger:    o.logger,
		stopTrace: stop,
	}, nil
}

// newEnvironment copies gonja's builtins into fresh sets so later
// registrations never leak into the package-level defaults.
func newEnvironment() *exec.Environment {
	return &exec.Environment{
		Filters:           exec.NewFilterSet(map[string]exec.FilterFunction{}).Update(builtins.Filters),
		Tests:             exec.NewTestSet(map[string]exec.TestFunction{}).Update(builtins.Tests),
		ControlStructures: exec.NewControlStructureSet(map[string]parser.ControlStructureParser{}).Update(builtins.ControlStructures),
		Context:           exec.EmptyContext().Update(builtins.GlobalFunctions).Update(builtins.GlobalVariables),
		Methods:           builtins.Methods,
	}
}

// installPermissive makes env treat Null the way the permissive policy
// wants: the defined tests see it as unset, default replaces it, numeric
// coercions and the guarded operations pass it through, and included
// templates get the same rewrite as the root.
func installPermissive(env *exec.Environment, guard *undefined.Guard) error {
	for name, fn := range undefined.Tests() {
		if err := env.Tests.Replace(name, fn); err != nil {
			return fmt.Errorf("gonjatemplate: permissive test %s: %w", name, err)
		}
	}
	for _, name := range []string{"default", "d"} {
		fn, ok := env.Filters.Get(name)
		if !ok {
			continue
		}
		if err := env.Filters.Replace(name, undefined.NilFilter(fn)); err != nil {
			return fmt.Errorf("gonjatemplate: permissive filter %s: %w", name, err)
		}
	}
	for _, name := range []string{"int", "float"} {
		fn, ok := env.Filters.Get(name)
		if !ok {
			continue
		}
		if err := env.Filters.Replace(name, undefined.AbsorbFilter(fn)); err != nil {
			return fmt.Errorf("gonjatemplate: permissive filter %s: %w", name, err)
		}
	}
	guard.Install(env.Context)
	return newNested(guard).install(env.ControlStructures)
}

// Close gives back what the engine holds outside itself: the process wide
// trace logger when debugTrace was on.
func (e *Engine) Close() error {
	if e != nil && e.stopTrace != nil {
		e.stopTrace()
	}
	return nil
}

// Policy reports the undefined policy the engine was built with.
func (e *Engine) Policy() undefined.Policy {
	return e.policy
}

// SearchDirs returns the absolute search directories.
func (e *Engine) SearchDirs() []string {
	return e.chain.SearchDirs()
}

// RenderString compiles templateContent and renders it. Text without template
// syntax is returned unchanged. Literal templates are not cached.
func (e *Engine) RenderString(templateContent string, data any, out ...io.Writer) (string, error) {
	if e == nil || e.env == nil {
		return "", errors.New("gonjatemplate: engine is nil")
	}
	if !template.IsMaybeTemplate(templateContent) {
		return writeAll(templateContent, out)
	}

	root, err := e.chain.StringRoot(templateContent)
	if err != nil {
		return "", err
	}
	c, err := e.compile(root, "")
	if err != nil {
		return "", err
	}
	if c.release != nil {
		defer c.release()
	}
	return e.execute(c, "", data, out)
}

// RenderFile resolves name as the root template and renders it. The root is
// looked up against the working directory before the search path; see
// loader.Chain.Root.
func (e *Engine) RenderFile(name string, data any, out ...io.Writer) (string, error) {
	if e == nil || e.env == nil {
		return "", errors.New("gonjatemplate: engine is nil")
	}

	root, err := e.chain.Root(name)
	if err != nil {
		return "", err
	}

	c, ok := e.cache.Get(root.ID)
	if !ok {
		if !template.IsMaybeTemplate(string(root.Source)) {
			return writeAll(string(root.Source), out)
		}
		c, err = e.compile(root, name)
		if err != nil {
			return "", err
		}
		e.cache.Add(root.ID, c)
	}
	return e.execute(c, name, data, out)
}

// RegisterFilter registers a Go filter. The first positional argument of the
// filter call is passed as param.
func (e *Engine) RegisterFilter(name string, fn func(input any, param any) (any, error)) error {
	name = strings.TrimSpace(name)
	if name == "" || fn == nil {
		return errors.New("gonjatemplate: filter name and function required")
	}
	if e.env.Filters.Exists(name) {
		return fmt.Errorf("gonjatemplate: filter %q already exists", name)
	}

	filter := func(_ *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
		var param any
		if params != nil && len(params.Args) > 0 {
			param = params.Args[0].Interface()
		}
		result, err := fn(in.Interface(), param)
		if err != nil {
			return exec.AsValue(fmt.Errorf("filter %s: %w", name, err))
		}
		return exec.AsValue(result)
	}
	return e.env.Filters.Register(name, filter)
}

// GlobalContext merges data into the global variables.
func (e *Engine) GlobalContext(data any) error {
	if e == nil || e.env == nil {
		return errors.New("gonjatemplate: engine is nil")
	}
	if data == nil {
		return nil
	}

	globals, err := convertToContext(data)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.env.Context.Update(exec.NewContext(globals))
	return nil
}

// compile parses root. display is the name errors report, empty for literal
// text.
func (e *Engine) compile(root *loader.Root, display string) (*compiled, error) {
	tpl, err := exec.NewTemplate(root.ID, e.config, root.Loader(), e.env)
	if err != nil {
		return nil, e.explainCompile(root, display, err)
	}

	c := &compiled{tpl: tpl}
	if !e.policy.IsStrict() {
		c.undeclared = e.undeclared(string(root.Source))
		c.release = e.guard.Rewrite(tpl.Root())
	}
	e.logger.Debug("template compiled", "template", root.ID, "seeded", len(c.undeclared))
	return c, nil
}

// undeclared lists the names the template and everything it statically
// references read without binding, minus globals. Analysis failures only
// cost the seeding; rendering still reports real errors.
func (e *Engine) undeclared(source string) []string {
	isGlobal := func(name string) bool {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.env.Context.Has(name)
	}

	names, err := analysis.FindUndeclaredFollowing(source, e.readSource, analysis.WithGlobals(isGlobal))
	if err != nil {
		e.logger.Debug("undeclared analysis failed", "error", err)
		return nil
	}
	return names
}

func (e *Engine) execute(c *compiled, rootName string, data any, out []io.Writer) (string, error) {
	values, err := convertToContext(data)
	if err != nil {
		return "", fmt.Errorf("gonjatemplate: convert data: %w", err)
	}
	if !e.policy.IsStrict() {
		e.mu.RLock()
		names := make([]string, 0, len(c.undeclared))
		for _, name := range c.undeclared {
			if !e.env.Context.Has(name) {
				names = append(names, name)
			}
		}
		e.mu.RUnlock()
		undefined.Seed(values, names)
	}

	var buf bytes.Buffer

	e.mu.RLock()
	err = c.tpl.Execute(&buf, exec.NewContext(values))
	e.mu.RUnlock()

	if err != nil {
		return "", e.explainRender(rootName, err)
	}
	return writeAll(buf.String(), out)
}

func writeAll(rendered string, out []io.Writer) (string, error) {
	for _, w := range out {
		if w == nil {
			continue
		}
		if _, err := io.WriteString(w, rendered); err != nil {
			return "", err
		}
	}
	return rendered, nil
}
