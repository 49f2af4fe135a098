// Package analysis finds the variables a template reads without ever binding,
// without executing it. Templates are parsed with the engine's own parser
// using analysis-only tag parsers, so includes and extends are never loaded.
package analysis

import (
	"github.com/nikolalohinski/gonja/v2/builtins"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/nodes"
	"github.com/nikolalohinski/gonja/v2/parser"
	"github.com/nikolalohinski/gonja/v2/tokens"
)

const identifier = "<analysis>"

// maxFollow bounds how many referenced templates FindUndeclaredFollowing
// reads.
const maxFollow = 256

// Report is the outcome of analysing one template.
type Report struct {
	// Undeclared lists the names read before any binding, sorted.
	Undeclared []string
	// References lists string-literal include, import and extends targets in
	// order of appearance.
	References []string
}

// Option configures an analysis.
type Option func(*options)

type options struct {
	globals []func(string) bool
}

// WithGlobals excludes names for which isGlobal reports true, on top of the
// engine's built-in global functions and variables.
func WithGlobals(isGlobal func(name string) bool) Option {
	return func(o *options) {
		if isGlobal != nil {
			o.globals = append(o.globals, isGlobal)
		}
	}
}

func (o options) isGlobal(name string) bool {
	if builtins.GlobalFunctions.Has(name) || builtins.GlobalVariables.Has(name) {
		return true
	}
	for _, fn := range o.globals {
		if fn(name) {
			return true
		}
	}
	return false
}

// Analyze parses source and reports its undeclared names and references.
func Analyze(source string, opts ...Option) (*Report, error) {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	tpl, err := parse(source)
	if err != nil {
		return nil, err
	}

	w := &walker{
		isGlobal:   o.isGlobal,
		undeclared: map[string]struct{}{},
	}
	root := newScope(nil)
	root.bind("self")
	w.nodes(root, tpl.Nodes)

	return &Report{
		Undeclared: w.sortedUndeclared(),
		References: w.references,
	}, nil
}

// FindUndeclared returns the sorted names source reads without binding.
func FindUndeclared(source string, opts ...Option) ([]string, error) {
	report, err := Analyze(source, opts...)
	if err != nil {
		return nil, err
	}
	return report.Undeclared, nil
}

// Reader returns the source of a referenced template.
type Reader func(name string) (string, error)

// FindUndeclaredFollowing analyses source and every template it references
// through string literals, transitively, and returns the union of their
// undeclared names. References read cannot resolve are skipped; rendering
// reports them.
func FindUndeclaredFollowing(source string, read Reader, opts ...Option) ([]string, error) {
	root, err := Analyze(source, opts...)
	if err != nil {
		return nil, err
	}

	names := map[string]struct{}{}
	for _, name := range root.Undeclared {
		names[name] = struct{}{}
	}

	seen := map[string]bool{}
	queue := append([]string(nil), root.References...)
	for len(queue) > 0 && len(seen) < maxFollow {
		ref := queue[0]
		queue = queue[1:]
		if seen[ref] {
			continue
		}
		seen[ref] = true

		src, err := read(ref)
		if err != nil {
			continue
		}
		report, err := Analyze(src, opts...)
		if err != nil {
			continue
		}
		for _, name := range report.Undeclared {
			names[name] = struct{}{}
		}
		queue = append(queue, report.References...)
	}

	w := walker{undeclared: names}
	return w.sortedUndeclared(), nil
}

func parse(source string) (*nodes.Template, error) {
	cfg := config.New()
	p := parser.NewParser(identifier, tokens.LexAll(source, cfg), cfg, nil, analysisTags())
	return p.Parse()
}
