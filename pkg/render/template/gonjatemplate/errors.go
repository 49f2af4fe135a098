package gonjatemplate

import (
	"io"
	"regexp"
	"strings"

	"github.com/nikolalohinski/gonja/v2/loaders"
	"github.com/nikolalohinski/gonja/v2/parser"
	"github.com/nikolalohinski/gonja/v2/tokens"

	"github.com/goliatone/go-jinja/internal/loader"
	"github.com/goliatone/go-jinja/pkg/render/template"
)

// nestedParseFailure matches gonja's report of an included or imported
// template that did not parse. gonja flattens that error into text carrying
// the whole template source.
var nestedParseFailure = regexp.MustCompile(`unable to load template '([^']*)': failed to parse template`)

// parseLine matches a parser error that points at a real line. Errors raised
// once the input ran out carry no token, or the EOF token at line 0.
var parseLine = regexp.MustCompile(`\(Line: [1-9]\d* Col:`)

// explainCompile replaces gonja's compile error, which embeds the template
// source, with the parser's own error for the same input.
func (e *Engine) explainCompile(root *loader.Root, display string, err error) error {
	if perr := e.parse(root.ID, string(root.Source), root.Loader()); perr != nil {
		err = perr
	}
	return &template.TemplateError{Template: display, Cause: err}
}

func (e *Engine) explainRender(rootName string, err error) error {
	if nested := e.explainNested(err); nested != nil {
		err = nested
	}
	return &template.TemplateError{Template: rootName, Cause: err}
}

// explainNested re-parses a nested template named in a load failure and
// returns its parse error attributed to it, or nil.
func (e *Engine) explainNested(err error) error {
	m := nestedParseFailure.FindStringSubmatch(err.Error())
	if m == nil {
		return nil
	}
	name := m[1]
	source, rerr := e.readSource(name)
	if rerr != nil {
		return nil
	}
	perr := e.parse(name, source, e.chain)
	if perr == nil {
		return nil
	}
	return &template.TemplateError{Template: e.chain.Name(name), Cause: perr}
}

func (e *Engine) parse(id, source string, ldr loaders.Loader) error {
	p := parser.NewParser(id, tokens.LexAll(source, e.config), e.config, ldr, e.env.ControlStructures)
	_, err := p.Parse()
	if err == nil || parseLine.MatchString(err.Error()) {
		return err
	}
	return &template.TemplateError{Line: lastLine(source), Cause: err}
}

// lastLine is the 1-based line holding the last non-blank character.
func lastLine(source string) int {
	return strings.Count(strings.TrimRight(source, " \t\r\n"), "\n") + 1
}

func (e *Engine) readSource(name string) (string, error) {
	r, err := e.chain.Read(name)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
