package analysis

import (
	"fmt"

	"github.com/nikolalohinski/gonja/v2/nodes"
	"github.com/nikolalohinski/gonja/v2/parser"
	"github.com/nikolalohinski/gonja/v2/tokens"
	"github.com/pkg/errors"
)

// tagSet resolves tag names to analysis parsers. Unlike the engine's own
// parsers these never touch a loader and keep every expression around so the
// walk can see reads and binds.
type tagSet map[string]parser.ControlStructureParser

func (t tagSet) Get(name string) (parser.ControlStructureParser, bool) {
	fn, ok := t[name]
	return fn, ok
}

var _ parser.ControlStructureGetter = tagSet(nil)

func analysisTags() tagSet {
	return tagSet{
		"autoescape": parseScoped("autoescape", "endautoescape"),
		"block":      parseBlock,
		"break":      parseNoArgs("break"),
		"call":       parseCall,
		"continue":   parseNoArgs("continue"),
		"do":         parseDo,
		"extends":    parseExtends,
		"filter":     parseFilterBlock,
		"for":        parseFor,
		"from":       parseFrom,
		"if":         parseIf,
		"import":     parseImport,
		"include":    parseInclude,
		"macro":      parseMacro,
		"raw":        parseRaw,
		"set":        parseSet,
		"trans":      parseTrans,
		"with":       parseWith,
	}
}

type tag struct {
	name string
	loc  *tokens.Token
}

func at(p *parser.Parser, name string) tag {
	return tag{name: name, loc: p.Current()}
}

func (t tag) Position() *tokens.Token { return t.loc }

func (t tag) String() string {
	if t.loc == nil {
		return fmt.Sprintf("%s()", t.name)
	}
	return fmt.Sprintf("%s(Line=%d Col=%d)", t.name, t.loc.Line, t.loc.Col)
}

type setNode struct {
	tag
	names   []string
	targets []nodes.Expression
	values  []nodes.Expression
	cond    nodes.Expression
	alt     nodes.Expression
	filters []*nodes.FilterCall
	body    *nodes.Wrapper
}

type forNode struct {
	tag
	targets  []string
	iter     nodes.Expression
	cond     nodes.Expression
	body     *nodes.Wrapper
	elseBody *nodes.Wrapper
}

type ifNode struct {
	tag
	conds    []nodes.Expression
	branches []*nodes.Wrapper
	hasElse  bool
}

type withNode struct {
	tag
	names  []string
	values []nodes.Expression
	body   *nodes.Wrapper
}

type macroNode struct {
	tag
	name     string
	params   []string
	defaults []nodes.Expression
	body     *nodes.Wrapper
}

type callNode struct {
	tag
	params []string
	call   nodes.Expression
	body   *nodes.Wrapper
}

type filterNode struct {
	tag
	filters []*nodes.FilterCall
	body    *nodes.Wrapper
}

type blockNode struct {
	tag
	body *nodes.Wrapper
}

type scopedNode struct {
	tag
	body *nodes.Wrapper
}

type refNode struct {
	tag
	template nodes.Expression
	binds    []string
}

type exprNode struct {
	tag
	expr nodes.Expression
}

type emptyNode struct {
	tag
}

type transNode struct {
	tag
	names  []string
	values []nodes.Expression
	bodies []*nodes.Wrapper
}

func parseNoArgs(name string) parser.ControlStructureParser {
	return func(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
		node := &emptyNode{tag: at(p, name)}
		if !args.End() {
			return nil, args.Error(fmt.Sprintf("%s does not accept arguments", name), args.Current())
		}
		return node, nil
	}
}

func parseSet(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &setNode{tag: at(p, "set")}

	for {
		target, err := args.ParseVariableOrLiteral()
		if err != nil {
			return nil, errors.Wrap(err, `unable to parse identifier`)
		}
		switch n := target.(type) {
		case *nodes.Name:
			node.names = append(node.names, n.Name.Val)
		case *nodes.GetAttribute, *nodes.GetItem:
			node.targets = append(node.targets, n)
		default:
			return nil, errors.Errorf(`unexpected set target %s`, n)
		}
		if args.Match(tokens.Comma) == nil {
			break
		}
	}

	if args.Match(tokens.Assign) == nil {
		for args.Match(tokens.Pipe) != nil {
			filter, err := args.ParseFilter()
			if err != nil {
				return nil, err
			}
			node.filters = append(node.filters, filter)
		}
		if !args.End() {
			return nil, args.Error("Expected '=' or end of tag for block-set.", args.Current())
		}
		wrapper, _, err := p.WrapUntil("endset")
		if err != nil {
			return nil, err
		}
		node.body = wrapper
		return node, nil
	}

	for {
		value, err := args.ParseExpression()
		if err != nil {
			return nil, err
		}
		node.values = append(node.values, value)
		if args.Match(tokens.Comma) == nil {
			break
		}
	}

	cond, alt, err := args.ParseCondition()
	if err != nil {
		return nil, err
	}
	node.cond, node.alt = cond, alt

	if !args.End() {
		return nil, args.Error("Malformed 'set' tag args.", args.Current())
	}
	return node, nil
}

func parseFor(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &forNode{tag: at(p, "for")}

	for {
		target := args.Match(tokens.Name)
		if target == nil {
			return nil, args.Error("Expected an identifier as loop target.", args.Current())
		}
		node.targets = append(node.targets, target.Val)
		if args.Match(tokens.Comma) == nil {
			break
		}
	}
	if args.Match(tokens.In) == nil {
		return nil, args.Error("Expected keyword 'in'.", args.Current())
	}

	iter, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.iter = iter

	if args.MatchName("if") != nil {
		cond, err := args.ParseExpression()
		if err != nil {
			return nil, err
		}
		node.cond = cond
	}
	args.MatchName("recursive")
	if !args.End() {
		return nil, args.Error("Malformed for-loop args.", args.Current())
	}

	wrapper, _, err := p.WrapUntil("else", "endfor")
	if err != nil {
		return nil, err
	}
	node.body = wrapper
	if wrapper.EndTag == "else" {
		wrapper, _, err = p.WrapUntil("endfor")
		if err != nil {
			return nil, err
		}
		node.elseBody = wrapper
	}
	return node, nil
}

func parseIf(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &ifNode{tag: at(p, "if")}

	cond, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.conds = append(node.conds, cond)
	if !args.End() {
		return nil, args.Error("If-condition is malformed.", args.Current())
	}

	for {
		wrapper, tagArgs, err := p.WrapUntil("elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		node.branches = append(node.branches, wrapper)

		switch wrapper.EndTag {
		case "elif":
			cond, err := tagArgs.ParseExpression()
			if err != nil {
				return nil, err
			}
			node.conds = append(node.conds, cond)
		case "else":
			node.hasElse = true
		case "endif":
			return node, nil
		}
	}
}

func parseWith(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &withNode{tag: at(p, "with")}

	for !args.End() {
		key := args.Match(tokens.Name)
		if key == nil {
			return nil, args.Error("Expected an identifier", args.Current())
		}
		if args.Match(tokens.Assign) == nil {
			return nil, args.Error("Expected '='.", args.Current())
		}
		value, err := args.ParseExpression()
		if err != nil {
			return nil, err
		}
		node.names = append(node.names, key.Val)
		node.values = append(node.values, value)
		if args.Match(tokens.Comma) == nil {
			break
		}
	}
	if !args.End() {
		return nil, args.Error("Malformed with-tag args.", args.Current())
	}

	wrapper, _, err := p.WrapUntil("endwith")
	if err != nil {
		return nil, err
	}
	node.body = wrapper
	return node, nil
}

func parseMacro(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &macroNode{tag: at(p, "macro")}

	name := args.Match(tokens.Name)
	if name == nil {
		return nil, args.Error("Macro-tag needs at least an identifier as name.", args.Current())
	}
	node.name = name.Val

	params, defaults, err := parseParams(args)
	if err != nil {
		return nil, err
	}
	node.params, node.defaults = params, defaults
	if !args.End() {
		return nil, args.Error("Malformed macro-tag.", args.Current())
	}

	wrapper, _, err := p.WrapUntil("endmacro")
	if err != nil {
		return nil, err
	}
	node.body = wrapper
	return node, nil
}

// parseParams reads a parenthesised parameter list including *args, **kwargs
// and defaults.
func parseParams(args *parser.Parser) ([]string, []nodes.Expression, error) {
	if args.Match(tokens.LeftParenthesis) == nil {
		return nil, nil, args.Error("Expected '('.", args.Current())
	}
	var (
		params   []string
		defaults []nodes.Expression
	)
	for args.Match(tokens.RightParenthesis) == nil {
		args.Match(tokens.Power, tokens.Multiply)
		param := args.Match(tokens.Name)
		if param == nil {
			return nil, nil, args.Error("Expected argument name as identifier.", args.Current())
		}
		params = append(params, param.Val)
		if args.Match(tokens.Assign) != nil {
			value, err := args.ParseExpression()
			if err != nil {
				return nil, nil, err
			}
			defaults = append(defaults, value)
		}
		if args.Match(tokens.RightParenthesis) != nil {
			break
		}
		if args.Match(tokens.Comma) == nil {
			return nil, nil, args.Error("Expected ',' or ')'.", args.Current())
		}
	}
	return params, defaults, nil
}

func parseCall(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &callNode{tag: at(p, "call")}

	if args.Current(tokens.LeftParenthesis) != nil {
		params, defaults, err := parseParams(args)
		if err != nil {
			return nil, err
		}
		if len(defaults) > 0 {
			return nil, args.Error("Caller parameters take no defaults.", args.Current())
		}
		node.params = params
	}

	call, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.call = call
	if !args.End() {
		return nil, args.Error("Malformed call-tag arguments.", args.Current())
	}

	wrapper, _, err := p.WrapUntil("endcall")
	if err != nil {
		return nil, err
	}
	node.body = wrapper
	return node, nil
}

func parseFilterBlock(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &filterNode{tag: at(p, "filter")}

	for !args.End() {
		filter, err := args.ParseFilter()
		if err != nil {
			return nil, err
		}
		node.filters = append(node.filters, filter)
		if args.Match(tokens.Pipe) == nil {
			break
		}
	}
	if !args.End() {
		return nil, args.Error("Malformed filter-tag args.", args.Current())
	}

	wrapper, _, err := p.WrapUntil("endfilter")
	if err != nil {
		return nil, err
	}
	node.body = wrapper
	return node, nil
}

func parseBlock(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &blockNode{tag: at(p, "block")}

	if args.Match(tokens.Name) == nil {
		return nil, args.Error("Tag 'block' requires an identifier.", args.Current())
	}
	for args.MatchName("scoped", "required") != nil {
	}
	if !args.End() {
		return nil, args.Error("Malformed block-tag args.", args.Current())
	}

	wrapper, _, err := p.WrapUntil("endblock")
	if err != nil {
		return nil, err
	}
	node.body = wrapper
	return node, nil
}

func parseScoped(name, end string) parser.ControlStructureParser {
	return func(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
		node := &scopedNode{tag: at(p, name)}
		for !args.End() {
			args.Consume()
		}
		wrapper, _, err := p.WrapUntil(end)
		if err != nil {
			return nil, err
		}
		node.body = wrapper
		return node, nil
	}
}

func parseRaw(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &emptyNode{tag: at(p, "raw")}
	if _, _, err := p.WrapUntil("endraw"); err != nil {
		return nil, err
	}
	if !args.End() {
		return nil, args.Error("raw controlStructure doesn't accept parameters.", args.Current())
	}
	return node, nil
}

// skipContext consumes a trailing "with context" or "without context".
func skipContext(args *parser.Parser) {
	if args.MatchName("with", "without") != nil {
		if args.MatchName("context") == nil {
			args.Stream().Backup()
		}
	}
}

func parseExtends(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &refNode{tag: at(p, "extends")}
	template, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.template = template
	if !args.End() {
		return nil, args.Error("tag 'extends' only takes 1 argument", args.Current())
	}
	return node, nil
}

func parseInclude(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &refNode{tag: at(p, "include")}
	template, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.template = template

	if args.MatchName("ignore") != nil {
		if args.MatchName("missing") == nil {
			args.Stream().Backup()
		}
	}
	skipContext(args)
	if !args.End() {
		return nil, args.Error("Malformed 'include'-tag args.", args.Current())
	}
	return node, nil
}

func parseImport(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &refNode{tag: at(p, "import")}
	template, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.template = template

	if args.MatchName("as") == nil {
		return nil, args.Error(`Expected "as" keyword`, args.Current())
	}
	alias := args.Match(tokens.Name)
	if alias == nil {
		return nil, args.Error("Expected macro alias name (identifier)", args.Current())
	}
	node.binds = []string{alias.Val}
	skipContext(args)
	if !args.End() {
		return nil, args.Error("Malformed 'import'-tag args.", args.Current())
	}
	return node, nil
}

func parseFrom(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &refNode{tag: at(p, "from")}
	template, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.template = template

	if args.MatchName("import") == nil {
		return nil, args.Error("Expected import keyword", args.Current())
	}
	for !args.End() {
		name := args.Match(tokens.Name)
		if name == nil {
			return nil, args.Error("Expected macro name (identifier).", args.Current())
		}
		bind := name.Val
		if args.MatchName("as") != nil {
			alias := args.Match(tokens.Name)
			if alias == nil {
				return nil, args.Error("Expected macro alias name (identifier).", args.Current())
			}
			bind = alias.Val
		}
		node.binds = append(node.binds, bind)

		skipContext(args)
		if args.Match(tokens.Comma) == nil {
			break
		}
	}
	if !args.End() {
		return nil, args.Error("Malformed 'from'-tag args.", args.Current())
	}
	return node, nil
}

func parseDo(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &exprNode{tag: at(p, "do")}
	expr, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	node.expr = expr
	if !args.End() {
		return nil, args.Error("Malformed do-tag args.", args.Current())
	}
	return node, nil
}

func parseTrans(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	node := &transNode{tag: at(p, "trans")}

	for !args.End() {
		name := args.Match(tokens.Name)
		if name == nil {
			return nil, args.Error("expected an identifier in trans arguments", args.Current())
		}
		node.names = append(node.names, name.Val)
		if args.Match(tokens.Assign) != nil {
			value, err := args.ParseExpression()
			if err != nil {
				return nil, err
			}
			node.values = append(node.values, value)
		} else {
			node.values = append(node.values, &nodes.Name{Name: name})
		}
		args.Match(tokens.Comma)
	}

	wrapper, _, err := p.WrapUntil("pluralize", "endtrans")
	if err != nil {
		return nil, err
	}
	node.bodies = append(node.bodies, wrapper)
	if wrapper.EndTag == "pluralize" {
		plural, _, err := p.WrapUntil("endtrans")
		if err != nil {
			return nil, err
		}
		node.bodies = append(node.bodies, plural)
	}
	return node, nil
}
