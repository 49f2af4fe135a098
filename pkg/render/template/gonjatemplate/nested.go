package gonjatemplate

import (
	"fmt"
	"sync"

	"github.com/nikolalohinski/gonja/v2/builtins"
	controlStructures "github.com/nikolalohinski/gonja/v2/builtins/control_structures"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/loaders"
	"github.com/nikolalohinski/gonja/v2/nodes"
	"github.com/nikolalohinski/gonja/v2/parser"
	"github.com/nikolalohinski/gonja/v2/tokens"
	"github.com/pkg/errors"

	"github.com/goliatone/go-jinja/pkg/undefined"
)

// nested loads the templates include, import and from pull in while
// rendering. Under the permissive policy those need the same rewrite as the
// root, so the engine swaps the three tags for versions that load through
// here. Each file is parsed once per engine.
type nested struct {
	guard *undefined.Guard

	mu        sync.Mutex
	templates map[string]*exec.Template
}

func newNested(guard *undefined.Guard) *nested {
	return &nested{guard: guard, templates: map[string]*exec.Template{}}
}

func (n *nested) install(set *exec.ControlStructureSet) error {
	from, ok := builtins.ControlStructures.Get("from")
	if !ok {
		return errors.New("tag \"from\" is not provided by the engine")
	}
	tags := map[string]parser.ControlStructureParser{
		"include": n.includeParser,
		"import":  n.importParser,
		"from":    n.fromParser(from),
	}
	for name, fn := range tags {
		if err := set.Replace(name, fn); err != nil {
			return fmt.Errorf("gonjatemplate: permissive tag %s: %w", name, err)
		}
	}
	return nil
}

// load resolves name against the renderer's loader and returns the parsed,
// guarded template. Error texts match the stock tags so failures read the
// same under both policies.
func (n *nested) load(r *exec.Renderer, name string) (*exec.Template, loaders.Loader, error) {
	filename, err := r.Loader.Resolve(name)
	if err != nil {
		return nil, nil, errors.Errorf("failed to resolve filename: %s", err)
	}
	loader, err := r.Loader.Inherit(filename)
	if err != nil {
		return nil, nil, errors.Errorf("failed to inherit loader: %s", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if tpl, ok := n.templates[filename]; ok {
		return tpl, loader, nil
	}
	tpl, err := exec.NewTemplate(filename, r.Config, loader, r.Environment)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to load template '%s': %s", filename, err)
	}
	n.guard.Rewrite(tpl.Root())
	n.templates[filename] = tpl
	return tpl, loader, nil
}

func filename(r *exec.Renderer, expr nodes.Expression) (string, error) {
	value := r.Eval(expr)
	if value.IsError() {
		return "", errors.Wrap(value, `Unable to evaluate filename`)
	}
	return value.String(), nil
}

// withContext consumes an optional "with context" or "without context".
func withContext(args *parser.Parser) {
	if args.MatchName("with", "without") == nil {
		return
	}
	if args.MatchName("context") == nil {
		args.Stream().Backup()
	}
}

type includeTag struct {
	location      *tokens.Token
	filename      nodes.Expression
	ignoreMissing bool
	loads         *nested
}

func (t *includeTag) Position() *tokens.Token { return t.location }

func (t *includeTag) String() string {
	return fmt.Sprintf("IncludeControlStructure(Filename=%s Line=%d Col=%d)", t.filename, t.location.Line, t.location.Col)
}

func (t *includeTag) Execute(r *exec.Renderer, _ *nodes.ControlStructureBlock) error {
	name, err := filename(r, t.filename)
	if err != nil {
		return err
	}
	tpl, loader, err := t.loads.load(r, name)
	if err != nil {
		if t.ignoreMissing {
			return nil
		}
		return err
	}
	return exec.NewRenderer(r.Environment, r.Output, r.Config.Inherit(), loader, tpl).Execute()
}

func (n *nested) includeParser(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	tag := &includeTag{location: p.Current(), loads: n}

	expr, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	tag.filename = expr

	if args.MatchName("ignore") != nil {
		if args.MatchName("missing") != nil {
			tag.ignoreMissing = true
		} else {
			args.Stream().Backup()
		}
	}
	withContext(args)

	if !args.End() {
		return nil, args.Error("Malformed 'include'-tag args.", nil)
	}
	return tag, nil
}

type importTag struct {
	location *tokens.Token
	filename nodes.Expression
	as       string
	loads    *nested
}

func (t *importTag) Position() *tokens.Token { return t.location }

func (t *importTag) String() string {
	return fmt.Sprintf("ImportControlStructure(Line=%d Col=%d)", t.location.Line, t.location.Col)
}

func (t *importTag) Execute(r *exec.Renderer, _ *nodes.ControlStructureBlock) error {
	name, err := filename(r, t.filename)
	if err != nil {
		return err
	}
	tpl, _, err := t.loads.load(r, name)
	if err != nil {
		return err
	}

	macros := map[string]exec.Macro{}
	for macroName, macro := range tpl.Macros() {
		fn, err := exec.MacroNodeToFunc(macro, r)
		if err != nil {
			return errors.Wrapf(err, `Unable to import macro '%s'`, macroName)
		}
		macros[macroName] = fn
	}
	r.Environment.Context.Set(t.as, macros)
	return nil
}

func (n *nested) importParser(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
	tag := &importTag{location: p.Current(), loads: n}

	if args.End() {
		return nil, args.Error("You must at least specify one macro to import.", nil)
	}
	expr, err := args.ParseExpression()
	if err != nil {
		return nil, err
	}
	tag.filename = expr

	if args.MatchName("as") == nil {
		return nil, args.Error(`Expected "as" keyword`, args.Current())
	}
	alias := args.Match(tokens.Name)
	if alias == nil {
		return nil, args.Error("Expected macro alias name (identifier)", args.Current())
	}
	tag.as = alias.Val
	withContext(args)
	return tag, nil
}

// fromTag reuses the stock parser, whose fields are exported, and only
// changes where the imported template comes from.
type fromTag struct {
	*controlStructures.FromImportControlStructure
	loads *nested
}

func (t *fromTag) Execute(r *exec.Renderer, _ *nodes.ControlStructureBlock) error {
	name, err := filename(r, t.FilenameExpression)
	if err != nil {
		return err
	}
	tpl, _, err := t.loads.load(r, name)
	if err != nil {
		return err
	}

	imported := tpl.Macros()
	for alias, macroName := range t.As {
		fn, err := exec.MacroNodeToFunc(imported[macroName], r)
		if err != nil {
			return errors.Wrapf(err, `Unable to import macro '%s'`, macroName)
		}
		r.Environment.Context.Set(alias, fn)
	}
	return nil
}

func (n *nested) fromParser(stock parser.ControlStructureParser) parser.ControlStructureParser {
	return func(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
		cs, err := stock(p, args)
		if err != nil {
			return nil, err
		}
		from, ok := cs.(*controlStructures.FromImportControlStructure)
		if !ok {
			return cs, nil
		}
		return &fromTag{FromImportControlStructure: from, loads: n}, nil
	}
}
