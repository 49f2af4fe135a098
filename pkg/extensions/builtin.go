package extensions

import (
	"fmt"

	"github.com/nikolalohinski/gonja/v2/builtins"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/nodes"
	"github.com/nikolalohinski/gonja/v2/parser"
	"github.com/nikolalohinski/gonja/v2/tokens"
)

// optionalTags lists the tags Jinja only understands once the owning
// extension is loaded.
var optionalTags = map[string][]string{
	"jinja2.ext.do":           {"do"},
	"jinja2.ext.loopcontrols": {"break", "continue"},
	"jinja2.ext.i18n":         {"trans"},
}

func builtin() []Extension {
	exts := []Extension{
		noop("jinja2.ext.with_"),
		noop("jinja2.ext.autoescape"),
		noop("jinja2.ext.debug"),
		htmlExtension{},
		markdownExtension{},
	}
	for name, tags := range optionalTags {
		exts = append(exts, tagExtension{name: name, tags: tags})
	}
	return exts
}

// DisableOptionalTags swaps every extension-gated tag in set for a parser
// that rejects it, matching an environment with no extensions loaded.
func DisableOptionalTags(set *exec.ControlStructureSet) error {
	for _, tags := range optionalTags {
		for _, tag := range tags {
			if err := putTag(set, tag, unknownTag(tag)); err != nil {
				return err
			}
		}
	}
	return nil
}

func unknownTag(name string) parser.ControlStructureParser {
	return func(p *parser.Parser, args *parser.Parser) (nodes.ControlStructure, error) {
		token := args.Current()
		if token == nil || token.Type == tokens.EOF {
			token = p.Current()
		}
		return nil, p.Error(fmt.Sprintf("Encountered unknown tag '%s'.", name), token)
	}
}

func putTag(set *exec.ControlStructureSet, name string, fn parser.ControlStructureParser) error {
	if set.Exists(name) {
		return set.Replace(name, fn)
	}
	return set.Register(name, fn)
}

type tagExtension struct {
	name string
	tags []string
}

func (t tagExtension) Name() string { return t.name }

func (t tagExtension) Apply(env *exec.Environment) error {
	for _, tag := range t.tags {
		fn, ok := builtins.ControlStructures.Get(tag)
		if !ok {
			return fmt.Errorf("tag %q is not provided by the engine", tag)
		}
		if err := putTag(env.ControlStructures, tag, fn); err != nil {
			return err
		}
	}
	return nil
}

// noop covers extensions whose behaviour the engine always has.
type noop string

func (n noop) Name() string                  { return string(n) }
func (noop) Apply(*exec.Environment) error { return nil }
