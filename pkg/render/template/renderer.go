package template

import (
	"io"
	"strings"
)

// TemplateRenderer is the seam the dispatcher renders through. The root
// template is always an explicit argument: engines keep no per-call state.
type TemplateRenderer interface {
	// RenderString compiles templateContent and renders it with data.
	RenderString(templateContent string, data any, out ...io.Writer) (string, error)
	// RenderFile resolves name as the root template and renders it with data.
	RenderFile(name string, data any, out ...io.Writer) (string, error)
	RegisterFilter(name string, fn func(input any, param any) (any, error)) error
	GlobalContext(data any) error
}

// IsMaybeTemplate reports whether text could contain template syntax. Text
// without a '{' renders to itself.
func IsMaybeTemplate(text string) bool {
	return strings.Contains(text, "{")
}
