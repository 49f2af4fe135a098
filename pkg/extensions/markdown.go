package extensions

import (
	"bytes"
	"fmt"

	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// markdownExtension adds a markdown filter rendering CommonMark with the GFM
// extensions to HTML.
type markdownExtension struct{}

func (markdownExtension) Name() string { return "markdown" }

func (markdownExtension) Apply(env *exec.Environment) error {
	return putFilter(env.Filters, "markdown", filterMarkdown)
}

func filterMarkdown(_ *exec.Evaluator, in *exec.Value, _ *exec.VarArgs) *exec.Value {
	if in.IsError() {
		return in
	}
	var out bytes.Buffer
	if err := markdown.Convert([]byte(in.String()), &out); err != nil {
		return exec.AsValue(fmt.Errorf("markdown: %w", err))
	}
	return exec.AsSafeValue(out.String())
}
