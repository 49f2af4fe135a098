package render

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goliatone/go-jinja/pkg/render/template"
)

// maxCauseDepth bounds the cause-chain walk in Extract.
const maxCauseDepth = 32

// TemplateError is the explicit caused-by link engines attach template
// context with.
type TemplateError = template.TemplateError

// StructuredError is the user facing description of a failed item.
type StructuredError struct {
	Message      string  `json:"message"`
	TemplateName *string `json:"templateName,omitempty"`
	LineNumber   *int    `json:"lineNumber,omitempty"`
}

func (e *StructuredError) Error() string {
	var b strings.Builder
	if e.TemplateName != nil {
		b.WriteString(*e.TemplateName)
		if e.LineNumber != nil {
			fmt.Fprintf(&b, ":%d", *e.LineNumber)
		}
		b.WriteString(": ")
	} else if e.LineNumber != nil {
		fmt.Fprintf(&b, "line %d: ", *e.LineNumber)
	}
	b.WriteString(e.Message)
	return b.String()
}

// locationPattern finds template announcements and line numbers in gonja's
// error texts, in the order they appear:
//
//	IncludeControlStructure(Filename='part.html' ...)   template
//	unable to load template 'base.html'                 template
//	unable to load template '<Token[String] Val='x' ...  template
//	... at line 3: ...                                  line
//	... (Line: 3 Col: 7, near "x")                      line
var locationPattern = regexp.MustCompile(
	`IncludeControlStructure\(Filename='([^']*)'` +
		`|unable to load template '(?:<Token\[\w+\] Val=')?([^']*)'` +
		`|at line (\d+)` +
		`|\(Line: (\d+) Col:`,
)

// filterFailure matches the prefix gonja puts on any error a filter returns.
// The filter's own text follows it; the token carries the line.
var filterFailure = regexp.MustCompile(
	`^unable to evaluate filter &\{<Token\[\w+\] Val='[^']*' Pos=\d+ Line=(\d+) Col=\d+>.*?\}: invalid call to filter '[^']*': `,
)

// Extract converts err into a StructuredError. It walks the cause chain from
// the outside in, at most maxCauseDepth links. Each template announced resets
// the line, so the result carries the deepest template seen and the deepest
// line reported inside it. The innermost link's text becomes the message.
func Extract(err error) (out StructuredError) {
	if err == nil {
		return StructuredError{}
	}
	defer func() {
		if recover() != nil {
			out = StructuredError{Message: err.Error()}
		}
	}()

	var (
		name *string
		line *int
	)
	announce := func(tpl string) {
		if tpl == "" || (name != nil && resolvesTo(*name, tpl)) {
			return
		}
		name = &tpl
		line = nil
	}
	at := func(raw string) {
		if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 {
			line = &n
		}
	}

	innermost := err
	for depth, link := 0, err; link != nil && depth < maxCauseDepth; depth++ {
		innermost = link
		next := errors.Unwrap(link)

		if te, ok := link.(*TemplateError); ok {
			announce(te.Template)
			if te.Line > 0 {
				at(strconv.Itoa(te.Line))
			}
		}
		for _, m := range locationPattern.FindAllStringSubmatch(ownMessage(link, next), -1) {
			switch {
			case m[1] != "":
				announce(m[1])
			case m[2] != "":
				announce(m[2])
			case m[3] != "":
				at(m[3])
			case m[4] != "":
				at(m[4])
			}
		}
		link = next
	}

	message := innermost.Error()
	if m := filterFailure.FindStringSubmatch(message); m != nil {
		message = message[len(m[0]):]
		if line == nil {
			at(m[1])
		}
	}

	return StructuredError{
		Message:      message,
		TemplateName: name,
		LineNumber:   line,
	}
}

// resolvesTo reports whether path is the file gonja resolved name to. gonja
// names included templates by absolute path once loaded.
func resolvesTo(name, path string) bool {
	if !filepath.IsAbs(path) || filepath.IsAbs(name) {
		return false
	}
	return strings.HasSuffix(filepath.ToSlash(path), "/"+strings.TrimPrefix(name, "./"))
}

// ownMessage strips the cause's text from link's text, leaving what this link
// added.
func ownMessage(link, next error) string {
	msg := link.Error()
	if next == nil {
		return msg
	}
	cause := next.Error()
	if msg == cause {
		return ""
	}
	if own, ok := strings.CutSuffix(msg, ": "+cause); ok {
		return own
	}
	return strings.TrimSuffix(msg, cause)
}
