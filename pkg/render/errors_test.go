package render_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	pkgerrors "github.com/pkg/errors"

	"github.com/goliatone/go-jinja/pkg/render"
)

func ptr[T any](v T) *T { return &v }

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want render.StructuredError
	}{
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: render.StructuredError{Message: "boom"},
		},
		{
			name: "literal template keeps no name",
			err: &render.TemplateError{
				Cause: pkgerrors.Wrapf(errors.New("boom"), "Unable to render expression at line %d", 4),
			},
			want: render.StructuredError{Message: "boom", LineNumber: ptr(4)},
		},
		{
			name: "explicit line",
			err:  &render.TemplateError{Template: "a.html", Line: 7, Cause: errors.New("x")},
			want: render.StructuredError{Message: "x", TemplateName: ptr("a.html"), LineNumber: ptr(7)},
		},
		{
			name: "nested syntax error",
			err: &render.TemplateError{
				Template: "outer.html",
				Cause: &render.TemplateError{
					Template: "broken.html",
					Cause:    errors.New(`ControlStructure 'endif' not found (or beginning not provided) (Line: 1 Col: 4, near "endif")`),
				},
			},
			want: render.StructuredError{
				Message:      `ControlStructure 'endif' not found (or beginning not provided) (Line: 1 Col: 4, near "endif")`,
				TemplateName: ptr("broken.html"),
				LineNumber:   ptr(1),
			},
		},
		{
			name: "include announced in text",
			err: &render.TemplateError{
				Template: "page.html",
				Cause: errors.New(`Unable to execute controlStructure at line 2: IncludeControlStructure(Filename='part.html' Line=2 Col=4): ` +
					`unable to load template '/srv/tpl/part.html': Unable to render expression at line 5: Unable to evaluate name "x"`),
			},
			want: render.StructuredError{
				Message: `Unable to execute controlStructure at line 2: IncludeControlStructure(Filename='part.html' Line=2 Col=4): ` +
					`unable to load template '/srv/tpl/part.html': Unable to render expression at line 5: Unable to evaluate name "x"`,
				TemplateName: ptr("part.html"),
				LineNumber:   ptr(5),
			},
		},
		{
			name: "wrapped line",
			err: &render.TemplateError{
				Template: "page.html",
				Cause:    fmt.Errorf("Unable to render expression at line 3: %w", errors.New(`Unable to evaluate name "y"`)),
			},
			want: render.StructuredError{
				Message:      `Unable to evaluate name "y"`,
				TemplateName: ptr("page.html"),
				LineNumber:   ptr(3),
			},
		},
		{
			name: "extends token",
			err: &render.TemplateError{
				Template: "child.html",
				Cause:    errors.New(`unable to load template '<Token[String] Val='base.html' Pos=11 Line=1 Col=12>': unexpected token (Line: 4 Col: 2, near "x")`),
			},
			want: render.StructuredError{
				Message:      `unable to load template '<Token[String] Val='base.html' Pos=11 Line=1 Col=12>': unexpected token (Line: 4 Col: 2, near "x")`,
				TemplateName: ptr("base.html"),
				LineNumber:   ptr(4),
			},
		},
		{
			name: "filter failure",
			err: &render.TemplateError{
				Cause: errors.New(`unable to evaluate filter &{<Token[Name] Val='boom' Pos=8 Line=2 Col=9> boom [] map[]}: ` +
					`invalid call to filter 'boom': filter boom: fail: kaput`),
			},
			want: render.StructuredError{Message: "filter boom: fail: kaput", LineNumber: ptr(2)},
		},
		{
			name: "filter failure keeps the rendered line",
			err: &render.TemplateError{
				Template: "page.html",
				Cause: pkgerrors.Wrapf(
					errors.New(`unable to evaluate filter &{<Token[Name] Val='up' Pos=3 Line=1 Col=4> up [] map[]}: invalid call to filter 'up': bad input`),
					"Unable to render expression at line %d", 6),
			},
			want: render.StructuredError{Message: "bad input", TemplateName: ptr("page.html"), LineNumber: ptr(6)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, render.Extract(tc.err)); diff != "" {
				t.Fatalf("extract mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtract_Nil(t *testing.T) {
	if diff := cmp.Diff(render.StructuredError{}, render.Extract(nil)); diff != "" {
		t.Fatalf("extract nil mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_BoundsChainDepth(t *testing.T) {
	var err error = errors.New("deep")
	for i := 39; i >= 0; i-- {
		err = &render.TemplateError{Template: fmt.Sprintf("t%d", i), Cause: err}
	}

	got := render.Extract(err)
	if got.TemplateName == nil || *got.TemplateName != "t31" {
		t.Fatalf("expected the walk to stop at t31, got %+v", got)
	}
	if got.Message != "deep" {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestStructuredError_Error(t *testing.T) {
	cases := map[string]render.StructuredError{
		"boom":           {Message: "boom"},
		"line 3: boom":   {Message: "boom", LineNumber: ptr(3)},
		"a.html: boom":   {Message: "boom", TemplateName: ptr("a.html")},
		"a.html:3: boom": {Message: "boom", TemplateName: ptr("a.html"), LineNumber: ptr(3)},
	}
	for want, se := range cases {
		if got := se.Error(); got != want {
			t.Fatalf("error text mismatch\nwant: %q\n got: %q", want, got)
		}
	}
}
