package extensions

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/parser"
)

func newEnv() *exec.Environment {
	return &exec.Environment{
		Filters:           exec.NewFilterSet(map[string]exec.FilterFunction{}),
		ControlStructures: exec.NewControlStructureSet(map[string]parser.ControlStructureParser{}),
	}
}

func TestDefault_List(t *testing.T) {
	want := []string{
		"html",
		"jinja2.ext.autoescape",
		"jinja2.ext.debug",
		"jinja2.ext.do",
		"jinja2.ext.i18n",
		"jinja2.ext.loopcontrols",
		"jinja2.ext.with_",
		"markdown",
	}
	if diff := cmp.Diff(want, Default().List()); diff != "" {
		t.Fatalf("extension list mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_UnknownExtension(t *testing.T) {
	err := Default().Apply(newEnv(), []string{"jinja2.ext.nope"})
	if err == nil || err.Error() != `unknown extension "jinja2.ext.nope"` {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(noop("x")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(noop("x")); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if !registry.Has("x") {
		t.Fatalf("expected x to be registered")
	}
}

func TestHTMLExtension(t *testing.T) {
	env := newEnv()
	if err := Default().Apply(env, []string{"html"}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	sanitize, ok := env.Filters.Get("sanitize")
	if !ok {
		t.Fatalf("sanitize filter not installed")
	}
	got := sanitize(nil, exec.AsValue(`<p onclick="x()">hi</p><script>alert(1)</script>`), &exec.VarArgs{})
	if want := "<p>hi</p>"; got.String() != want {
		t.Fatalf("sanitize mismatch\nwant: %q\n got: %q", want, got.String())
	}
	if !got.Safe {
		t.Fatalf("sanitized output should be marked safe")
	}

	strip, ok := env.Filters.Get("striptags_html")
	if !ok {
		t.Fatalf("striptags_html filter not installed")
	}
	if got := strip(nil, exec.AsValue(" <b>bold</b> text "), &exec.VarArgs{}).String(); got != "bold text" {
		t.Fatalf("striptags_html mismatch: %q", got)
	}
}

func TestMarkdownExtension(t *testing.T) {
	env := newEnv()
	if err := Default().Apply(env, []string{"markdown"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	fn, ok := env.Filters.Get("markdown")
	if !ok {
		t.Fatalf("markdown filter not installed")
	}
	if got, want := fn(nil, exec.AsValue("# Title"), &exec.VarArgs{}).String(), "<h1>Title</h1>\n"; got != want {
		t.Fatalf("markdown mismatch\nwant: %q\n got: %q", want, got)
	}
}

func TestTagExtension_RestoresDisabledTag(t *testing.T) {
	env := newEnv()
	if err := DisableOptionalTags(env.ControlStructures); err != nil {
		t.Fatalf("disable: %v", err)
	}
	for _, tag := range []string{"do", "break", "continue", "trans"} {
		if !env.ControlStructures.Exists(tag) {
			t.Fatalf("expected placeholder for %s", tag)
		}
	}
	if err := Default().Apply(env, []string{"jinja2.ext.do", "jinja2.ext.loopcontrols"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
}
