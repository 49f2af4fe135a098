package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-jinja/pkg/testsupport"
)

func TestParse_JSON(t *testing.T) {
	data := []byte(`{
		"searchDirs": ["templates"],
		"globals": {"name": "Ada", "replicas": 3, "ratio": 0.5, "nested": {"n": 1}},
		"filters": {"shout:upper": "def upper(x):\n  return x.upper()\n"},
		"extensions": ["jinja2.ext.do"],
		"nonStrict": true,
		"trimBlocks": true
	}`)

	cfg, err := Parse(data, "inline.json")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := Config{
		SearchDirs: []string{"templates"},
		Globals: map[string]any{
			"name":     "Ada",
			"replicas": int64(3),
			"ratio":    0.5,
			"nested":   map[string]any{"n": int64(1)},
		},
		Filters:    map[string]string{"shout:upper": "def upper(x):\n  return x.upper()\n"},
		Extensions: []string{"jinja2.ext.do"},
		NonStrict:  true,
		TrimBlocks: true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_YAMLFallback(t *testing.T) {
	data := []byte(`
searchDirs:
  - a
  - b
globals:
  replicas: 2
  labels:
    app: web
lstripBlocks: true
`)
	cfg, err := Parse(data, "inline.yaml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := Config{
		SearchDirs: []string{"a", "b"},
		Globals: map[string]any{
			"replicas": int64(2),
			"labels":   map[string]any{"app": "web"},
		},
		LStripBlocks: true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_RejectsEmptyAndGarbage(t *testing.T) {
	if _, err := Parse([]byte("  \n"), "empty.yaml"); err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Fatalf("expected empty file error, got %v", err)
	}
	if _, err := Parse([]byte("searchDirs: [unterminated"), "bad.yaml"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoad_FromDisk(t *testing.T) {
	dir := testsupport.WriteTree(t, map[string]string{
		"render.yaml": "searchDirs: [tpl]\nnonStrict: true\n",
	})

	cfg, err := Load(filepath.Join(dir, "render.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.NonStrict || len(cfg.SearchDirs) != 1 || cfg.SearchDirs[0] != "tpl" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestOptions(t *testing.T) {
	cfg := New(
		WithSearchDirs("a", " ", "b"),
		WithGlobal("x", 1),
		WithGlobals(map[string]any{"y": "two"}),
		WithFilter("mod:fn", "def fn(v):\n  return v\n"),
		WithExtensions("html"),
		WithNonStrict(true),
		WithTrimBlocks(true),
		WithLStripBlocks(true),
		WithDebugTrace(true),
	)

	want := Config{
		SearchDirs:   []string{"a", "b"},
		Globals:      map[string]any{"x": 1, "y": "two"},
		Filters:      map[string]string{"mod:fn": "def fn(v):\n  return v\n"},
		Extensions:   []string{"html"},
		NonStrict:    true,
		TrimBlocks:   true,
		LStripBlocks: true,
		DebugTrace:   true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{
		SearchDirs: []string{"ok", ""},
		Filters:    map[string]string{":fn": ""},
		Extensions: []string{" "},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, fragment := range []string{"searchDirs[1]", `":fn"`, "extensions[0]"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %q", fragment, err.Error())
		}
	}

	if err := New(WithSearchDirs("x")).Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := New(
		WithSearchDirs("a"),
		WithGlobals(map[string]any{"nested": map[string]any{"k": "v"}}),
		WithFilter("f", "src"),
	)
	clone := orig.Clone()
	clone.SearchDirs[0] = "changed"
	clone.Globals["nested"].(map[string]any)["k"] = "changed"
	clone.Filters["f"] = "changed"

	if orig.SearchDirs[0] != "a" || orig.Globals["nested"].(map[string]any)["k"] != "v" || orig.Filters["f"] != "src" {
		t.Fatalf("clone mutated original: %+v", orig)
	}
}
