package loader

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goliatone/go-jinja/pkg/testsupport"
)

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestChain_SearchDirsInOrder(t *testing.T) {
	root := testsupport.WriteTree(t, map[string]string{
		"first/page.html":   "first",
		"second/page.html":  "second",
		"second/only.html":  "only",
		"second/sub/x.html": "nested",
	})
	chain, err := New([]string{filepath.Join(root, "first"), filepath.Join(root, "second")})
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	cases := map[string]string{
		"page.html":  "first",
		"only.html":  "only",
		"sub/x.html": "nested",
	}
	for name, want := range cases {
		r, err := chain.Read(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if got := readAll(t, r); got != want {
			t.Fatalf("read %s mismatch\nwant: %q\n got: %q", name, want, got)
		}
	}

	path, err := chain.Resolve("page.html")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := filepath.Join(root, "first", "page.html"); path != want {
		t.Fatalf("resolve mismatch\nwant: %q\n got: %q", want, path)
	}
}

func TestChain_RejectsEscape(t *testing.T) {
	root := testsupport.WriteTree(t, map[string]string{
		"tpl/page.html": "page",
		"secret.txt":    "secret",
	})
	chain, err := New([]string{filepath.Join(root, "tpl")})
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	for _, name := range []string{
		"../secret.txt",
		"sub/../../secret.txt",
		filepath.Join(root, "secret.txt"),
	} {
		_, err := chain.Read(name)
		if !errors.Is(err, ErrTemplateNotFound) {
			t.Fatalf("read %q: expected not found, got %v", name, err)
		}
	}

	abs := filepath.Join(root, "tpl", "page.html")
	r, err := chain.Read(abs)
	if err != nil {
		t.Fatalf("read absolute inside search dir: %v", err)
	}
	if got := readAll(t, r); got != "page" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestChain_RejectsDirectories(t *testing.T) {
	root := testsupport.WriteTree(t, map[string]string{"tpl/sub/a.html": "a"})
	chain, err := New([]string{filepath.Join(root, "tpl")})
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if _, err := chain.Resolve("sub"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected directory to be rejected, got %v", err)
	}
}

func TestNotFoundError_Message(t *testing.T) {
	err := &NotFoundError{Name: "x.html", Tried: []string{"/a", "/b"}}
	if got, want := err.Error(), `template "x.html" not found (searched: /a, /b)`; got != want {
		t.Fatalf("message mismatch\nwant: %q\n got: %q", want, got)
	}
	empty := &NotFoundError{Name: "x.html"}
	if !strings.Contains(empty.Error(), "no search directories") {
		t.Fatalf("unexpected message %q", empty.Error())
	}

	var target *NotFoundError
	wrapped := errors.Join(errors.New("outer"), err)
	if !errors.As(wrapped, &target) || target.Name != "x.html" {
		t.Fatalf("expected errors.As to find NotFoundError")
	}
}

func TestRoot_PrefersWorkingDirectory(t *testing.T) {
	root := testsupport.WriteTree(t, map[string]string{
		"work/page.html": "from cwd",
		"tpl/page.html":  "from search path",
	})
	testsupport.Chdir(t, filepath.Join(root, "work"))

	chain, err := New([]string{filepath.Join(root, "tpl")})
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	top, err := chain.Root("page.html")
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if string(top.Source) != "from cwd" {
		t.Fatalf("root should win for the top-level file, got %q", top.Source)
	}

	// The same name requested by an include goes through the search path.
	r, err := top.Loader().Read("page.html")
	if err != nil {
		t.Fatalf("include read: %v", err)
	}
	if got := readAll(t, r); got != "from search path" {
		t.Fatalf("include should use the search path, got %q", got)
	}

	r, err = top.Loader().Read(top.ID)
	if err != nil {
		t.Fatalf("root read: %v", err)
	}
	if got := readAll(t, r); got != "from cwd" {
		t.Fatalf("root id should serve root content, got %q", got)
	}
}

func TestRoot_FallsBackToSearchDirs(t *testing.T) {
	root := testsupport.WriteTree(t, map[string]string{
		"work/.keep":   "",
		"tpl/pkg.html": "pkg",
	})
	testsupport.Chdir(t, filepath.Join(root, "work"))

	chain, err := New([]string{filepath.Join(root, "tpl")})
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	top, err := chain.Root("pkg.html")
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if string(top.Source) != "pkg" {
		t.Fatalf("unexpected root content %q", top.Source)
	}

	if _, err := chain.Root("missing.html"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStringRoot(t *testing.T) {
	chain, err := New(nil)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	top, err := chain.StringRoot("{{ x }}")
	if err != nil {
		t.Fatalf("string root: %v", err)
	}
	if top.ID != StringRootID {
		t.Fatalf("unexpected id %q", top.ID)
	}
	r, err := top.Loader().Read(StringRootID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := readAll(t, r); got != "{{ x }}" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestChain_NameIsSearchRelative(t *testing.T) {
	root := testsupport.WriteTree(t, map[string]string{"tpl/sub/x.html": "x"})
	chain, err := New([]string{filepath.Join(root, "tpl")})
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	path, err := chain.Resolve("sub/x.html")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := chain.Name(path); got != "sub/x.html" {
		t.Fatalf("name mismatch: %q", got)
	}

	outside := filepath.Join(root, "elsewhere.html")
	if got := chain.Name(outside); got != outside {
		t.Fatalf("paths outside the search dirs stay as given, got %q", got)
	}
	if got := chain.Name("rel.html"); got != "rel.html" {
		t.Fatalf("relative names stay as given, got %q", got)
	}
}
