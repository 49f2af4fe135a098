package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-jinja/pkg/testsupport"
)

func TestRun_Strings(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-global", "x=hi", "-global", "n=3", "{{ x }}", "{{ n + 1 }}"}, nil, &stdout, &stderr)

	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != `[{"result":"hi"},{"result":"4"}]` {
		t.Fatalf("unexpected output %s", got)
	}
}

func TestRun_StdinItemsAndFailure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader("ok\n{{ missing }}\n")

	code := run(context.Background(), nil, stdin, &stdout, &stderr)

	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.HasPrefix(stdout.String(), `[{"result":"ok"},{"error":{"message":`) {
		t.Fatalf("unexpected output %s", stdout.String())
	}
}

func TestRun_FilesWithConfigAndFilter(t *testing.T) {
	dir := testsupport.WriteTree(t, map[string]string{
		"tpl/hello.txt": "{{ greeting | shout }}",
		"shout.star":    "def shout(s):\n    return s.upper()\n",
		"config.yaml":   "globals:\n  greeting: hello\n",
	})
	out := filepath.Join(dir, "out.json")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{
		"-mode", "files",
		"-config", filepath.Join(dir, "config.yaml"),
		"-search-dir", filepath.Join(dir, "tpl"),
		"-filter", "shout=" + filepath.Join(dir, "shout.star"),
		"-out", out,
		"hello.txt",
	}, nil, &stdout, &stderr)

	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != `[{"result":"HELLO"}]` {
		t.Fatalf("unexpected output %s", got)
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout should stay empty with -out, got %q", stdout.String())
	}
}

func TestRun_Vars(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-mode", "vars", "{{ a }}{{ b.c }}"}, nil, &stdout, &stderr)

	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	if got := strings.TrimSpace(stdout.String()); got != `[{"result":"[\"a\",\"b\"]"}]` {
		t.Fatalf("unexpected output %s", got)
	}
}

func TestRun_Dir(t *testing.T) {
	src := testsupport.WriteTree(t, map[string]string{"a.txt": "{{ 2 * 2 }}", "skip.me": "x"})
	target := t.TempDir()
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-mode", "dir", "-source-dir", src, "-target-dir", target, "-exclude", "*.me"}, nil, &stdout, &stderr)

	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, stderr.String())
	}
	data, err := os.ReadFile(filepath.Join(target, "a.txt"))
	if err != nil || string(data) != "4" {
		t.Fatalf("unexpected output %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(target, "skip.me")); !os.IsNotExist(err) {
		t.Fatalf("excluded file was written")
	}
}

func TestRun_UsageErrors(t *testing.T) {
	cases := [][]string{
		{"-mode", "compile", "x"},
		{"-global", "=x", "x"},
		{"-filter", "nopath", "x"},
		{"-mode", "dir"},
		{"-unknown"},
	}
	for _, args := range cases {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), args, nil, &stdout, &stderr); code != 2 {
			t.Fatalf("args %v: expected exit code 2, got %d", args, code)
		}
	}
}

func TestParseGlobal(t *testing.T) {
	cases := map[string]any{
		"s=hi":     "hi",
		"n=3":      3,
		"b=true":   true,
		"l=[1, 2]": []any{1, 2},
		"e=":       "",
		"q=a=b":    "a=b",
	}
	for raw, want := range cases {
		_, got, err := parseGlobal(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("parse %q mismatch (-want +got):\n%s", raw, diff)
		}
	}
}
