package analysis

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindUndeclared(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "set after read and attribute base",
			src:  `{{ a }}{% set b = 1 %}{{ b }}{{ c.d }}`,
			want: []string{"a", "c"},
		},
		{
			name: "read before set",
			src:  `{{ b }}{% set b = 1 %}{{ b }}`,
			want: []string{"b"},
		},
		{
			name: "self reference in set",
			src:  `{% set n = n + 1 %}`,
			want: []string{"n"},
		},
		{
			name: "loop targets are local",
			src:  `{% for k, v in items if v %}{{ k }}{{ loop.index }}{{ y }}{% else %}{{ empty }}{% endfor %}{{ k }}`,
			want: []string{"empty", "items", "k", "y"},
		},
		{
			name: "macro params and defaults",
			src:  `{% macro m(a, b=c, *rest) %}{{ a }}{{ b }}{{ rest }}{{ d }}{{ caller() }}{{ varargs }}{% endmacro %}{{ m(1) }}`,
			want: []string{"c", "d"},
		},
		{
			name: "call block params",
			src:  `{% call(row) table(rows) %}{{ row.id }}{% endcall %}`,
			want: []string{"rows", "table"},
		},
		{
			name: "caller inside call block",
			src:  `{% call m() %}{{ caller }}{% endcall %}`,
			want: []string{"m"},
		},
		{
			name: "self is provided",
			src:  `{{ self }}{{ self.title() }}`,
			want: []string{},
		},
		{
			name: "with scope",
			src:  `{% with a = b %}{{ a }}{% endwith %}{{ a }}`,
			want: []string{"a", "b"},
		},
		{
			name: "if without else does not bind",
			src:  `{% if c %}{% set x = 1 %}{{ x }}{% endif %}{{ x }}`,
			want: []string{"c", "x"},
		},
		{
			name: "if with else binds names set in every branch",
			src:  `{% if c %}{% set x = 1 %}{% elif e %}{% set x = 2 %}{% else %}{% set x = 3 %}{% endif %}{{ x }}`,
			want: []string{"c", "e"},
		},
		{
			name: "filters and arguments",
			src:  `{{ a | default(b) | join(sep=s) }}{% filter upper %}{{ f }}{% endfilter %}`,
			want: []string{"a", "b", "f", "s"},
		},
		{
			name: "item access reads index",
			src:  `{{ m[k] }}{{ xs[1:n] }}`,
			want: []string{"k", "m", "n", "xs"},
		},
		{
			name: "block set",
			src:  `{% set x %}{{ y }}{% endset %}{{ x }}`,
			want: []string{"y"},
		},
		{
			name: "imports bind names",
			src:  `{% import "m.html" as m %}{% from "n.html" import a as b, c %}{{ m.x }}{{ b }}{{ c }}{{ a }}`,
			want: []string{"a"},
		},
		{
			name: "globals are not reported",
			src:  `{% for i in range(3) %}{{ i }}{% endfor %}{{ namespace() }}`,
			want: []string{},
		},
		{
			name: "optional tags parse without extensions",
			src:  `{% for i in xs %}{% if i %}{% break %}{% endif %}{% do out.append(i) %}{% endfor %}`,
			want: []string{"out", "xs"},
		},
		{
			name: "raw is ignored",
			src:  `{% raw %}{{ hidden }}{% endraw %}{{ shown }}`,
			want: []string{"shown"},
		},
		{
			name: "conditional output",
			src:  `{{ a if b else c }}`,
			want: []string{"a", "b", "c"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FindUndeclared(tc.src)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestAnalyze_ReferencesAreNotFollowed(t *testing.T) {
	report, err := Analyze(`{% extends "base.html" %}{% include "part.html" %}{% include name %}{{ z }}`)
	require.NoError(t, err)
	require.Equal(t, []string{"name", "z"}, report.Undeclared)
	require.Equal(t, []string{"base.html", "part.html"}, report.References)
}

func TestFindUndeclared_SyntaxError(t *testing.T) {
	_, err := FindUndeclared(`{% for %}{% endfor %}`)
	require.Error(t, err)

	_, err = FindUndeclared(`{% unknowntag %}`)
	require.Error(t, err)
}

func TestWithGlobals(t *testing.T) {
	got, err := FindUndeclared(`{{ g }}{{ h }}`, WithGlobals(func(name string) bool { return name == "g" }))
	require.NoError(t, err)
	require.Equal(t, []string{"h"}, got)
}

func TestFindUndeclaredFollowing(t *testing.T) {
	sources := map[string]string{
		"a.html": `{{ x }}{% include "b.html" %}{% include "missing.html" %}`,
		"b.html": `{{ y }}{% include "a.html" %}`,
	}
	read := func(name string) (string, error) {
		src, ok := sources[name]
		if !ok {
			return "", fmt.Errorf("template %q not found", name)
		}
		return src, nil
	}

	got, err := FindUndeclaredFollowing(`{% include "a.html" %}{{ r }}`, read)
	require.NoError(t, err)
	require.Equal(t, []string{"r", "x", "y"}, got)
}
