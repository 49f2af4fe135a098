// Package ignore reads .templateignore files. They use gitignore syntax and
// apply to the directory holding them and everything below it.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// FileName is the per-directory ignore file.
const FileName = ".templateignore"

// Matcher decides whether a path under the root directory is skipped.
type Matcher struct {
	patterns []gitignore.Pattern
	matcher  gitignore.Matcher
}

// Load collects the patterns that govern subdir of rootDir: the ignore files
// of every parent of subdir, every ignore file at or below subdir, and the
// extra patterns. extra patterns are scoped to subdir and take precedence.
func Load(rootDir, subdir string, extra []string) (*Matcher, error) {
	domain := splitDomain(subdir)

	var patterns []gitignore.Pattern
	for i := range domain {
		ps, err := readFile(filepath.Join(rootDir, filepath.Join(domain[:i]...), FileName), domain[:i])
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, ps...)
	}

	nested, err := readTree(rootDir, domain)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, nested...)

	for _, p := range extra {
		if strings.TrimSpace(p) == "" {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(p, domain))
	}

	return &Matcher{patterns: patterns, matcher: gitignore.NewMatcher(patterns)}, nil
}

// Match reports whether rel, a path relative to the root directory, is
// ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	parts := splitDomain(rel)
	if len(parts) == 0 {
		return false
	}
	return m.matcher.Match(parts, isDir)
}

// Len returns the number of patterns loaded.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}

func readFile(path string, domain []string) ([]gitignore.Pattern, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ignore: open %s: %w", path, err)
	}
	defer f.Close()

	scope := append([]string(nil), domain...)
	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, scope))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ignore: read %s: %w", path, err)
	}
	return patterns, nil
}

// readTree returns the patterns of domain and every directory below it,
// parents before children so deeper files win.
func readTree(rootDir string, domain []string) ([]gitignore.Pattern, error) {
	dir := filepath.Join(rootDir, filepath.Join(domain...))
	patterns, err := readFile(filepath.Join(dir, FileName), domain)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ignore: list %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := append(append([]string(nil), domain...), entry.Name())
		sub, err := readTree(rootDir, child)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, sub...)
	}
	return patterns, nil
}

func splitDomain(path string) []string {
	path = filepath.ToSlash(filepath.Clean(path))
	if path == "." || path == "" || path == "/" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part != "" && part != "." {
			parts = append(parts, part)
		}
	}
	return parts
}
