// Package loader resolves template names to files for the gonja engine. A
// Chain tries its strategies in a fixed order: the explicit root template of a
// file render, absolute paths inside a search dir, then search-dir relative
// lookups.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikolalohinski/gonja/v2/loaders"
)

// ErrTemplateNotFound is matched by every *NotFoundError.
var ErrTemplateNotFound = errors.New("template not found")

// NotFoundError reports a name no strategy could resolve together with the
// locations that were tried.
type NotFoundError struct {
	Name  string
	Tried []string
}

func (e *NotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return fmt.Sprintf("template %q not found (no search directories configured)", e.Name)
	}
	return fmt.Sprintf("template %q not found (searched: %s)", e.Name, strings.Join(e.Tried, ", "))
}

// Is lets errors.Is(err, ErrTemplateNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrTemplateNotFound
}

type strategy struct {
	name    string
	resolve func(name string) (string, bool)
}

// Chain implements gonja's loaders.Loader over a list of search directories.
type Chain struct {
	dirs       []string
	strategies []strategy
}

// Ensure the implementation satisfies the gonja loader contract.
var _ loaders.Loader = (*Chain)(nil)

// New builds a Chain. Search dirs are made absolute against the working
// directory; missing directories are kept so the not-found error lists them.
func New(searchDirs []string) (*Chain, error) {
	dirs := make([]string, 0, len(searchDirs))
	for _, dir := range searchDirs {
		trimmed := strings.TrimSpace(dir)
		if trimmed == "" {
			continue
		}
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return nil, fmt.Errorf("loader: resolve search dir %q: %w", dir, err)
		}
		dirs = append(dirs, abs)
	}

	c := &Chain{dirs: dirs}
	c.strategies = []strategy{
		{name: "absolute", resolve: c.absoluteWithinSearchDirs},
		{name: "search-path", resolve: c.searchPath},
	}
	return c, nil
}

// SearchDirs returns the absolute search directories in priority order.
func (c *Chain) SearchDirs() []string {
	return append([]string(nil), c.dirs...)
}

// Resolve maps a template name to the absolute path of the first match.
func (c *Chain) Resolve(name string) (string, error) {
	for _, s := range c.strategies {
		if path, ok := s.resolve(name); ok {
			return path, nil
		}
	}
	return "", &NotFoundError{Name: name, Tried: c.SearchDirs()}
}

// Read resolves name and returns its content.
func (c *Chain) Read(name string) (io.Reader, error) {
	path, err := c.Resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	return bytes.NewReader(data), nil
}

// Name maps a resolved path back to the slash separated name it has relative
// to the first search dir containing it. Paths outside every dir come back
// unchanged.
func (c *Chain) Name(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	clean := filepath.Clean(path)
	for _, dir := range c.dirs {
		if !within(dir, clean) {
			continue
		}
		if rel, err := filepath.Rel(dir, clean); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return path
}

// Inherit returns the chain itself: names are always relative to the search
// path, never to the including template.
func (c *Chain) Inherit(string) (loaders.Loader, error) {
	return c, nil
}

func (c *Chain) absoluteWithinSearchDirs(name string) (string, bool) {
	if !filepath.IsAbs(name) {
		return "", false
	}
	path := filepath.Clean(name)
	for _, dir := range c.dirs {
		if within(dir, path) && isRegularFile(path) {
			return path, true
		}
	}
	return "", false
}

func (c *Chain) searchPath(name string) (string, bool) {
	if name == "" || filepath.IsAbs(name) {
		return "", false
	}
	for _, dir := range c.dirs {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if !within(dir, path) {
			continue
		}
		if isRegularFile(path) {
			return path, true
		}
	}
	return "", false
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return false
	}
	return true
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
