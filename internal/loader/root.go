package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nikolalohinski/gonja/v2/loaders"
)

// StringRootID names templates compiled from literal text.
const StringRootID = "<template>"

// Root is the top-level template of a render call, read directly from disk.
type Root struct {
	// ID is the absolute path the template is registered under.
	ID     string
	Source []byte
	loader loaders.Loader
}

// Loader serves the root content under ID and delegates every other name to
// the chain.
func (r *Root) Loader() loaders.Loader {
	return r.loader
}

// Root resolves the top-level file of a file render. Absolute names are used
// as-is; relative names are tried against the working directory, then each
// search dir. Containment checks do not apply: the caller named the file.
func (c *Chain) Root(name string) (*Root, error) {
	path, err := c.rootPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	return c.rootFor(path, data)
}

// StringRoot wraps literal template text so it can include files from the
// search path.
func (c *Chain) StringRoot(text string) (*Root, error) {
	return c.rootFor(StringRootID, []byte(text))
}

func (c *Chain) rootFor(id string, data []byte) (*Root, error) {
	shifted, err := loaders.NewShiftedLoader(id, bytes.NewReader(data), c)
	if err != nil {
		return nil, fmt.Errorf("loader: root %s: %w", id, err)
	}
	return &Root{ID: id, Source: data, loader: shifted}, nil
}

func (c *Chain) rootPath(name string) (string, error) {
	if name == "" {
		return "", &NotFoundError{Name: name, Tried: c.SearchDirs()}
	}
	if filepath.IsAbs(name) {
		path := filepath.Clean(name)
		if isRegularFile(path) {
			return path, nil
		}
		return "", &NotFoundError{Name: name, Tried: []string{path}}
	}

	tried := make([]string, 0, len(c.dirs)+1)
	if abs, err := filepath.Abs(name); err == nil {
		if isRegularFile(abs) {
			return abs, nil
		}
		tried = append(tried, filepath.Dir(abs))
	}
	for _, dir := range c.dirs {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if isRegularFile(path) {
			return path, nil
		}
		tried = append(tried, dir)
	}
	return "", &NotFoundError{Name: name, Tried: tried}
}
