package jinja

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/goliatone/go-jinja/pkg/ignore"
	"github.com/goliatone/go-jinja/pkg/render"
)

// DirectoryJob renders every file below SourceDir/Subdir into TargetDir,
// keeping the relative layout. SourceDir is searched first for includes.
type DirectoryJob struct {
	SourceDir string
	// Subdir restricts the render to part of SourceDir. Ignore files in its
	// parent directories still apply.
	Subdir    string
	TargetDir string
	// Excludes are extra gitignore patterns, scoped to Subdir.
	Excludes []string
}

// RenderDirectory renders job as one batch. Files matched by .templateignore
// rules or Excludes are skipped. Outputs are written atomically; the returned
// error joins every per-file failure.
func (r *Renderer) RenderDirectory(ctx context.Context, job DirectoryJob, opts ...Option) error {
	if strings.TrimSpace(job.SourceDir) == "" || strings.TrimSpace(job.TargetDir) == "" {
		return errors.New("jinja: directory job needs SourceDir and TargetDir")
	}
	sourceDir, err := filepath.Abs(job.SourceDir)
	if err != nil {
		return fmt.Errorf("jinja: resolve source dir: %w", err)
	}
	baseDir := filepath.Join(sourceDir, filepath.FromSlash(job.Subdir))

	matcher, err := ignore.Load(sourceDir, job.Subdir, job.Excludes)
	if err != nil {
		return err
	}

	files, err := collectFiles(sourceDir, baseDir, matcher)
	if err != nil {
		return err
	}

	s := r.resolve(opts)
	s.config.SearchDirs = append([]string{sourceDir}, s.config.SearchDirs...)
	results := s.dispatcher().Run(ctx, s.config, render.ModeRenderFiles, files)

	var errs []error
	for i, path := range files {
		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !results[i].OK() {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.ToSlash(rel), results[i].Err))
			continue
		}
		if err := writeOutput(filepath.Join(job.TargetDir, rel), path, results[i].Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func collectFiles(sourceDir, baseDir string, matcher *ignore.Matcher) ([]string, error) {
	var files []string
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if path == baseDir {
			return nil
		}
		if d.IsDir() {
			if matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == ignore.FileName || !d.Type().IsRegular() || matcher.Match(rel, false) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("jinja: walk %s: %w", baseDir, err)
	}
	return files, nil
}

func writeOutput(target, source, content string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("jinja: create %s: %w", filepath.Dir(target), err)
	}
	if err := atomic.WriteFile(target, strings.NewReader(content)); err != nil {
		return fmt.Errorf("jinja: write %s: %w", target, err)
	}
	if info, err := os.Stat(source); err == nil {
		if err := os.Chmod(target, info.Mode().Perm()); err != nil {
			return fmt.Errorf("jinja: chmod %s: %w", target, err)
		}
	}
	return nil
}
