package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	jinja "github.com/goliatone/go-jinja"
	"github.com/goliatone/go-jinja/pkg/config"
	"github.com/goliatone/go-jinja/pkg/logging"
	"github.com/goliatone/go-jinja/pkg/render"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(value string) error {
	*l = append(*l, value)
	return nil
}

type options struct {
	configPath   string
	mode         string
	searchDirs   listFlag
	globals      listFlag
	filters      listFlag
	extensions   listFlag
	nonStrict    bool
	trimBlocks   bool
	lstripBlocks bool
	debugTrace   bool
	logFormat    string
	logLevel     string
	out          string
	watch        bool

	sourceDir string
	subdir    string
	targetDir string
	excludes  listFlag

	items []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run returns 0 when every item rendered, 1 when some item failed and 2 on
// usage or setup errors.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(opts.logLevel),
		Format: opts.logFormat,
		Output: stderr,
	})

	cfg, err := buildConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "jinja-cli: %v\n", err)
		return 2
	}
	renderer := jinja.New(jinja.WithConfig(cfg), jinja.WithLogger(logger))

	job, err := newJob(opts, renderer, stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "jinja-cli: %v\n", err)
		return 2
	}

	code := job(ctx)
	if !opts.watch {
		return code
	}

	dirs := append([]string(nil), cfg.SearchDirs...)
	if opts.sourceDir != "" {
		dirs = append(dirs, opts.sourceDir)
	}
	if err := watch(ctx, dirs, logger, func() { job(ctx) }); err != nil {
		fmt.Fprintf(stderr, "jinja-cli: watch: %v\n", err)
		return 2
	}
	return code
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("jinja-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: jinja-cli [flags] [items...]\n\n")
		fmt.Fprintf(fs.Output(), "Render templates and print JSON results. Items are read from stdin, one per line, when none are given.\n\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.configPath, "config", "", "config file (JSON or YAML)")
	fs.StringVar(&opts.mode, "mode", "strings", "strings, files, vars or dir")
	fs.Var(&opts.searchDirs, "search-dir", "template search directory (repeatable)")
	fs.Var(&opts.globals, "global", "global variable as key=value; value is parsed as YAML (repeatable)")
	fs.Var(&opts.filters, "filter", "filter as name=path.star or name:function=path.star (repeatable)")
	fs.Var(&opts.extensions, "extension", "extension id such as jinja2.ext.do (repeatable)")
	fs.BoolVar(&opts.nonStrict, "non-strict", false, "render undefined variables as empty")
	fs.BoolVar(&opts.trimBlocks, "trim-blocks", false, "remove the first newline after a block tag")
	fs.BoolVar(&opts.lstripBlocks, "lstrip-blocks", false, "strip whitespace before a block tag")
	fs.BoolVar(&opts.debugTrace, "debug-trace", false, "enable engine trace logging")
	fs.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.StringVar(&opts.out, "out", "", "write results to this file instead of stdout")
	fs.BoolVar(&opts.watch, "watch", false, "re-render when files in the search dirs change")
	fs.StringVar(&opts.sourceDir, "source-dir", "", "dir mode: directory to render")
	fs.StringVar(&opts.subdir, "subdir", "", "dir mode: part of source-dir to render")
	fs.StringVar(&opts.targetDir, "target-dir", "", "dir mode: output directory")
	fs.Var(&opts.excludes, "exclude", "dir mode: extra ignore pattern (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.items = fs.Args()
	return opts, nil
}

func buildConfig(opts *options) (config.Config, error) {
	cfg := config.New()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	cfg.Apply(
		config.WithSearchDirs(opts.searchDirs...),
		config.WithExtensions(opts.extensions...),
	)
	for _, raw := range opts.globals {
		name, value, err := parseGlobal(raw)
		if err != nil {
			return config.Config{}, err
		}
		cfg.Apply(config.WithGlobal(name, value))
	}
	for _, raw := range opts.filters {
		name, path, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(path) == "" {
			return config.Config{}, fmt.Errorf("filter %q: want name=path", raw)
		}
		source, err := os.ReadFile(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("filter %q: %w", name, err)
		}
		cfg.Apply(config.WithFilter(strings.TrimSpace(name), string(source)))
	}
	if opts.nonStrict {
		cfg.Apply(config.WithNonStrict(true))
	}
	if opts.trimBlocks {
		cfg.Apply(config.WithTrimBlocks(true))
	}
	if opts.lstripBlocks {
		cfg.Apply(config.WithLStripBlocks(true))
	}
	if opts.debugTrace {
		cfg.Apply(config.WithDebugTrace(true))
	}
	return cfg, cfg.Validate()
}

// parseGlobal splits key=value and decodes value as a YAML scalar or document
// so numbers, booleans, lists and maps keep their type.
func parseGlobal(raw string) (string, any, error) {
	name, text, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("global %q: want key=value", raw)
	}
	var value any
	if err := yaml.Unmarshal([]byte(text), &value); err != nil || value == nil {
		return name, text, nil
	}
	return name, value, nil
}

// newJob returns the unit of work run once, and again on every change when
// watching.
func newJob(opts *options, renderer *jinja.Renderer, stdin io.Reader, stdout, stderr io.Writer) (func(context.Context) int, error) {
	if opts.mode == "dir" {
		if opts.sourceDir == "" || opts.targetDir == "" {
			return nil, errors.New("dir mode needs -source-dir and -target-dir")
		}
		job := jinja.DirectoryJob{
			SourceDir: opts.sourceDir,
			Subdir:    filepath.FromSlash(opts.subdir),
			TargetDir: opts.targetDir,
			Excludes:  opts.excludes,
		}
		return func(ctx context.Context) int {
			if err := renderer.RenderDirectory(ctx, job); err != nil {
				fmt.Fprintf(stderr, "jinja-cli: %v\n", err)
				return 1
			}
			return 0
		}, nil
	}

	mode, err := render.ParseMode(opts.mode)
	if err != nil {
		return nil, err
	}
	items := opts.items
	if len(items) == 0 {
		items, err = readLines(stdin)
		if err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context) int {
		var results []jinja.Result
		switch mode {
		case render.ModeRenderFiles:
			results = renderer.RenderFiles(ctx, items)
		case render.ModeFindVariables:
			results = renderer.FindVariables(ctx, items)
		default:
			results = renderer.RenderStrings(ctx, items)
		}
		if err := emit(results, opts.out, stdout); err != nil {
			fmt.Fprintf(stderr, "jinja-cli: %v\n", err)
			return 2
		}
		for _, r := range results {
			if !r.OK() {
				return 1
			}
		}
		return 0
	}, nil
}

func emit(results []jinja.Result, out string, stdout io.Writer) error {
	data, err := jinja.MarshalResults(results)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if out == "" {
		_, err := stdout.Write(data)
		return err
	}
	return atomic.WriteFile(out, bytes.NewReader(data))
}

func readLines(r io.Reader) ([]string, error) {
	if r == nil {
		return nil, nil
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
