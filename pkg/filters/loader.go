// Package filters compiles user supplied filter code into template filters.
// Filter code is Starlark, a Python dialect: each source is executed in its
// own global scope and the named function becomes the filter.
package filters

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nikolalohinski/gonja/v2/exec"
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/goliatone/go-jinja/pkg/logging"
)

// ErrFunctionNotFound is matched by every *FunctionNotFoundError.
var ErrFunctionNotFound = errors.New("function not found in filter code")

// FunctionNotFoundError reports filter code that does not define the
// requested function, or defines it as something other than a function.
type FunctionNotFoundError struct {
	Function string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function %s is not found in filter code", e.Function)
}

// Is lets errors.Is(err, ErrFunctionNotFound) match.
func (e *FunctionNotFoundError) Is(target error) bool {
	return target == ErrFunctionNotFound
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// ParseName splits a filter key. "mod:fn" names filter "mod" backed by
// function "fn"; any other key names both.
func ParseName(key string) (filterName, funcName string) {
	if name, fn, ok := strings.Cut(key, ":"); ok {
		return name, fn
	}
	return key, key
}

// Option configures Compile.
type Option func(*compileConfig)

type compileConfig struct {
	logger logging.Logger
}

// WithLogger routes print() output of filter code to logger.
func WithLogger(logger logging.Logger) Option {
	return func(cfg *compileConfig) {
		cfg.logger = logger
	}
}

// Filter is a compiled filter function.
type Filter struct {
	Name     string
	Function string

	fn     starlark.Callable
	logger logging.Logger
}

// Compile executes source in an isolated scope and looks up the function the
// key names. Syntax and runtime errors raised while executing the source are
// returned as is.
func Compile(key, source string, opts ...Option) (*Filter, error) {
	cfg := compileConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	logger := logging.OrNop(cfg.logger)

	name, function := ParseName(key)
	thread := newThread("load "+key, logger)
	globals, err := starlark.ExecFileOptions(fileOptions, thread, key+".star", source, predeclared())
	if err != nil {
		return nil, fmt.Errorf("filters: load %s: %w", key, err)
	}

	value, ok := globals[function]
	if !ok {
		return nil, &FunctionNotFoundError{Function: function}
	}
	callable, ok := value.(starlark.Callable)
	if !ok {
		return nil, &FunctionNotFoundError{Function: function}
	}

	return &Filter{
		Name:     name,
		Function: function,
		fn:       callable,
		logger:   logger,
	}, nil
}

// Call invokes the filter with Go values and returns the converted result.
func (f *Filter) Call(in any, args []any, kwargs map[string]any) (any, error) {
	sargs := make(starlark.Tuple, 0, len(args)+1)
	for _, value := range append([]any{in}, args...) {
		converted, err := ToStarlark(value)
		if err != nil {
			return nil, err
		}
		sargs = append(sargs, converted)
	}

	names := make([]string, 0, len(kwargs))
	for key := range kwargs {
		names = append(names, key)
	}
	sort.Strings(names)
	skwargs := make([]starlark.Tuple, 0, len(names))
	for _, key := range names {
		converted, err := ToStarlark(kwargs[key])
		if err != nil {
			return nil, err
		}
		skwargs = append(skwargs, starlark.Tuple{starlark.String(key), converted})
	}

	out, err := starlark.Call(newThread("filter "+f.Name, f.logger), f.fn, sargs, skwargs)
	if err != nil {
		return nil, err
	}
	return FromStarlark(out), nil
}

// Func adapts the filter to gonja's filter signature. Errors are returned as
// error values, the way gonja's own filters report them.
func (f *Filter) Func() exec.FilterFunction {
	return func(_ *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
		var (
			args   []any
			kwargs map[string]any
		)
		if params != nil {
			args = make([]any, len(params.Args))
			for i, arg := range params.Args {
				args[i] = arg
			}
			kwargs = make(map[string]any, len(params.KwArgs))
			for key, arg := range params.KwArgs {
				kwargs[key] = arg
			}
		}
		out, err := f.Call(in, args, kwargs)
		if err != nil {
			return exec.AsValue(fmt.Errorf("filter %s: %s", f.Name, err))
		}
		return exec.AsValue(out)
	}
}

// Install registers the filter in set, replacing a built-in of the same name.
func Install(set *exec.FilterSet, f *Filter) error {
	if set.Exists(f.Name) {
		return set.Replace(f.Name, f.Func())
	}
	return set.Register(f.Name, f.Func())
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"json":   json.Module,
		"math":   math.Module,
		"time":   time.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}

func newThread(name string, logger logging.Logger) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug("filter print", "thread", name, "msg", msg)
		},
	}
}
