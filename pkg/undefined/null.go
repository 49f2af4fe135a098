package undefined

import (
	"github.com/nikolalohinski/gonja/v2/exec"
)

// Null is the permissive stand-in for an unset name. Its string kind makes the
// engine treat it as falsy, zero length and empty when iterated, while the
// getter methods keep attribute and item access on it from failing.
type Null string

// Value is the single Null instance bound into render contexts.
const Value Null = ""

// String renders as empty output.
func (Null) String() string { return "" }

// GetAttribute returns Null for any attribute.
func (Null) GetAttribute(string) (*exec.Value, bool) {
	return exec.AsValue(Value), true
}

// GetItem returns Null for any key.
func (Null) GetItem(any) (*exec.Value, bool) {
	return exec.AsValue(Value), true
}

var (
	_ exec.AttributeGetter = Value
	_ exec.ItemGetter      = Value
)

// IsNull reports whether v holds the Null sentinel.
func IsNull(v *exec.Value) bool {
	if v == nil {
		return false
	}
	_, ok := v.Interface().(Null)
	return ok
}

// Missing reports whether v is unset under either policy: nil, an evaluation
// error, or Null.
func Missing(v *exec.Value) bool {
	return v == nil || v.IsNil() || v.IsError() || IsNull(v)
}

// Seed binds each name to Null in data unless it is already present.
func Seed(data map[string]any, names []string) {
	for _, name := range names {
		if _, ok := data[name]; ok {
			continue
		}
		data[name] = Value
	}
}

// Tests returns the Null-aware replacements for gonja's defined and undefined
// tests. Like an undefined value in Jinja, Null is not none.
func Tests() map[string]exec.TestFunction {
	return map[string]exec.TestFunction{
		"defined": func(_ *exec.Context, in *exec.Value, _ *exec.VarArgs) (bool, error) {
			return !Missing(in), nil
		},
		"undefined": func(_ *exec.Context, in *exec.Value, _ *exec.VarArgs) (bool, error) {
			return Missing(in), nil
		},
	}
}

// AbsorbFilter wraps a filter so that Null input comes back as Null. Numeric
// coercions use it: an unset value does not become zero.
func AbsorbFilter(fn exec.FilterFunction) exec.FilterFunction {
	return func(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
		if IsNull(in) {
			return exec.AsValue(Value)
		}
		return fn(e, in, params)
	}
}

// NilFilter wraps a filter so that Null input reaches it as nil, the shape
// gonja's own filters already handle.
func NilFilter(fn exec.FilterFunction) exec.FilterFunction {
	return func(e *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
		if IsNull(in) {
			in = exec.AsValue(nil)
		}
		return fn(e, in, params)
	}
}
