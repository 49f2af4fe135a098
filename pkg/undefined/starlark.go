package undefined

import (
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Starlark is Null as seen by filter code. Every operation on it, in either
// operand position, yields Starlark again.
var Starlark starlark.Value = starlarkNull{}

type starlarkNull struct{}

var (
	_ starlark.HasBinary = starlarkNull{}
	_ starlark.HasUnary  = starlarkNull{}
	_ starlark.HasAttrs  = starlarkNull{}
	_ starlark.Mapping   = starlarkNull{}
	_ starlark.Callable  = starlarkNull{}
	_ starlark.Sequence  = starlarkNull{}
)

func (starlarkNull) String() string        { return "" }
func (starlarkNull) Type() string          { return "null" }
func (starlarkNull) Freeze()               {}
func (starlarkNull) Truth() starlark.Bool  { return starlark.False }
func (starlarkNull) Hash() (uint32, error) { return 0, nil }
func (starlarkNull) Name() string          { return "null" }
func (starlarkNull) Len() int              { return 0 }
func (starlarkNull) AttrNames() []string   { return nil }

func (n starlarkNull) Binary(syntax.Token, starlark.Value, starlark.Side) (starlark.Value, error) {
	return n, nil
}

func (n starlarkNull) Unary(syntax.Token) (starlark.Value, error) {
	return n, nil
}

func (n starlarkNull) Attr(string) (starlark.Value, error) {
	return n, nil
}

func (n starlarkNull) Get(starlark.Value) (starlark.Value, bool, error) {
	return n, true, nil
}

func (n starlarkNull) CallInternal(*starlark.Thread, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return n, nil
}

func (starlarkNull) Iterate() starlark.Iterator { return emptyIterator{} }

type emptyIterator struct{}

func (emptyIterator) Next(*starlark.Value) bool { return false }
func (emptyIterator) Done()                     {}

// IsStarlark reports whether v is the Starlark Null.
func IsStarlark(v starlark.Value) bool {
	_, ok := v.(starlarkNull)
	return ok
}
