package analysis

import (
	"sort"

	"github.com/nikolalohinski/gonja/v2/nodes"
)

// scope tracks the names bound at one nesting level. A read is undeclared
// when no enclosing scope has bound the name by the time it is read.
type scope struct {
	parent *scope
	names  map[string]struct{}
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: map[string]struct{}{}}
}

func (s *scope) bind(names ...string) {
	for _, name := range names {
		s.names[name] = struct{}{}
	}
}

func (s *scope) has(name string) bool {
	for c := s; c != nil; c = c.parent {
		if _, ok := c.names[name]; ok {
			return true
		}
	}
	return false
}

type walker struct {
	isGlobal   func(string) bool
	undeclared map[string]struct{}
	references []string
}

func (w *walker) read(s *scope, name string) {
	if s.has(name) || w.isGlobal(name) {
		return
	}
	w.undeclared[name] = struct{}{}
}

func (w *walker) sortedUndeclared() []string {
	out := make([]string, 0, len(w.undeclared))
	for name := range w.undeclared {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (w *walker) body(s *scope, wrapper *nodes.Wrapper) {
	if wrapper == nil {
		return
	}
	w.nodes(s, wrapper.Nodes)
}

func (w *walker) nodes(s *scope, list []nodes.Node) {
	for _, n := range list {
		w.node(s, n)
	}
}

func (w *walker) node(s *scope, n nodes.Node) {
	switch n := n.(type) {
	case nil, *nodes.Data, *nodes.Comment:
	case *nodes.ControlStructureBlock:
		w.statement(s, n.ControlStructure)
	case *nodes.Wrapper:
		w.body(s, n)
	default:
		w.expr(s, n)
	}
}

func (w *walker) statement(s *scope, n nodes.ControlStructure) {
	switch n := n.(type) {
	case *setNode:
		w.set(s, n)
	case *forNode:
		w.expr(s, n.iter)
		inner := newScope(s)
		inner.bind(n.targets...)
		inner.bind("loop")
		w.expr(inner, n.cond)
		w.body(inner, n.body)
		w.body(newScope(s), n.elseBody)
	case *ifNode:
		w.ifBranches(s, n)
	case *withNode:
		for _, value := range n.values {
			w.expr(s, value)
		}
		inner := newScope(s)
		inner.bind(n.names...)
		w.body(inner, n.body)
	case *macroNode:
		for _, value := range n.defaults {
			w.expr(s, value)
		}
		s.bind(n.name)
		inner := newScope(s)
		inner.bind(n.params...)
		inner.bind("varargs", "kwargs", "caller")
		w.body(inner, n.body)
	case *callNode:
		w.expr(s, n.call)
		inner := newScope(s)
		inner.bind(n.params...)
		inner.bind("caller")
		w.body(inner, n.body)
	case *filterNode:
		for _, filter := range n.filters {
			w.filter(s, filter)
		}
		w.body(newScope(s), n.body)
	case *blockNode:
		w.body(newScope(s), n.body)
	case *scopedNode:
		w.body(s, n.body)
	case *refNode:
		w.expr(s, n.template)
		w.reference(n.template)
		s.bind(n.binds...)
	case *exprNode:
		w.expr(s, n.expr)
	case *transNode:
		for _, value := range n.values {
			w.expr(s, value)
		}
		inner := newScope(s)
		inner.bind(n.names...)
		for _, body := range n.bodies {
			w.body(inner, body)
		}
	case *emptyNode:
	}
}

func (w *walker) set(s *scope, n *setNode) {
	if n.body != nil {
		w.body(newScope(s), n.body)
		for _, filter := range n.filters {
			w.filter(s, filter)
		}
	}
	for _, value := range n.values {
		w.expr(s, value)
	}
	w.expr(s, n.cond)
	w.expr(s, n.alt)
	for _, target := range n.targets {
		w.expr(s, target)
	}
	s.bind(n.names...)
}

// ifBranches walks each branch in its own scope. Names bound in every branch,
// including an else, stay bound after the if; names bound in only some of
// them do not.
func (w *walker) ifBranches(s *scope, n *ifNode) {
	var common map[string]struct{}
	for i, branch := range n.branches {
		if i < len(n.conds) {
			w.expr(s, n.conds[i])
		}
		inner := newScope(s)
		w.body(inner, branch)
		if common == nil {
			common = inner.names
			continue
		}
		for name := range common {
			if _, ok := inner.names[name]; !ok {
				delete(common, name)
			}
		}
	}
	if !n.hasElse {
		return
	}
	for name := range common {
		s.bind(name)
	}
}

func (w *walker) reference(n nodes.Expression) {
	switch n := n.(type) {
	case *nodes.String:
		w.references = append(w.references, n.Val)
	case *nodes.List:
		for _, item := range n.Val {
			w.reference(item)
		}
	case *nodes.Tuple:
		for _, item := range n.Val {
			w.reference(item)
		}
	}
}

func (w *walker) filter(s *scope, f *nodes.FilterCall) {
	if f == nil {
		return
	}
	for _, arg := range f.Args {
		w.expr(s, arg)
	}
	for _, key := range sortedKeys(f.Kwargs) {
		w.expr(s, f.Kwargs[key])
	}
}

func (w *walker) expr(s *scope, n nodes.Node) {
	switch n := n.(type) {
	case nil:
	case *nodes.Name:
		w.read(s, n.Name.Val)
	case *nodes.String, *nodes.Integer, *nodes.Float, *nodes.Bool, *nodes.None, *nodes.Error:
	case *nodes.Output:
		w.expr(s, n.Expression)
		w.expr(s, n.Condition)
		w.expr(s, n.Alternative)
	case *nodes.List:
		for _, item := range n.Val {
			w.expr(s, item)
		}
	case *nodes.Tuple:
		for _, item := range n.Val {
			w.expr(s, item)
		}
	case *nodes.Dict:
		for _, pair := range n.Pairs {
			w.expr(s, pair.Key)
			w.expr(s, pair.Value)
		}
	case *nodes.Pair:
		w.expr(s, n.Key)
		w.expr(s, n.Value)
	case *nodes.FilteredExpression:
		w.expr(s, n.Expression)
		for _, filter := range n.Filters {
			w.filter(s, filter)
		}
	case *nodes.TestExpression:
		w.expr(s, n.Expression)
		if n.Test != nil {
			for _, arg := range n.Test.Args {
				w.expr(s, arg)
			}
			for _, key := range sortedKeys(n.Test.Kwargs) {
				w.expr(s, n.Test.Kwargs[key])
			}
		}
	case *nodes.Call:
		w.expr(s, n.Func)
		for _, arg := range n.Args {
			w.expr(s, arg)
		}
		for _, key := range sortedKeys(n.Kwargs) {
			w.expr(s, n.Kwargs[key])
		}
	case *nodes.GetAttribute:
		w.expr(s, n.Node)
	case *nodes.GetItem:
		w.expr(s, n.Node)
		w.expr(s, n.Arg)
	case *nodes.GetSlice:
		w.expr(s, n.Node)
		w.expr(s, n.Start)
		w.expr(s, n.End)
		w.expr(s, n.Step)
	case *nodes.Negation:
		w.expr(s, n.Term)
	case *nodes.UnaryExpression:
		w.expr(s, n.Term)
	case *nodes.BinaryExpression:
		w.expr(s, n.Left)
		w.expr(s, n.Right)
	case *nodes.Variable:
		for i, part := range n.Parts {
			if i == 0 && part.Type == nodes.VarTypeIdent {
				w.read(s, part.S)
			}
			for _, arg := range part.Args {
				w.expr(s, arg)
			}
			for _, key := range sortedKeys(part.Kwargs) {
				w.expr(s, part.Kwargs[key])
			}
		}
	}
}

func sortedKeys(m map[string]nodes.Expression) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
