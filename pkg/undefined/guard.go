package undefined

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/nodes"
	"github.com/nikolalohinski/gonja/v2/tokens"
	"github.com/pkg/errors"
)

// GuardName is the global the rewritten templates call into.
const GuardName = "__jinja_absorb"

const (
	lhsName = "__jinja_lhs"
	rhsName = "__jinja_rhs"
)

// absorbing lists the binary operators Null short-circuits. Equality,
// membership, concatenation and the boolean operators keep their meaning.
var absorbing = map[tokens.Type]bool{
	tokens.Addition:           true,
	tokens.Subtraction:        true,
	tokens.Multiply:           true,
	tokens.Division:           true,
	tokens.FloorDivision:      true,
	tokens.Modulo:             true,
	tokens.Power:              true,
	tokens.LowerThan:          true,
	tokens.LowerThanOrEqual:   true,
	tokens.GreaterThan:        true,
	tokens.GreaterThanOrEqual: true,
}

// walked are the packages whose structs the rewriter descends into. Control
// structures from elsewhere are left as they are.
var walked = []string{
	"github.com/nikolalohinski/gonja/v2/nodes",
	"github.com/nikolalohinski/gonja/v2/builtins/control_structures",
}

// Guard makes arithmetic, ordering comparisons, negation and calls on Null
// yield Null. The engine cannot be taught new operator semantics, so Rewrite
// replaces each such node of a parsed template with a call to the guard
// function, which evaluates the operands once and either absorbs or runs the
// original operation on them.
type Guard struct {
	mu    sync.RWMutex
	next  int
	nodes map[int]nodes.Expression
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{nodes: map[int]nodes.Expression{}}
}

// Install binds the guard function into ctx under GuardName.
func (g *Guard) Install(ctx *exec.Context) {
	ctx.Set(GuardName, g.eval)
}

// Len reports how many rewritten nodes are live.
func (g *Guard) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Rewrite guards tpl in place, together with its parent templates, blocks and
// macros. It must run before tpl is executed. The returned func forgets the
// nodes again once tpl is discarded.
func (g *Guard) Rewrite(tpl *nodes.Template) (release func()) {
	if tpl == nil {
		return func() {}
	}
	w := &rewriter{
		guard: g,
		seen:  map[visit]bool{},
		done:  map[nodes.Node]nodes.Node{},
	}
	w.walk(reflect.ValueOf(tpl))

	ids := w.ids
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for _, id := range ids {
			delete(g.nodes, id)
		}
	}
}

func (g *Guard) register(expr nodes.Expression) *nodes.Call {
	g.mu.Lock()
	id := g.next
	g.next++
	g.nodes[id] = expr
	g.mu.Unlock()

	at := expr.Position()
	if at == nil {
		at = &tokens.Token{}
	}
	token := func(typ tokens.Type, val string) *tokens.Token {
		return &tokens.Token{Type: typ, Val: val, Pos: at.Pos, Line: at.Line, Col: at.Col}
	}
	return &nodes.Call{
		Location: at,
		Func:     &nodes.Name{Name: token(tokens.Name, GuardName)},
		Args:     []nodes.Expression{&nodes.Integer{Location: token(tokens.Integer, strconv.Itoa(id)), Val: id}},
		Kwargs:   map[string]nodes.Expression{},
	}
}

func (g *Guard) lookup(id int) (nodes.Expression, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	expr, ok := g.nodes[id]
	return expr, ok
}

func (g *Guard) eval(e *exec.Evaluator, params *exec.VarArgs) *exec.Value {
	if params == nil || len(params.Args) != 1 {
		return exec.AsValue(errors.New("undefined guard: expected a node id"))
	}
	id := params.Args[0].Integer()
	node, ok := g.lookup(id)
	if !ok {
		return exec.AsValue(errors.Errorf("undefined guard: unknown node %d", id))
	}

	switch n := node.(type) {
	case *nodes.BinaryExpression:
		return binary(e, n)
	case *nodes.UnaryExpression:
		return unary(e, n)
	case *nodes.Call:
		return call(e, n)
	default:
		return e.Eval(node)
	}
}

func binary(e *exec.Evaluator, n *nodes.BinaryExpression) *exec.Value {
	left := e.Eval(n.Left)
	if left.IsError() {
		return exec.AsValue(errors.Wrapf(left, `Unable to evaluate left parameter %s`, n.Left))
	}
	right := e.Eval(n.Right)
	if right.IsError() {
		return exec.AsValue(errors.Wrapf(right, `Unable to evaluate right parameter %s`, n.Right))
	}
	if absorbs(left) || absorbs(right) {
		return exec.AsValue(Value)
	}

	expr := &nodes.BinaryExpression{
		Left:     operand(lhsName, n.Left.Position()),
		Right:    operand(rhsName, n.Right.Position()),
		Operator: n.Operator,
	}
	return bind(e, map[string]*exec.Value{lhsName: left, rhsName: right}).Eval(expr)
}

func unary(e *exec.Evaluator, n *nodes.UnaryExpression) *exec.Value {
	term := e.Eval(n.Term)
	if term.IsError() {
		return exec.AsValue(errors.Wrapf(term, `Unable to evaluate term %s`, n.Term))
	}
	if absorbs(term) {
		return exec.AsValue(Value)
	}

	expr := &nodes.UnaryExpression{
		Negative: n.Negative,
		Term:     operand(lhsName, n.Term.Position()),
		Operator: n.Operator,
	}
	return bind(e, map[string]*exec.Value{lhsName: term}).Eval(expr)
}

// call absorbs when the callee, or the receiver of a method call, is Null.
// Otherwise the call runs as written; the receiver is a plain reference, so
// reading it twice is harmless.
func call(e *exec.Evaluator, n *nodes.Call) *exec.Value {
	if ref, ok := callee(n).(nodes.Expression); ok {
		if v := e.Eval(ref); !v.IsError() && absorbs(v) {
			return exec.AsValue(Value)
		}
	}
	return e.Eval(n)
}

func absorbs(v *exec.Value) bool {
	return v == nil || v.IsNil() || IsNull(v)
}

// bind returns an evaluator whose scope adds values on top of e's.
func bind(e *exec.Evaluator, values map[string]*exec.Value) *exec.Evaluator {
	ctx := e.Environment.Context.Inherit()
	for name, v := range values {
		ctx.Set(name, v)
	}
	return &exec.Evaluator{
		Config: e.Config,
		Environment: &exec.Environment{
			Filters:           e.Environment.Filters,
			Tests:             e.Environment.Tests,
			ControlStructures: e.Environment.ControlStructures,
			Context:           ctx,
			Methods:           e.Environment.Methods,
		},
		Loader: e.Loader,
	}
}

func operand(name string, at *tokens.Token) *nodes.Name {
	token := &tokens.Token{Type: tokens.Name, Val: name}
	if at != nil {
		token.Pos, token.Line, token.Col = at.Pos, at.Line, at.Col
	}
	return &nodes.Name{Name: token}
}

// callee returns what decides whether a call absorbs: the receiver of a
// method call, the called name otherwise.
func callee(n *nodes.Call) nodes.Node {
	switch f := n.Func.(type) {
	case *nodes.GetAttribute:
		return f.Node
	case *nodes.GetItem:
		return f.Node
	default:
		return n.Func
	}
}

// isReference reports whether node only reads names, attributes and literal
// keys.
func isReference(node nodes.Node) bool {
	switch n := node.(type) {
	case *nodes.Name:
		return true
	case *nodes.GetAttribute:
		return isReference(n.Node)
	case *nodes.GetItem:
		switch n.Arg.(type) {
		case *nodes.String, *nodes.Integer:
			return isReference(n.Node)
		default:
			return isReference(n.Node) && isReference(n.Arg)
		}
	default:
		return false
	}
}

type visit struct {
	typ reflect.Type
	ptr uintptr
}

type rewriter struct {
	guard *Guard
	seen  map[visit]bool
	done  map[nodes.Node]nodes.Node
	ids   []int
}

func (w *rewriter) walk(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || v.Elem().Kind() != reflect.Struct || !descends(v.Elem().Type()) {
			return
		}
		key := visit{typ: v.Type(), ptr: v.Pointer()}
		if w.seen[key] {
			return
		}
		w.seen[key] = true
		w.walk(v.Elem())
	case reflect.Struct:
		if !descends(v.Type()) {
			return
		}
		for i := 0; i < v.NumField(); i++ {
			if frozen(v.Type(), i) {
				continue
			}
			w.slot(writable(v.Field(i)))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			w.slot(writable(v.Index(i)))
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			value := reflect.New(v.Type().Elem()).Elem()
			value.Set(iter.Value())
			w.slot(value)
			v.SetMapIndex(iter.Key(), value)
		}
	}
}

// slot walks v and, when v is an interface holding an absorbing node,
// replaces the node with its guarded call. Children go first so nested
// operations are guarded too.
func (w *rewriter) slot(v reflect.Value) {
	if v.Kind() != reflect.Interface {
		w.walk(v)
		return
	}
	if v.IsNil() {
		return
	}
	inner := v.Elem()
	w.walk(inner)

	if !inner.CanInterface() || !v.CanSet() {
		return
	}
	node, ok := inner.Interface().(nodes.Node)
	if !ok {
		return
	}
	if guarded := w.replace(node); guarded != nil && reflect.TypeOf(guarded).AssignableTo(v.Type()) {
		v.Set(reflect.ValueOf(guarded))
	}
}

func (w *rewriter) replace(node nodes.Node) nodes.Node {
	switch n := node.(type) {
	case *nodes.BinaryExpression:
		if n.Operator == nil || n.Operator.Token == nil || !absorbing[n.Operator.Token.Type] {
			return nil
		}
	case *nodes.UnaryExpression:
		if !n.Negative {
			return nil
		}
	case *nodes.Call:
		if !isReference(callee(n)) {
			return nil
		}
	default:
		return nil
	}
	if done, ok := w.done[node]; ok {
		return done
	}

	guarded := w.guard.register(node.(nodes.Expression))
	w.ids = append(w.ids, guarded.Args[0].(*nodes.Integer).Val)
	w.done[node] = guarded
	return guarded
}

func descends(t reflect.Type) bool {
	for _, pkg := range walked {
		if t.PkgPath() == pkg {
			return true
		}
	}
	return false
}

// frozen marks fields that hold assignment targets rather than expressions.
func frozen(t reflect.Type, field int) bool {
	return strings.HasSuffix(t.PkgPath(), "/control_structures") &&
		t.Name() == "SetControlStructure" &&
		t.Field(field).Name == "target"
}

// writable lifts the read-only flag reflect puts on unexported fields. The
// control structures keep their expressions unexported.
func writable(v reflect.Value) reflect.Value {
	if v.CanSet() || !v.CanAddr() {
		return v
	}
	return reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
}
