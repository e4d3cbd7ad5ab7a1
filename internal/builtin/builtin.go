// Package builtin is the fixed-size builtin function dispatch table
// named in spec.md §9: "Builtins are entries in a fixed-size table...
// never names them by string at execution time". Builtin *bodies* are
// out of scope per spec.md §1 ("Built-in function bodies (the VM
// dispatches by index to an external table)"); this package supplies
// the table structure plus a handful of genuinely implementable
// entries that need no world-state or command-parser collaborator.
package builtin

import (
	"fmt"
	"math/rand"

	"github.com/cuemby/moo/internal/ids"
)

// Value mirrors internal/vm.Value's shape without importing vm (vm
// imports builtin, not the reverse). Interpreter.stepFuncCall converts
// at the boundary (toBuiltinValue/fromBuiltinValue in vm/convert.go).
type Value struct {
	Kind  string // "none", "int", "float", "str", "obj", "err", "list"
	Int   int64
	Float float64
	Str   string
	ObjID ids.ObjID
	Err   string
	List  []Value
}

// Result is what a builtin call produces: either a return value or a
// VM value-level error, represented the same way an opcode's own
// push_error path would (spec.md §4.7 "Debug-flag interaction").
type Result struct {
	Value Value
	Err   string // ErrCode string, "" if Value is the real result
}

// BuiltinFunc is one builtin's body. args is already-evaluated (no
// further VM state needed for the builtins this package implements);
// out-of-scope builtins use a Call that simply returns a documented
// E_INVARG stub.
type BuiltinFunc func(args []Value) Result

// Entry is one dispatch-table slot (spec.md §4.10).
type Entry struct {
	Name     string
	TickCost int
	Call     BuiltinFunc
}

// Table is the fixed-size, index-addressed builtin table (spec.md §9).
// Index is the compile-time builtin id a Program's FuncCall opcode
// carries; Name exists only for diagnostics/backtraces, never for
// dispatch.
type Table struct {
	entries []Entry
	byName  map[string]int
}

// NewTable builds the table with the default entries (tostr, typeof,
// length, random, raise) plus out-of-scope stubs.
func NewTable() *Table {
	t := &Table{byName: make(map[string]int)}
	t.register(Entry{Name: "tostr", TickCost: 1, Call: biToStr})
	t.register(Entry{Name: "typeof", TickCost: 1, Call: biTypeOf})
	t.register(Entry{Name: "length", TickCost: 1, Call: biLength})
	t.register(Entry{Name: "random", TickCost: 1, Call: biRandom})
	t.register(Entry{Name: "raise", TickCost: 1, Call: biRaise})

	// Out-of-scope: require the command parser or world object graph
	// (spec.md §1 Non-goals); registered so programs referencing them
	// compile and run to a well-defined stub instead of an unresolved
	// index (spec.md §4.10).
	for _, name := range []string{"notify", "move", "create", "verb_info", "players", "connected_players"} {
		t.register(Entry{Name: name, TickCost: 1, Call: biUnimplemented(name)})
	}
	return t
}

func (t *Table) register(e Entry) {
	t.byName[e.Name] = len(t.entries)
	t.entries = append(t.entries, e)
}

// IndexOf returns a builtin's compile-time index, for a loader/compiler
// to bake into a Program's FuncCall operand.
func (t *Table) IndexOf(name string) (int, bool) {
	i, ok := t.byName[name]
	return i, ok
}

// Len returns the number of registered builtins.
func (t *Table) Len() int { return len(t.entries) }

// Call dispatches strictly by index, per spec.md §9's "never names
// them by string at execution time".
func (t *Table) Call(index int, args []Value) (Result, int, error) {
	if index < 0 || index >= len(t.entries) {
		return Result{}, 0, fmt.Errorf("builtin: index %d out of range", index)
	}
	e := t.entries[index]
	return e.Call(args), e.TickCost, nil
}

func biToStr(args []Value) Result {
	var out string
	for _, a := range args {
		out += valueToStr(a)
	}
	return Result{Value: Value{Kind: "str", Str: out}}
}

func valueToStr(v Value) string {
	switch v.Kind {
	case "str":
		return v.Str
	case "int":
		return fmt.Sprintf("%d", v.Int)
	case "float":
		return fmt.Sprintf("%g", v.Float)
	case "obj":
		return fmt.Sprintf("#%d", int64(v.ObjID))
	case "err":
		return v.Err
	case "none":
		return ""
	default:
		return ""
	}
}

func biTypeOf(args []Value) Result {
	if len(args) != 1 {
		return Result{Err: "E_ARGS"}
	}
	kindCodes := map[string]int64{
		"int": 0, "obj": 1, "str": 2, "err": 3, "list": 4, "none": 5, "float": 9,
	}
	code, ok := kindCodes[args[0].Kind]
	if !ok {
		code = 5
	}
	return Result{Value: Value{Kind: "int", Int: code}}
}

func biLength(args []Value) Result {
	if len(args) != 1 {
		return Result{Err: "E_ARGS"}
	}
	switch args[0].Kind {
	case "str":
		return Result{Value: Value{Kind: "int", Int: int64(len(args[0].Str))}}
	case "list":
		return Result{Value: Value{Kind: "int", Int: int64(len(args[0].List))}}
	default:
		return Result{Err: "E_TYPE"}
	}
}

func biRandom(args []Value) Result {
	n := int64(2147483647)
	if len(args) == 1 {
		if args[0].Kind != "int" {
			return Result{Err: "E_TYPE"}
		}
		n = args[0].Int
	} else if len(args) > 1 {
		return Result{Err: "E_ARGS"}
	}
	if n <= 0 {
		return Result{Err: "E_INVARG"}
	}
	return Result{Value: Value{Kind: "int", Int: 1 + rand.Int63n(n)}}
}

func biRaise(args []Value) Result {
	if len(args) < 1 || args[0].Kind != "err" {
		return Result{Err: "E_ARGS"}
	}
	// biRaise's own return is meaningless: the interpreter treats the Err
	// field like any builtin error, raising it in a debug verb and
	// pushing it as a value in a non-debug verb (spec.md §4.6 FuncCall
	// calling into raise()).
	return Result{Err: args[0].Err}
}

func biUnimplemented(name string) BuiltinFunc {
	return func(args []Value) Result {
		return Result{Err: "E_INVARG"}
	}
}
