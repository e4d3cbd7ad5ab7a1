package vm

import "github.com/cuemby/moo/internal/ids"

// HandlerKind tags an entry on an activation's handler stack (spec.md
// §3 invariant I6).
type HandlerKind int

const (
	HandlerFinally HandlerKind = iota
	HandlerCatch
)

// Handler is one LIFO entry on an activation's handler stack: the value
// stack depth it was pushed at, its kind, and the data needed to act on
// it during unwind (spec.md §4.7 "Handler stack and unwinding").
type Handler struct {
	Depth      int
	Kind       HandlerKind
	Label      int // Finally: jump target. Catch: except-body target jumped to once matched.
	NumExcepts int // Catch: how many code-lists this entry covers
	CodeLists  []Value // Catch: the popped code-list values, one per except clause
}

// VerbInfo names the verb an activation is executing, for backtrace
// composition (spec.md §4.7 "Backtrace composition").
type VerbInfo struct {
	Names    string
	Definer  ids.ObjID
	Owner    ids.ObjID
	Debug    bool // non-debug verbs catch push_error instead of raising
}

// Activation is one frame of the VM call stack (spec.md §3 GLOSSARY).
type Activation struct {
	Program    *Program
	PC         int
	ForkVector int // -1 selects Program.Main

	Stack    []Value
	Env      map[string]Value
	Handlers []Handler

	Permissions ids.ObjID
	Caller      ids.ObjID
	This        ids.ObjID
	Player      ids.ObjID
	Verb        VerbInfo

	// Builtin re-entry / trampoline state (spec.md §4.7 preamble step 2).
	BFIndex     int // -1 when not inside a builtin trampoline
	BFTrampoline int

	Temp Value
}

// NewActivation creates a root activation executing program's main
// vector from offset 0.
func NewActivation(program *Program, perms, caller, this, player ids.ObjID, verb VerbInfo) *Activation {
	return &Activation{
		Program:     program,
		ForkVector:  -1,
		Env:         make(map[string]Value),
		Permissions: perms,
		Caller:      caller,
		This:        this,
		Player:      player,
		Verb:        verb,
		BFIndex:     -1,
	}
}

func (a *Activation) vector() []Instr { return a.Program.Vector(a.ForkVector) }

func (a *Activation) push(v Value) { a.Stack = append(a.Stack, v) }

func (a *Activation) pop() Value {
	n := len(a.Stack)
	v := a.Stack[n-1]
	a.Stack = a.Stack[:n-1]
	return v
}

func (a *Activation) top() Value { return a.Stack[len(a.Stack)-1] }

func (a *Activation) pushHandler(h Handler) { a.Handlers = append(a.Handlers, h) }

func (a *Activation) popHandler() Handler {
	n := len(a.Handlers)
	h := a.Handlers[n-1]
	a.Handlers = a.Handlers[:n-1]
	return h
}
