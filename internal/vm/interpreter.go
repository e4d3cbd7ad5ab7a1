package vm

import (
	"time"

	"github.com/cuemby/moo/internal/builtin"
	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/obsmetrics"
	"github.com/cuemby/moo/internal/txn"
	"github.com/cuemby/moo/internal/world"
)

// MaxStackDepth is the activation-depth ceiling (spec.md §4.7 preamble
// step 1). It is a fixed constant; config.MaxStackDepth is not read.
const MaxStackDepth = 50

// Session is the thin collaborator notify path (spec.md §6 "Session
// interface"). Exec accepts one, but no builtin in this module and no
// scheduler path calls it.
type Session interface {
	Notify(player ids.ObjID, line string)
}

// Interpreter is the VM's single public entry point (spec.md §4.7:
// "Single public entry: exec(params, state, world, session,
// tick_slice)"). It holds no per-task state; all of that lives in
// VMExecState, so one Interpreter serves every concurrent task.
type Interpreter struct {
	World    world.World
	Builtins *builtin.Table
}

// New creates an Interpreter bound to a world-state implementation and
// builtin dispatch table.
func New(w world.World, builtins *builtin.Table) *Interpreter {
	return &Interpreter{World: w, Builtins: builtins}
}

// Exec runs opcodes from state's current activation against tx until
// the tick slice is exhausted or a non-More result is produced (spec.md
// §4.7). session is accepted for the Session contract; builtins do not
// receive it.
func (i *Interpreter) Exec(tx *txn.Transaction, st *VMExecState, session Session, tickSlice int) Result {
	// Preamble step 1: stack depth ceiling.
	if st.depth() >= MaxStackDepth {
		return i.raiseMaxRec(st)
	}

	// Preamble step 2: builtin re-entry trampoline.
	if act := st.current(); act.BFIndex >= 0 {
		return i.resumeBuiltin(tx, st, session)
	}

	for n := 0; n < tickSlice; n++ {
		if st.TicksLeft <= 0 {
			return i.unwindStack(st, UnwindReason{Kind: UnwindAbort})
		}
		if time.Now().After(st.Deadline) {
			r := i.unwindStack(st, UnwindReason{Kind: UnwindAbort})
			r.Abort = AbortTime
			return r
		}

		act := st.current()
		vec := act.vector()
		if act.PC < 0 || act.PC >= len(vec) {
			// Falling off the end of a vector behaves like Done.
			return i.step(tx, st, session, Instr{Op: OpDone})
		}
		in := vec[act.PC]
		act.PC++
		st.TicksLeft--
		obsmetrics.TicksExecutedTotal.Inc()

		res := i.step(tx, st, session, in)
		if res.Kind != ResultMore {
			return res
		}
	}
	return Result{Kind: ResultMore}
}

func (i *Interpreter) raiseMaxRec(st *VMExecState) Result {
	return i.unwindStack(st, UnwindReason{Kind: UnwindRaise, Code: E_MAXREC, Msg: "maximum recursion exceeded"})
}

// raise initiates an unwind for a value-level error, honoring the
// current verb's debug flag (spec.md §4.7 "Debug-flag interaction"):
// non-debug verbs only push the error value (push_error), debug verbs
// raise immediately.
func (i *Interpreter) raise(st *VMExecState, code ErrCode, msg string) Result {
	act := st.current()
	if !act.Verb.Debug {
		act.push(Err(code))
		return Result{Kind: ResultMore}
	}
	return i.unwindStack(st, UnwindReason{Kind: UnwindRaise, Code: code, Msg: msg})
}
