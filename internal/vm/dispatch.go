package vm

import (
	"fmt"

	"github.com/cuemby/moo/internal/txn"
)

// step executes a single instruction against the current activation,
// returning ResultMore unless the instruction itself produced a
// terminal or suspending result (spec.md §4.6-§4.7 opcode contracts).
func (i *Interpreter) step(tx *txn.Transaction, st *VMExecState, session Session, in Instr) Result {
	act := st.current()

	switch in.Op {
	case OpNop:
		return Result{Kind: ResultMore}

	// --- Control ---
	case OpIfFalse:
		if !act.pop().Truthy() {
			act.PC = in.Label
		}
		return Result{Kind: ResultMore}
	case OpJump:
		act.PC = in.Label
		return Result{Kind: ResultMore}
	case OpWhileID:
		if name, ok := act.Program.varName(in.A); ok {
			act.Env[name] = None()
		}
		return Result{Kind: ResultMore}
	case OpForList:
		return i.stepForList(act, in)
	case OpForRange:
		return i.stepForRange(act, in)
	case OpExitID, OpExit:
		return i.unwindStack(st, UnwindReason{Kind: UnwindExit, ExitStack: st.depth() - 1, ExitLabel: in.Label})
	case OpReturn:
		v := act.pop()
		return i.unwindStack(st, UnwindReason{Kind: UnwindReturn, ReturnValue: v})
	case OpReturn0:
		return i.unwindStack(st, UnwindReason{Kind: UnwindReturn, ReturnValue: None()})
	case OpDone:
		var v Value
		if len(act.Stack) > 0 {
			v = act.top()
		} else {
			v = None()
		}
		return i.unwindStack(st, UnwindReason{Kind: UnwindReturn, ReturnValue: v})
	case OpContinue:
		reason := decodeReason(act.pop())
		return i.unwindStack(st, reason)

	// --- Stack / immediates ---
	case OpPop:
		act.pop()
		return Result{Kind: ResultMore}
	case OpImmNone:
		act.push(None())
		return Result{Kind: ResultMore}
	case OpImmInt, OpImmBigInt:
		act.push(Int(int64(in.A)))
		return Result{Kind: ResultMore}
	case OpImmObjID:
		act.push(ObjID(int64(in.A)))
		return Result{Kind: ResultMore}
	case OpImmErr:
		act.push(Err(in.Literal.Err))
		return Result{Kind: ResultMore}
	case OpImm:
		act.push(act.Program.Literals[in.A])
		return Result{Kind: ResultMore}
	case OpImmEmptyList:
		act.push(EmptyList())
		return Result{Kind: ResultMore}
	case OpMakeSingletonList:
		act.push(List(act.pop()))
		return Result{Kind: ResultMore}
	case OpPutTemp:
		act.Temp = act.pop()
		return Result{Kind: ResultMore}
	case OpPushTemp:
		act.push(act.Temp)
		return Result{Kind: ResultMore}

	// --- Lists / strings ---
	case OpListAddTail:
		tail := act.pop()
		lst := act.pop()
		if lst.Kind != KindList {
			return i.raise(st, E_TYPE, "list add tail on non-list")
		}
		act.push(List(append(append([]Value{}, lst.List...), tail)))
		return Result{Kind: ResultMore}
	case OpListAppend:
		b := act.pop()
		a := act.pop()
		if a.Kind != KindList || b.Kind != KindList {
			return i.raise(st, E_TYPE, "list append on non-list")
		}
		act.push(List(append(append([]Value{}, a.List...), b.List...)))
		return Result{Kind: ResultMore}
	case OpIndexSet:
		return i.stepIndexSet(st, act)
	case OpRef, OpPushRef:
		return i.stepRef(st, act, in.Op == OpPushRef)
	case OpRangeRef:
		return i.stepRangeRef(st, act)
	case OpRangeSet:
		return i.stepRangeSet(st, act)
	case OpLength:
		idx := len(act.Stack) - 1 - in.A
		if idx < 0 || idx >= len(act.Stack) {
			return i.raise(st, E_RANGE, "length offset out of range")
		}
		v := act.Stack[idx]
		switch v.Kind {
		case KindStr:
			act.push(Int(int64(len(v.Str))))
		case KindList:
			act.push(Int(int64(len(v.List))))
		default:
			return i.raise(st, E_TYPE, "length of non-collection")
		}
		return Result{Kind: ResultMore}
	case OpCheckListForSplice:
		if act.top().Kind != KindList {
			return i.raise(st, E_TYPE, "@ splice of non-list")
		}
		return Result{Kind: ResultMore}

	// --- Environment ---
	case OpPush:
		name, _ := act.Program.varName(in.A)
		v, ok := act.Env[name]
		if !ok {
			return i.raise(st, E_VARNF, fmt.Sprintf("variable %q not found", name))
		}
		act.push(v)
		return Result{Kind: ResultMore}
	case OpPut:
		name, _ := act.Program.varName(in.A)
		act.Env[name] = act.top()
		return Result{Kind: ResultMore}
	case OpGPush:
		name, _ := act.Program.varName(in.A)
		v := act.Env[name]
		act.push(v)
		return Result{Kind: ResultMore}
	case OpGPut:
		name, _ := act.Program.varName(in.A)
		act.Env[name] = act.pop()
		return Result{Kind: ResultMore}

	// --- Arithmetic / comparison ---
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpExp:
		return i.stepArith(st, act, in.Op)
	case OpUnaryMinus:
		v := act.pop()
		switch v.Kind {
		case KindInt:
			act.push(Int(-v.Int))
		case KindFloat:
			act.push(Float(-v.Float))
		default:
			return i.raise(st, E_TYPE, "unary minus on non-numeric")
		}
		return Result{Kind: ResultMore}
	case OpEq:
		b, a := act.pop(), act.pop()
		act.push(boolVal(Equal(a, b)))
		return Result{Kind: ResultMore}
	case OpNe:
		b, a := act.pop(), act.pop()
		act.push(boolVal(!Equal(a, b)))
		return Result{Kind: ResultMore}
	case OpLt, OpGt, OpLe, OpGe:
		return i.stepCompare(st, act, in.Op)
	case OpIn:
		needle, hay := act.pop(), act.pop()
		if hay.Kind != KindList {
			return i.raise(st, E_TYPE, "in on non-list")
		}
		pos := int64(0)
		for idx, e := range hay.List {
			if Equal(e, needle) {
				pos = int64(idx + 1)
				break
			}
		}
		act.push(Int(pos))
		return Result{Kind: ResultMore}
	case OpAnd:
		if !act.top().Truthy() {
			act.PC = in.Label
		} else {
			act.pop()
		}
		return Result{Kind: ResultMore}
	case OpOr:
		if act.top().Truthy() {
			act.PC = in.Label
		} else {
			act.pop()
		}
		return Result{Kind: ResultMore}
	case OpNot:
		act.push(boolVal(!act.pop().Truthy()))
		return Result{Kind: ResultMore}

	// --- World ---
	case OpGetProp, OpPushGetProp:
		return i.stepGetProp(tx, st, act, in.Op == OpPushGetProp)
	case OpPutProp:
		return i.stepPutProp(tx, st, act)
	case OpCallVerb:
		return i.stepCallVerb(tx, st, act)
	case OpPass:
		return i.stepPass(tx, st, act)
	case OpFuncCall:
		return i.stepFuncCall(tx, st, session, act, in)
	case OpFork:
		return i.stepFork(act, in)

	// --- Exceptions ---
	case OpPushLabel:
		act.push(Int(int64(in.Label)))
		return Result{Kind: ResultMore}
	case OpCatch:
		lists := make([]Value, in.A)
		for j := in.A - 1; j >= 0; j-- {
			lists[j] = act.pop()
		}
		label := int(act.pop().Int) // marker pushed by the preceding OpPushLabel
		act.pushHandler(Handler{Depth: len(act.Stack), Kind: HandlerCatch, CodeLists: lists, Label: label})
		return Result{Kind: ResultMore}
	case OpTryExcept:
		// Catch entries for each except clause were already pushed by
		// preceding OpCatch instructions; TryExcept itself is a no-op
		// marker kept for symmetry with the compiler's emitted structure.
		return Result{Kind: ResultMore}
	case OpTryFinally:
		act.pushHandler(Handler{Depth: len(act.Stack), Kind: HandlerFinally, Label: in.Label})
		return Result{Kind: ResultMore}
	case OpEndCatch, OpEndExcept:
		act.PC = in.Label
		return Result{Kind: ResultMore}
	case OpEndFinally:
		reason := decodeReason(act.pop())
		return i.unwindStack(st, reason)

	// --- Destructuring ---
	case OpScatter:
		return i.stepScatter(st, act, in.Scatter)
	}

	return Result{Kind: ResultMore}
}

func boolVal(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// varName resolves a variable-name table index; defined on Program so
// dispatch.go stays free of bounds-check clutter.
func (p *Program) varName(idx int) (string, bool) {
	if idx < 0 || idx >= len(p.VarNames) {
		return "", false
	}
	return p.VarNames[idx], true
}
