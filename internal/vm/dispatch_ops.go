package vm

import (
	"github.com/cuemby/moo/internal/builtin"
	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/txn"
	"github.com/cuemby/moo/internal/world"
)

// --- Lists / strings ---

func (i *Interpreter) stepIndexSet(st *VMExecState, act *Activation) Result {
	value := act.pop()
	index := act.pop()
	coll := act.pop()
	if index.Kind != KindInt {
		return i.raise(st, E_TYPE, "index must be an integer")
	}
	pos := int(index.Int) - 1
	switch coll.Kind {
	case KindList:
		if pos < 0 || pos >= len(coll.List) {
			return i.raise(st, E_RANGE, "list index out of range")
		}
		out := append([]Value{}, coll.List...)
		out[pos] = value
		act.push(List(out...))
		return Result{Kind: ResultMore}
	default:
		return i.raise(st, E_TYPE, "index assignment on non-list")
	}
}

func (i *Interpreter) stepRef(st *VMExecState, act *Activation, pushSelf bool) Result {
	index := act.pop()
	var coll Value
	if pushSelf {
		coll = act.top()
	} else {
		coll = act.pop()
	}
	if index.Kind != KindInt {
		return i.raise(st, E_TYPE, "index must be an integer")
	}
	pos := int(index.Int) - 1
	switch coll.Kind {
	case KindList:
		if pos < 0 || pos >= len(coll.List) {
			return i.raise(st, E_RANGE, "list index out of range")
		}
		act.push(coll.List[pos])
	case KindStr:
		if pos < 0 || pos >= len(coll.Str) {
			return i.raise(st, E_RANGE, "string index out of range")
		}
		act.push(Str(string(coll.Str[pos])))
	default:
		return i.raise(st, E_TYPE, "indexing non-collection")
	}
	return Result{Kind: ResultMore}
}

func (i *Interpreter) stepRangeRef(st *VMExecState, act *Activation) Result {
	end := act.pop()
	start := act.pop()
	coll := act.pop()
	if start.Kind != KindInt || end.Kind != KindInt {
		return i.raise(st, E_TYPE, "range bounds must be integers")
	}
	from, to := int(start.Int)-1, int(end.Int)-1
	switch coll.Kind {
	case KindList:
		if from < 0 {
			from = 0
		}
		if to >= len(coll.List) {
			to = len(coll.List) - 1
		}
		if from > to {
			act.push(EmptyList())
			return Result{Kind: ResultMore}
		}
		act.push(List(append([]Value{}, coll.List[from:to+1]...)...))
	case KindStr:
		if from < 0 {
			from = 0
		}
		if to >= len(coll.Str) {
			to = len(coll.Str) - 1
		}
		if from > to {
			act.push(Str(""))
			return Result{Kind: ResultMore}
		}
		act.push(Str(coll.Str[from : to+1]))
	default:
		return i.raise(st, E_TYPE, "ranging non-collection")
	}
	return Result{Kind: ResultMore}
}

func (i *Interpreter) stepRangeSet(st *VMExecState, act *Activation) Result {
	value := act.pop()
	end := act.pop()
	start := act.pop()
	coll := act.pop()
	if start.Kind != KindInt || end.Kind != KindInt {
		return i.raise(st, E_TYPE, "range bounds must be integers")
	}
	if coll.Kind != KindList || value.Kind != KindList {
		return i.raise(st, E_TYPE, "range assignment on non-list")
	}
	from, to := int(start.Int)-1, int(end.Int)-1
	if from < 0 || to >= len(coll.List) || from > to+1 {
		return i.raise(st, E_RANGE, "range out of bounds")
	}
	out := append([]Value{}, coll.List[:from]...)
	out = append(out, value.List...)
	out = append(out, coll.List[to+1:]...)
	act.push(List(out...))
	return Result{Kind: ResultMore}
}

// --- Arithmetic / comparison ---

func (i *Interpreter) stepArith(st *VMExecState, act *Activation, op Opcode) Result {
	b := act.pop()
	a := act.pop()

	if op == OpAdd && a.Kind == KindStr && b.Kind == KindStr {
		act.push(Str(a.Str + b.Str))
		return Result{Kind: ResultMore}
	}
	if op == OpAdd && a.Kind == KindList {
		act.push(List(append(append([]Value{}, a.List...), b)...))
		return Result{Kind: ResultMore}
	}

	if a.Kind == KindFloat || b.Kind == KindFloat {
		af, aok := asFloat(a)
		bf, bok := asFloat(b)
		if !aok || !bok {
			return i.raise(st, E_TYPE, "arithmetic on non-numeric")
		}
		switch op {
		case OpAdd:
			act.push(Float(af + bf))
		case OpSub:
			act.push(Float(af - bf))
		case OpMul:
			act.push(Float(af * bf))
		case OpDiv:
			if bf == 0 {
				return i.raise(st, E_DIV, "division by zero")
			}
			act.push(Float(af / bf))
		case OpMod:
			return i.raise(st, E_TYPE, "modulo requires integers")
		case OpExp:
			act.push(Float(floatPow(af, bf)))
		}
		return Result{Kind: ResultMore}
	}

	if a.Kind != KindInt || b.Kind != KindInt {
		return i.raise(st, E_TYPE, "arithmetic on non-numeric")
	}
	switch op {
	case OpAdd:
		act.push(Int(a.Int + b.Int))
	case OpSub:
		act.push(Int(a.Int - b.Int))
	case OpMul:
		act.push(Int(a.Int * b.Int))
	case OpDiv:
		if b.Int == 0 {
			return i.raise(st, E_DIV, "division by zero")
		}
		act.push(Int(a.Int / b.Int))
	case OpMod:
		if b.Int == 0 {
			return i.raise(st, E_DIV, "modulo by zero")
		}
		act.push(Int(a.Int % b.Int))
	case OpExp:
		act.push(Int(intPow(a.Int, b.Int)))
	}
	return Result{Kind: ResultMore}
}

func asFloat(v Value) (float64, bool) {
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInt:
		return float64(v.Int), true
	default:
		return 0, false
	}
}

func intPow(base, exp int64) int64 {
	if exp < 0 {
		return 0
	}
	r := int64(1)
	for n := int64(0); n < exp; n++ {
		r *= base
	}
	return r
}

func floatPow(base, exp float64) float64 {
	r := 1.0
	neg := exp < 0
	if neg {
		exp = -exp
	}
	for n := 0.0; n < exp; n++ {
		r *= base
	}
	if neg {
		return 1 / r
	}
	return r
}

func (i *Interpreter) stepCompare(st *VMExecState, act *Activation, op Opcode) Result {
	b := act.pop()
	a := act.pop()

	var cmp int
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		cmp = compareInt(a.Int, b.Int)
	case (a.Kind == KindInt || a.Kind == KindFloat) && (b.Kind == KindInt || b.Kind == KindFloat):
		af, _ := asFloat(a)
		bf, _ := asFloat(b)
		cmp = compareFloat(af, bf)
	case a.Kind == KindStr && b.Kind == KindStr:
		cmp = compareStr(a.Str, b.Str)
	default:
		return i.raise(st, E_TYPE, "comparison on incomparable types")
	}

	var result bool
	switch op {
	case OpLt:
		result = cmp < 0
	case OpGt:
		result = cmp > 0
	case OpLe:
		result = cmp <= 0
	case OpGe:
		result = cmp >= 0
	}
	act.push(boolVal(result))
	return Result{Kind: ResultMore}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareStr(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// --- For loops ---

func (i *Interpreter) stepForList(act *Activation, in Instr) Result {
	idx := act.pop()
	lst := act.pop()
	if lst.Kind != KindList {
		return Result{Kind: ResultMore}
	}
	ix := int(idx.Int)
	if ix >= len(lst.List) {
		act.PC = in.Label
		return Result{Kind: ResultMore}
	}
	act.push(lst)
	act.push(Int(int64(ix + 1)))
	if name, ok := act.Program.varName(in.A); ok {
		act.Env[name] = lst.List[ix]
	}
	if in.B >= 0 {
		if name, ok := act.Program.varName(in.B); ok {
			act.Env[name] = Int(int64(ix + 1))
		}
	}
	return Result{Kind: ResultMore}
}

func (i *Interpreter) stepForRange(act *Activation, in Instr) Result {
	to := act.pop()
	from := act.pop()
	if from.Int > to.Int {
		act.PC = in.Label
		return Result{Kind: ResultMore}
	}
	act.push(Int(from.Int + 1))
	act.push(to)
	if name, ok := act.Program.varName(in.A); ok {
		act.Env[name] = Int(from.Int)
	}
	return Result{Kind: ResultMore}
}

// --- World ---

func (i *Interpreter) stepGetProp(tx *txn.Transaction, st *VMExecState, act *Activation, pushSelf bool) Result {
	name := act.pop()
	var objv Value
	if pushSelf {
		objv = act.top()
	} else {
		objv = act.pop()
	}
	if objv.Kind != KindObjID || name.Kind != KindStr {
		return i.raise(st, E_TYPE, "getprop on non-object or non-string name")
	}
	val, err := i.World.GetProperty(tx, ids.ObjID(objv.ObjID), name.Str)
	if err != nil {
		return i.raisePropErr(st, err)
	}
	act.push(fromWorldValue(val))
	return Result{Kind: ResultMore}
}

func (i *Interpreter) stepPutProp(tx *txn.Transaction, st *VMExecState, act *Activation) Result {
	value := act.pop()
	name := act.pop()
	objv := act.pop()
	if objv.Kind != KindObjID || name.Kind != KindStr {
		return i.raise(st, E_TYPE, "putprop on non-object or non-string name")
	}
	if err := i.World.PutProperty(tx, ids.ObjID(objv.ObjID), name.Str, toWorldValue(value)); err != nil {
		return i.raisePropErr(st, err)
	}
	act.push(value)
	return Result{Kind: ResultMore}
}

func (i *Interpreter) raisePropErr(st *VMExecState, err error) Result {
	switch err.(type) {
	case *world.ErrPropertyNotFound:
		return i.raise(st, E_PROPNF, err.Error())
	case *world.ErrPropertyPermissionDenied:
		return i.raise(st, E_PERM, err.Error())
	case *world.ErrObjectNotFound:
		return i.raise(st, E_INVARG, err.Error())
	default:
		return i.raise(st, E_INVARG, err.Error())
	}
}

func (i *Interpreter) stepCallVerb(tx *txn.Transaction, st *VMExecState, act *Activation) Result {
	args := act.pop()
	name := act.pop()
	target := act.pop()
	if target.Kind != KindObjID || name.Kind != KindStr || args.Kind != KindList {
		return i.raise(st, E_TYPE, "call on non-object/non-string verb name")
	}
	return Result{Kind: ResultContinueVerb, Call: &VerbCall{
		Target: ids.ObjID(target.ObjID),
		Verb:   name.Str,
		Args:   args.List,
		Caller: act.This,
		Player: act.Player,
	}}
}

func (i *Interpreter) stepPass(tx *txn.Transaction, st *VMExecState, act *Activation) Result {
	args := act.pop()
	if args.Kind != KindList {
		return i.raise(st, E_TYPE, "pass args must be a list")
	}
	parent, err := i.World.Parent(tx, act.Verb.Definer)
	if err != nil || parent == ids.InvalidObjID {
		return i.raise(st, E_VERBNF, "no parent verb to pass to")
	}
	return Result{Kind: ResultContinueVerb, Call: &VerbCall{
		Target: parent,
		Verb:   act.Verb.Names,
		Args:   args.List,
		Caller: act.Caller,
		Player: act.Player,
	}}
}

func (i *Interpreter) stepFuncCall(tx *txn.Transaction, st *VMExecState, session Session, act *Activation, in Instr) Result {
	args := act.pop()
	if args.Kind != KindList {
		return i.raise(st, E_TYPE, "builtin args must be a list")
	}
	bArgs := make([]builtin.Value, len(args.List))
	for j, a := range args.List {
		bArgs[j] = toBuiltinValue(a)
	}
	res, tickCost, err := i.Builtins.Call(in.A, bArgs)
	if err != nil {
		return i.raise(st, E_VARNF, err.Error())
	}
	st.TicksLeft -= tickCost
	if res.Err != "" {
		return i.raise(st, ErrCode(res.Err), "builtin call failed")
	}
	act.push(fromBuiltinValue(res.Value))
	return Result{Kind: ResultMore}
}

func (i *Interpreter) stepFork(act *Activation, in Instr) Result {
	root := NewActivation(act.Program, act.Permissions, act.Caller, act.This, act.Player, act.Verb)
	root.ForkVector = in.A
	var taskVar string
	if in.B >= 0 {
		taskVar, _ = act.Program.varName(in.B)
	}
	return Result{Kind: ResultDispatchFork, Fork: &ForkRequest{Root: root, TaskVar: taskVar}}
}

// resumeBuiltin re-enters after a builtin suspended mid-call (spec.md
// §4.7 preamble step 2). None of the builtins this table registers ever
// suspend, so reaching here means a caller set Activation.BFIndex
// without a matching suspension protocol; treat it as a stuck trampoline
// and fail safely rather than loop.
func (i *Interpreter) resumeBuiltin(tx *txn.Transaction, st *VMExecState, session Session) Result {
	act := st.current()
	act.BFIndex = -1
	return i.raise(st, E_INVARG, "builtin trampoline resumed with no pending suspension")
}

// --- Destructuring ---

func (i *Interpreter) stepScatter(st *VMExecState, act *Activation, spec *ScatterSpec) Result {
	argsV := act.pop()
	if argsV.Kind != KindList {
		return i.raise(st, E_TYPE, "scatter target is not a list")
	}
	list := argsV.List
	if len(list) < spec.NReq || (spec.Rest < 0 && len(list) > spec.NArgs) {
		return i.raise(st, E_ARGS, "wrong number of arguments for scatter")
	}

	idx := 0
	for pos := 0; pos < spec.NArgs; pos++ {
		if pos == spec.Rest {
			continue
		}
		name, _ := act.Program.varName(spec.Names[pos])
		if idx < len(list) {
			act.Env[name] = list[idx]
			idx++
			continue
		}
		if pos < len(spec.Labels) && spec.Labels[pos] >= 0 {
			act.PC = spec.Labels[pos]
			return Result{Kind: ResultMore}
		}
		act.Env[name] = None()
	}
	if spec.Rest >= 0 {
		name, _ := act.Program.varName(spec.Names[spec.Rest])
		rest := append([]Value{}, list[idx:]...)
		act.Env[name] = List(rest...)
	}
	act.PC = spec.Done
	return Result{Kind: ResultMore}
}
