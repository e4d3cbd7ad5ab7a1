package vm

// UnwindKind tags the reason a stack unwind was initiated (spec.md
// §4.7 "Reasons: Fallthrough, Return(v), Raise{...}, Uncaught{...},
// Exit{stack,label}, Abort").
type UnwindKind int

const (
	UnwindFallthrough UnwindKind = iota
	UnwindReturn
	UnwindRaise
	UnwindUncaught
	UnwindExit
	UnwindAbort
)

// TraceFrame is one contributed line of backtrace/stack data (spec.md
// §4.7 "Backtrace composition").
type TraceFrame struct {
	This        string
	VerbNames   string
	VerbDefiner string
	VerbOwner   string
	Player      string
	Line        string // "<definer>:<verb>: <msg>"
}

// UnwindReason carries the payload for any of the unwind variants.
type UnwindReason struct {
	Kind UnwindKind

	ReturnValue Value

	Code  ErrCode
	Msg   string
	Stack Value // structured (this, verb-names, definer, owner, player) tuple per raising frame

	Backtrace []TraceFrame

	ExitStack int
	ExitLabel int
}

// unwindStack walks the activation stack top-down applying reason
// against each frame's handler stack until either a handler intercepts
// it or the activations are exhausted (spec.md §4.7 "Handler stack and
// unwinding (unwind_stack(reason))").
func (i *Interpreter) unwindStack(st *VMExecState, reason UnwindReason) Result {
	for len(st.Activations) > 0 {
		act := st.current()

		if handled, res, consumed := i.tryHandleInFrame(st, act, reason); handled {
			if consumed {
				return res
			}
			// A handler redirected execution within this frame (Finally
			// jump, or a matched Catch); resume the opcode loop.
			return Result{Kind: ResultMore}
		}

		// No handler in this frame intercepted; pop it and propagate. A
		// Raise that survives every frame becomes Uncaught, accumulating
		// one backtrace line per popped frame (spec.md §4.7 "If no handler
		// intercepts and the reason is Uncaught, pop all activations...").
		if reason.Kind == UnwindRaise || reason.Kind == UnwindUncaught {
			reason.Backtrace = append(reason.Backtrace, i.frameTrace(act, reason))
		}
		st.popActivation()

		if len(st.Activations) == 0 {
			break
		}
		if reason.Kind == UnwindReturn {
			st.current().push(reason.ReturnValue)
			return Result{Kind: ResultMore}
		}
	}

	switch reason.Kind {
	case UnwindReturn:
		return Result{Kind: ResultComplete, Value: reason.ReturnValue}
	case UnwindRaise, UnwindUncaught:
		r := reason
		r.Kind = UnwindUncaught
		return Result{Kind: ResultException, Reason: &r}
	case UnwindAbort:
		r := reason
		return Result{Kind: ResultException, Reason: &r, Abort: AbortTicks}
	default:
		r := reason
		return Result{Kind: ResultException, Reason: &r}
	}
}

// tryHandleInFrame pops act's value stack down past any handler whose
// recorded depth it crosses, invoking the handler when found. handled
// reports whether a handler in this frame applies; consumed reports
// whether the overall unwind is finished (an Exit landed, for example)
// as opposed to merely redirecting execution within the frame.
func (i *Interpreter) tryHandleInFrame(st *VMExecState, act *Activation, reason UnwindReason) (handled bool, res Result, consumed bool) {
	for len(act.Handlers) > 0 {
		h := act.Handlers[len(act.Handlers)-1]
		if len(act.Stack) > h.Depth {
			// Still above the handler's recorded depth; trim the stack
			// down to it before acting on the handler.
			act.Stack = act.Stack[:h.Depth]
		}

		switch h.Kind {
		case HandlerFinally:
			if reason.Kind == UnwindAbort {
				act.popHandler()
				continue
			}
			act.popHandler()
			act.PC = h.Label
			act.push(encodeReason(reason))
			return true, Result{}, false

		case HandlerCatch:
			if reason.Kind != UnwindRaise {
				act.popHandler()
				continue
			}
			if !catchMatches(h, reason.Code) {
				act.popHandler()
				continue
			}
			act.popHandler()
			act.PC = h.Label
			act.push(Err(reason.Code))
			return true, Result{}, false
		}
	}
	if reason.Kind == UnwindExit && len(st.Activations)-1 == reason.ExitStack {
		act.PC = reason.ExitLabel
		return true, Result{Kind: ResultMore}, true
	}
	return false, Result{}, false
}

// catchMatches implements spec.md §4.7 Catch semantics: any list entry
// absent (meaning catch-all) or containing the raised code matches.
func catchMatches(h Handler, code ErrCode) bool {
	if len(h.CodeLists) == 0 {
		return true
	}
	for _, codeList := range h.CodeLists {
		if codeList.Kind != KindList {
			return true // malformed/absent treated as catch-all
		}
		for _, c := range codeList.List {
			if c.Kind == KindErr && c.Err == code {
				return true
			}
		}
	}
	return false
}

// encodeReason turns an UnwindReason into the Value EndFinally's
// Continue re-emits (spec.md §4.7 "push the encoded reason code...
// EndFinally re-emits the reason by Continue").
func encodeReason(reason UnwindReason) Value {
	switch reason.Kind {
	case UnwindReturn:
		return List(Int(int64(UnwindReturn)), reason.ReturnValue)
	case UnwindRaise:
		return List(Int(int64(UnwindRaise)), Err(reason.Code), Str(reason.Msg))
	case UnwindExit:
		return List(Int(int64(UnwindExit)), Int(int64(reason.ExitStack)), Int(int64(reason.ExitLabel)))
	default:
		return List(Int(int64(reason.Kind)))
	}
}

// decodeReason is the inverse of encodeReason, used by OpContinue to
// resume an unwind a Finally handler deferred.
func decodeReason(v Value) UnwindReason {
	if v.Kind != KindList || len(v.List) == 0 {
		return UnwindReason{Kind: UnwindFallthrough}
	}
	kind := UnwindKind(v.List[0].Int)
	switch kind {
	case UnwindReturn:
		return UnwindReason{Kind: UnwindReturn, ReturnValue: v.List[1]}
	case UnwindRaise:
		return UnwindReason{Kind: UnwindRaise, Code: v.List[1].Err, Msg: v.List[2].Str}
	case UnwindExit:
		return UnwindReason{Kind: UnwindExit, ExitStack: int(v.List[1].Int), ExitLabel: int(v.List[2].Int)}
	default:
		return UnwindReason{Kind: kind}
	}
}

// frameTrace composes one backtrace line for an uncaught exception
// (spec.md §4.7 "Backtrace composition").
func (i *Interpreter) frameTrace(act *Activation, reason UnwindReason) TraceFrame {
	msg := reason.Msg
	if reason.Kind != UnwindRaise {
		msg = string(reason.Code)
	}
	return TraceFrame{
		VerbNames:   act.Verb.Names,
		VerbDefiner: act.Verb.Definer.String(),
		VerbOwner:   act.Verb.Owner.String(),
		Player:      act.Player.String(),
		This:        act.This.String(),
		Line:        act.Verb.Definer.String() + ":" + act.Verb.Names + ": " + msg,
	}
}
