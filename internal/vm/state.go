package vm

import (
	"time"

	"github.com/cuemby/moo/internal/ids"
)

// VMExecState is the running task: an ordered stack of activations, a
// tick counter, and timing bounds (spec.md §3 GLOSSARY).
type VMExecState struct {
	Activations []*Activation
	TicksLeft   int
	TimeLeft    time.Duration
	Deadline    time.Time
	Start       time.Time
}

// NewState creates a task state rooted at root, with the given tick and
// wall-clock budgets (spec.md §6 Configuration "default_ticks,
// default_time_budget").
func NewState(root *Activation, ticks int, timeLeft time.Duration) *VMExecState {
	now := time.Now()
	return &VMExecState{
		Activations: []*Activation{root},
		TicksLeft:   ticks,
		TimeLeft:    timeLeft,
		Deadline:    now.Add(timeLeft),
		Start:       now,
	}
}

func (s *VMExecState) current() *Activation { return s.Activations[len(s.Activations)-1] }

func (s *VMExecState) pushActivation(a *Activation) { s.Activations = append(s.Activations, a) }

func (s *VMExecState) popActivation() *Activation {
	n := len(s.Activations)
	a := s.Activations[n-1]
	s.Activations = s.Activations[:n-1]
	return a
}

func (s *VMExecState) depth() int { return len(s.Activations) }

// ResultKind tags the variant of ExecutionResult (spec.md §4.7 "Single
// public entry... one of...").
type ResultKind int

const (
	ResultMore ResultKind = iota
	ResultComplete
	ResultException
	ResultContinueVerb
	ResultDispatchFork
	ResultContinueBuiltin
	ResultSuspend
	ResultNeedInput
	ResultPerformEval
)

// AbortReason distinguishes the two ways a task can hit its resource
// limit (spec.md §5 "Cancellation and timeouts").
type AbortReason int

const (
	AbortNone AbortReason = iota
	AbortTicks
	AbortTime
)

// VerbCall describes a pending CallVerb dispatch handed back to the
// scheduler so it can resolve and push a new activation (spec.md §4.7
// "ContinueVerb{...}").
type VerbCall struct {
	Target ids.ObjID
	Verb   string
	Args   []Value
	Caller ids.ObjID
	Player ids.ObjID
}

// ForkRequest describes a Fork opcode's pending child task (spec.md
// §4.7 "DispatchFork(fork)").
type ForkRequest struct {
	Delay    time.Duration
	Root     *Activation
	TaskVar  string // variable name bound to the new task id in parent+child, "" if none
}

// EvalRequest is the PerformEval variant's payload: an ad-hoc program to
// compile-and-run under the given permissions (spec.md §4.7).
type EvalRequest struct {
	Program    *Program
	Permission ids.ObjID
	Player     ids.ObjID
}

// Result is the VM's ExecutionResult (spec.md §4.7, §6 "VM result
// enumeration"). Only fields relevant to Kind are populated.
type Result struct {
	Kind ResultKind

	Value  Value  // Complete
	Reason *UnwindReason // Exception

	Call *VerbCall // ContinueVerb

	Fork *ForkRequest // DispatchFork

	BuiltinID int     // ContinueBuiltin
	Args      []Value // ContinueBuiltin / FuncCall args

	Duration *time.Duration // Suspend; nil means indefinite

	Eval *EvalRequest // PerformEval

	Abort AbortReason // set alongside ResultException when abort-triggered
}
