// Package scheduler drives VM tasks to completion, adapted from the
// teacher's pkg/scheduler ticker loop and pkg/worker per-node goroutine
// loop: instead of reconciling container placement, each task here runs
// on its own goroutine, opens a transaction, and runs tick slices through
// internal/vm.Interpreter until the task completes, suspends, forks, or
// needs input (spec.md §4.7 ExecutionResult variants, §5.1).
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/obslog"
	"github.com/cuemby/moo/internal/obsmetrics"
	"github.com/cuemby/moo/internal/relbox"
	"github.com/cuemby/moo/internal/txn"
	"github.com/cuemby/moo/internal/vm"
)

// DefaultMaxCommitRetries is the spec.md §5.1 config default
// ("max_commit_retries, default 5").
const DefaultMaxCommitRetries = 5

// DefaultTickSlice is how many opcodes one Exec call runs before
// yielding back to the scheduler loop.
const DefaultTickSlice = 256

// Task is one scheduled unit of VM execution: a root activation plus the
// budget it runs under (spec.md §3 GLOSSARY "Task").
type Task struct {
	ID      ids.TaskID
	State   *vm.VMExecState
	Session vm.Session

	root    *vm.Activation
	ticks   int
	timeout time.Duration
	retries int
}

// Outcome is what becomes of a task once it stops running for good:
// either a final value or an uncaught-exception backtrace (spec.md §4.7).
type Outcome struct {
	TaskID ids.TaskID
	Value  vm.Value
	Reason *vm.UnwindReason
}

// Scheduler is the process-wide registry spec.md §9 calls for ("Global
// mutable scheduler state... encapsulate as a process-wide registry
// owned by the scheduler").
type Scheduler struct {
	box    *relbox.RelBox
	interp *vm.Interpreter
	logger zerolog.Logger

	maxRetries int
	tickSlice  int

	mu         sync.Mutex
	waitingIn  map[ids.TaskID]*Task
	nextTaskID uint64
	wg         sync.WaitGroup

	onOutcome func(Outcome)
}

// New creates a Scheduler bound to box for transactions and interp for
// opcode execution. onOutcome is called once per task when it reaches a
// terminal (Complete or uncaught Exception) state; it may be nil.
func New(box *relbox.RelBox, interp *vm.Interpreter, onOutcome func(Outcome)) *Scheduler {
	return &Scheduler{
		box:        box,
		interp:     interp,
		logger:     obslog.WithComponent("scheduler"),
		maxRetries: DefaultMaxCommitRetries,
		tickSlice:  DefaultTickSlice,
		waitingIn:  make(map[ids.TaskID]*Task),
		onOutcome:  onOutcome,
	}
}

// Submit enqueues a new top-level task rooted at root, spawning its own
// goroutine to drive it to completion (adapted from pkg/worker's
// per-node loop, generalized to per-task).
func (s *Scheduler) Submit(root *vm.Activation, session vm.Session, ticks int, timeout time.Duration) ids.TaskID {
	s.mu.Lock()
	s.nextTaskID++
	id := ids.TaskID(s.nextTaskID)
	s.mu.Unlock()

	t := &Task{
		ID:      id,
		State:   vm.NewState(root, ticks, timeout),
		Session: session,
		root:    root,
		ticks:   ticks,
		timeout: timeout,
	}
	obsmetrics.TasksActive.Inc()
	s.wg.Add(1)
	go s.runTask(t)
	return id
}

// Wait blocks until every task this scheduler has ever spawned has
// reached a terminal state or is parked waiting for input. A task
// suspended on a timer still counts, so Wait also waits for its resume.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) runTask(t *Task) {
	defer s.wg.Done()
	for {
		tx := s.box.Begin()
		res := s.execLoop(tx, t)

		switch res.Kind {
		case vm.ResultComplete, vm.ResultException:
			if err := s.box.Commit(tx); err != nil {
				if s.retryOrFinish(t) {
					continue
				}
				return
			}
			obsmetrics.TasksActive.Dec()
			s.finish(t, res)
			return

		case vm.ResultSuspend:
			if err := s.box.Commit(tx); err != nil {
				if s.retryOrFinish(t) {
					continue
				}
				return
			}
			s.scheduleResume(t, res.Duration)
			return

		case vm.ResultNeedInput:
			if err := s.box.Commit(tx); err != nil {
				if s.retryOrFinish(t) {
					continue
				}
				return
			}
			s.mu.Lock()
			s.waitingIn[t.ID] = t
			s.mu.Unlock()
			return

		default:
			// execLoop never returns ResultMore/ContinueVerb/
			// ContinueBuiltin/PerformEval/DispatchFork to runTask; it
			// absorbs those itself. Reaching here would be a bug in
			// execLoop, not a runtime condition to recover from.
			s.logger.Error().Int("kind", int(res.Kind)).Msg("scheduler received an unhandled result kind")
			obsmetrics.TasksActive.Dec()
			return
		}
	}
}

// execLoop runs tick slices against tx until a result other than More,
// ContinueVerb, DispatchFork, ContinueBuiltin, or PerformEval comes back.
// ContinueVerb/PerformEval resolution (verb lookup, ad-hoc compilation)
// belongs to a command layer that is out of scope (spec.md §1); a
// CallVerb or eval() this scheduler can't resolve surfaces as E_VERBNF
// rather than hanging.
func (s *Scheduler) execLoop(tx *txn.Transaction, t *Task) vm.Result {
	for {
		res := s.interp.Exec(tx, t.State, t.Session, s.tickSlice)
		switch res.Kind {
		case vm.ResultMore:
			continue

		case vm.ResultDispatchFork:
			child := &Task{
				root:    res.Fork.Root,
				ticks:   t.ticks,
				timeout: t.timeout,
				Session: t.Session,
			}
			s.mu.Lock()
			s.nextTaskID++
			child.ID = ids.TaskID(s.nextTaskID)
			s.mu.Unlock()
			child.State = vm.NewState(child.root, child.ticks, child.timeout)
			if res.Fork.TaskVar != "" {
				tid := vm.Int(int64(child.ID))
				child.root.Env[res.Fork.TaskVar] = tid
				t.State.Activations[len(t.State.Activations)-1].Env[res.Fork.TaskVar] = tid
			}
			obsmetrics.TasksActive.Inc()
			s.wg.Add(1)
			go s.runTask(child)
			continue

		case vm.ResultContinueVerb, vm.ResultContinueBuiltin, vm.ResultPerformEval:
			// No verb resolver / ad-hoc compiler wired (spec.md §1
			// Non-goals); fail the call rather than block forever.
			return vm.Result{
				Kind: vm.ResultException,
				Reason: &vm.UnwindReason{
					Kind: vm.UnwindUncaught,
					Code: "E_VERBNF",
					Msg:  "verb dispatch requires a command/compiler layer not present in this build",
				},
			}

		default:
			return res
		}
	}
}

func (s *Scheduler) retryOrFinish(t *Task) bool {
	t.retries++
	if t.retries > s.maxRetries {
		obsmetrics.TasksActive.Dec()
		s.finish(t, vm.Result{
			Kind: vm.ResultException,
			Reason: &vm.UnwindReason{
				Kind: vm.UnwindUncaught,
				Code: "E_QUOTA",
				Msg:  "too many commit conflicts",
			},
		})
		return false
	}
	s.logger.Warn().Uint64("task_id", uint64(t.ID)).Int("attempt", t.retries).Msg("commit conflict, retrying")
	t.State = vm.NewState(t.root, t.ticks, t.timeout)
	return true
}

func (s *Scheduler) scheduleResume(t *Task, d *time.Duration) {
	delay := time.Duration(0)
	if d != nil {
		delay = *d
	}
	s.wg.Add(1)
	time.AfterFunc(delay, func() {
		s.runTask(t)
	})
}

// ProvideInput resumes a task parked on ResultNeedInput (spec.md §6
// Session interface's read-path).
func (s *Scheduler) ProvideInput(id ids.TaskID, line string) error {
	s.mu.Lock()
	t, ok := s.waitingIn[id]
	if ok {
		delete(s.waitingIn, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: task %d is not waiting on input", id)
	}
	t.State.Activations[len(t.State.Activations)-1].Stack = append(t.State.Activations[len(t.State.Activations)-1].Stack, vm.Str(line))
	s.wg.Add(1)
	go s.runTask(t)
	return nil
}

func (s *Scheduler) finish(t *Task, res vm.Result) {
	if s.onOutcome == nil {
		return
	}
	o := Outcome{TaskID: t.ID}
	if res.Kind == vm.ResultComplete {
		o.Value = res.Value
	} else {
		o.Reason = res.Reason
	}
	s.onOutcome(o)
}
