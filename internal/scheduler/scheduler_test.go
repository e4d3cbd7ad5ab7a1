package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/moo/internal/builtin"
	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/relbox"
	"github.com/cuemby/moo/internal/scheduler"
	"github.com/cuemby/moo/internal/storage"
	"github.com/cuemby/moo/internal/vm"
	"github.com/cuemby/moo/internal/world"
)

type nullSession struct{}

func (nullSession) Notify(ids.ObjID, string) {}

func newBox() *relbox.RelBox {
	pool := storage.NewBufferPool(4096, 16<<20)
	tb := storage.NewTupleBox(pool)
	return relbox.New(tb, nil)
}

func rootActivation(prog *vm.Program) *vm.Activation {
	return vm.NewActivation(prog, ids.InvalidObjID, ids.InvalidObjID, ids.InvalidObjID, ids.InvalidObjID,
		vm.VerbInfo{Names: "test", Definer: ids.InvalidObjID, Owner: ids.InvalidObjID})
}

func collectOutcomes(n int) (chan scheduler.Outcome, func(scheduler.Outcome)) {
	ch := make(chan scheduler.Outcome, n)
	return ch, func(o scheduler.Outcome) { ch <- o }
}

// A submitted task that completes normally reaches onOutcome with the
// right value, and commits its transaction (scheduler + txn + vm
// integration, not mocked).
func TestSubmitRunsToCompletion(t *testing.T) {
	box := newBox()
	interp := vm.New(world.NewRelWorld(), builtin.NewTable())

	outcomes, onOutcome := collectOutcomes(1)
	sched := scheduler.New(box, interp, onOutcome)

	prog := &vm.Program{Main: []vm.Instr{
		{Op: vm.OpImmInt, A: 10},
		{Op: vm.OpImmInt, A: 32},
		{Op: vm.OpAdd},
		{Op: vm.OpReturn},
	}}
	sched.Submit(rootActivation(prog), nullSession{}, 1000, 5*time.Second)
	sched.Wait()

	select {
	case o := <-outcomes:
		require.Nil(t, o.Reason)
		assert.Equal(t, int64(42), o.Value.Int)
	default:
		t.Fatal("expected an outcome")
	}
}

// Scenario 6: a forked task runs as an independent task with its own
// id and outcome, concurrently with its parent.
func TestForkSpawnsIndependentTask(t *testing.T) {
	box := newBox()
	interp := vm.New(world.NewRelWorld(), builtin.NewTable())

	outcomes, onOutcome := collectOutcomes(2)
	sched := scheduler.New(box, interp, onOutcome)

	prog := &vm.Program{
		Main: []vm.Instr{
			{Op: vm.OpFork, A: 0, B: -1},
			{Op: vm.OpImmInt, A: 1},
			{Op: vm.OpReturn},
		},
		Forks: [][]vm.Instr{
			{
				{Op: vm.OpImmInt, A: 2},
				{Op: vm.OpReturn},
			},
		},
	}
	sched.Submit(rootActivation(prog), nullSession{}, 1000, 5*time.Second)
	sched.Wait()

	require.Len(t, outcomes, 2)
	var values []int64
	for i := 0; i < 2; i++ {
		o := <-outcomes
		require.Nil(t, o.Reason)
		values = append(values, o.Value.Int)
	}
	assert.ElementsMatch(t, []int64{1, 2}, values)
}

// An uncaught exception reaches onOutcome with a populated Reason
// rather than panicking the task goroutine.
func TestUncaughtExceptionReachesOutcome(t *testing.T) {
	box := newBox()
	interp := vm.New(world.NewRelWorld(), builtin.NewTable())

	outcomes, onOutcome := collectOutcomes(1)
	sched := scheduler.New(box, interp, onOutcome)

	prog := &vm.Program{Main: []vm.Instr{
		{Op: vm.OpImmEmptyList},
		{Op: vm.OpFuncCall, A: 999}, // no such builtin index: Table.Call errors
		{Op: vm.OpReturn0},
	}}
	root := vm.NewActivation(prog, ids.InvalidObjID, ids.InvalidObjID, ids.InvalidObjID, ids.InvalidObjID,
		vm.VerbInfo{Names: "test", Definer: ids.InvalidObjID, Owner: ids.InvalidObjID, Debug: true})
	sched.Submit(root, nullSession{}, 1000, 5*time.Second)
	sched.Wait()

	select {
	case o := <-outcomes:
		assert.NotNil(t, o.Reason)
	default:
		t.Fatal("expected an outcome")
	}
}
