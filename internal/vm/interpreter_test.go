package vm_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/moo/internal/builtin"
	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/relation"
	"github.com/cuemby/moo/internal/storage"
	"github.com/cuemby/moo/internal/txn"
	"github.com/cuemby/moo/internal/vm"
	"github.com/cuemby/moo/internal/world"
)

type nullSession struct{}

func (nullSession) Notify(ids.ObjID, string) {}

func newInterp() *vm.Interpreter {
	return vm.New(world.NewRelWorld(), builtin.NewTable())
}

func newTx() *txn.Transaction {
	pool := storage.NewBufferPool(4096, 16<<20)
	tb := storage.NewTupleBox(pool)
	return txn.New(1, 0, relation.NewCanonicalSet(), tb)
}

func rootActivation(prog *vm.Program, debug bool) *vm.Activation {
	return vm.NewActivation(prog, ids.InvalidObjID, ids.InvalidObjID, ids.InvalidObjID, ids.InvalidObjID,
		vm.VerbInfo{Names: "test", Definer: ids.InvalidObjID, Owner: ids.InvalidObjID, Debug: debug})
}

// Scenario: 1 + 41 completes with a Complete result carrying 42.
func TestSimpleArithmeticCompletes(t *testing.T) {
	prog := &vm.Program{Main: []vm.Instr{
		{Op: vm.OpImmInt, A: 1},
		{Op: vm.OpImmInt, A: 41},
		{Op: vm.OpAdd},
		{Op: vm.OpReturn},
	}}
	interp := newInterp()
	st := vm.NewState(rootActivation(prog, false), 1000, 5*time.Second)

	res := interp.Exec(newTx(), st, nullSession{}, 256)
	require.Equal(t, vm.ResultComplete, res.Kind)
	assert.Equal(t, int64(42), res.Value.Int)
}

// P7 / scenario 4: a task whose tick budget runs out mid-loop returns
// ResultException with Abort == AbortTicks rather than running forever.
func TestTickBudgetExhaustionAborts(t *testing.T) {
	// An infinite loop: jump back to offset 0 forever.
	prog := &vm.Program{Main: []vm.Instr{
		{Op: vm.OpJump, Label: 0},
	}}
	interp := newInterp()
	st := vm.NewState(rootActivation(prog, false), 5, time.Hour)

	res := interp.Exec(newTx(), st, nullSession{}, 1000)
	require.Equal(t, vm.ResultException, res.Kind)
	require.NotNil(t, res.Reason)
	assert.Equal(t, vm.UnwindAbort, res.Reason.Kind)
	assert.Equal(t, vm.AbortTicks, res.Abort)
}

// P7: Exec never runs more than tickSlice opcodes before yielding
// ResultMore, even with ample TicksLeft remaining.
func TestExecYieldsAtTickSlice(t *testing.T) {
	prog := &vm.Program{Main: []vm.Instr{
		{Op: vm.OpJump, Label: 0},
	}}
	interp := newInterp()
	st := vm.NewState(rootActivation(prog, false), 100000, time.Hour)

	res := interp.Exec(newTx(), st, nullSession{}, 10)
	assert.Equal(t, vm.ResultMore, res.Kind)
	assert.Equal(t, 100000-10, st.TicksLeft)
}

// P6 / scenario 5: a debug verb's raised error propagates as an
// uncaught exception once no try/except frame intercepts it.
func TestUncaughtRaisePropagatesException(t *testing.T) {
	prog := &vm.Program{Main: []vm.Instr{
		{Op: vm.OpImmInt, A: 1},
		{Op: vm.OpImmInt, A: 0},
		{Op: vm.OpDiv},
		{Op: vm.OpReturn},
	}}
	interp := newInterp()
	st := vm.NewState(rootActivation(prog, true), 1000, 5*time.Second)

	res := interp.Exec(newTx(), st, nullSession{}, 256)
	require.Equal(t, vm.ResultException, res.Kind)
	require.NotNil(t, res.Reason)
	assert.Equal(t, vm.E_DIV, res.Reason.Code)
}

// P6 / scenario 5: a try/except handler whose code list matches the
// raised error intercepts it and execution resumes in the except body
// instead of propagating.
func TestCatchHandlerInterceptsMatchingRaise(t *testing.T) {
	prog := &vm.Program{
		Literals: []vm.Value{vm.List(vm.Err(vm.E_DIV))},
		Main: []vm.Instr{
			{Op: vm.OpPushLabel, Label: 6}, // except body starts at offset 6
			{Op: vm.OpImm, A: 0},           // code list for this except clause
			{Op: vm.OpCatch, A: 1},
			{Op: vm.OpImmInt, A: 1},
			{Op: vm.OpImmInt, A: 0},
			{Op: vm.OpDiv}, // raises E_DIV, caught by the handler above
			{Op: vm.OpPop}, // except body: discard the caught error value
			{Op: vm.OpImmInt, A: 99},
			{Op: vm.OpReturn},
		},
	}
	interp := newInterp()
	st := vm.NewState(rootActivation(prog, true), 1000, 5*time.Second)

	res := interp.Exec(newTx(), st, nullSession{}, 256)
	require.Equal(t, vm.ResultComplete, res.Kind)
	assert.Equal(t, int64(99), res.Value.Int)
}

// A catch whose code list does not mention the raised error lets it
// propagate past the handler, same as no handler at all.
func TestCatchHandlerIgnoresNonMatchingRaise(t *testing.T) {
	prog := &vm.Program{
		Literals: []vm.Value{vm.List(vm.Err(vm.E_TYPE))},
		Main: []vm.Instr{
			{Op: vm.OpPushLabel, Label: 6},
			{Op: vm.OpImm, A: 0},
			{Op: vm.OpCatch, A: 1},
			{Op: vm.OpImmInt, A: 1},
			{Op: vm.OpImmInt, A: 0},
			{Op: vm.OpDiv},
			{Op: vm.OpPop},
			{Op: vm.OpImmInt, A: 99},
			{Op: vm.OpReturn},
		},
	}
	interp := newInterp()
	st := vm.NewState(rootActivation(prog, true), 1000, 5*time.Second)

	res := interp.Exec(newTx(), st, nullSession{}, 256)
	require.Equal(t, vm.ResultException, res.Kind)
	require.NotNil(t, res.Reason)
	assert.Equal(t, vm.E_DIV, res.Reason.Code)
}

// A non-debug verb's division error is pushed as an Err value instead
// of raised, so execution continues and completes.
func TestNonDebugVerbPushesErrorInsteadOfRaising(t *testing.T) {
	prog := &vm.Program{Main: []vm.Instr{
		{Op: vm.OpImmInt, A: 1},
		{Op: vm.OpImmInt, A: 0},
		{Op: vm.OpDiv},
		{Op: vm.OpReturn},
	}}
	interp := newInterp()
	st := vm.NewState(rootActivation(prog, false), 1000, 5*time.Second)

	res := interp.Exec(newTx(), st, nullSession{}, 256)
	require.Equal(t, vm.ResultComplete, res.Kind)
	assert.True(t, res.Value.IsErr())
	assert.Equal(t, vm.E_DIV, res.Value.Err)
}

// MaxStackDepth is enforced before any opcode executes, as a preamble
// check rather than being discovered lazily.
func TestMaxRecursionGuard(t *testing.T) {
	prog := &vm.Program{Main: []vm.Instr{{Op: vm.OpReturn0}}}
	interp := newInterp()
	root := rootActivation(prog, false)
	st := vm.NewState(root, 1000, 5*time.Second)
	for i := 0; i < vm.MaxStackDepth; i++ {
		st.Activations = append(st.Activations, rootActivation(prog, false))
	}

	res := interp.Exec(newTx(), st, nullSession{}, 256)
	require.Equal(t, vm.ResultException, res.Kind)
	assert.Equal(t, vm.E_MAXREC, res.Reason.Code)
}
