package txn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/relbox"
	"github.com/cuemby/moo/internal/storage"
	"github.com/cuemby/moo/internal/txn"
)

func newBox() *relbox.RelBox {
	pool := storage.NewBufferPool(4096, 64<<20)
	tb := storage.NewTupleBox(pool)
	box := relbox.New(tb, nil)
	box.EnsureRelation(ids.RelationID(1), false)
	return box
}

// P2: round-trip. Insert, commit, then seek from a later transaction
// returns what was written.
func TestRoundTrip(t *testing.T) {
	box := newBox()

	tx := box.Begin()
	_, err := tx.InsertTuple(1, []byte("k1"), []byte("v1"))
	require.NoError(t, err)
	require.NoError(t, box.Commit(tx))

	tx2 := box.Begin()
	ref, ok, err := tx2.SeekByDomain(1, []byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	b, err := ref.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "v1", string(b))
}

// P1: two transactions racing to insert the same domain key; only one
// commit succeeds, the loser gets ConflictDuplicate.
func TestConflictingInsertsOneWins(t *testing.T) {
	box := newBox()

	txA := box.Begin()
	txB := box.Begin()

	_, err := txA.InsertTuple(1, []byte("same"), []byte("a"))
	require.NoError(t, err)
	_, err = txB.InsertTuple(1, []byte("same"), []byte("b"))
	require.NoError(t, err)

	require.NoError(t, box.Commit(txA))

	err = box.Commit(txB)
	require.Error(t, err)
	var conflict *txn.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, txn.ConflictDuplicate, conflict.Kind)
}

// A transaction that reads a key, then loses a race against a writer
// updating that same key, is refused with StaleWrite on commit.
func TestStaleWriteOnConcurrentUpdate(t *testing.T) {
	box := newBox()

	setup := box.Begin()
	_, err := setup.InsertTuple(1, []byte("k"), []byte("v0"))
	require.NoError(t, err)
	require.NoError(t, box.Commit(setup))

	txA := box.Begin()
	txB := box.Begin()

	_, err = txA.UpdateTuple(1, []byte("k"), []byte("v1"))
	require.NoError(t, err)
	_, err = txB.UpdateTuple(1, []byte("k"), []byte("v2"))
	require.NoError(t, err)

	require.NoError(t, box.Commit(txA))

	err = box.Commit(txB)
	require.Error(t, err)
	var conflict *txn.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, txn.ConflictStaleWrite, conflict.Kind)
}

// A full predicate_scan records a read guard: an insert from another
// transaction invalidates it even though no domain key overlaps.
func TestReadInvalidatedByConcurrentInsert(t *testing.T) {
	box := newBox()

	txA := box.Begin()
	_, err := txA.PredicateScan(1, func(domain []byte, ref *storage.TupleRef) bool { return true })
	require.NoError(t, err)

	txB := box.Begin()
	_, err = txB.InsertTuple(1, []byte("new"), []byte("v"))
	require.NoError(t, err)
	require.NoError(t, box.Commit(txB))

	err = box.Commit(txA)
	require.Error(t, err)
	var conflict *txn.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, txn.ConflictReadInvalidated, conflict.Kind)
}

// Rollback releases every tuple the transaction allocated, so a later
// transaction never observes it.
func TestRollbackDropsWorkingSet(t *testing.T) {
	box := newBox()

	tx := box.Begin()
	_, err := tx.InsertTuple(1, []byte("gone"), []byte("v"))
	require.NoError(t, err)
	tx.Rollback()

	tx2 := box.Begin()
	_, ok, err := tx2.SeekByDomain(1, []byte("gone"))
	require.NoError(t, err)
	assert.False(t, ok)
}

// P4: a long-lived transaction's snapshot never observes writes
// committed by other transactions after it began.
func TestSnapshotStability(t *testing.T) {
	box := newBox()

	setup := box.Begin()
	_, err := setup.InsertTuple(1, []byte("k"), []byte("before"))
	require.NoError(t, err)
	require.NoError(t, box.Commit(setup))

	reader := box.Begin()

	writer := box.Begin()
	_, err = writer.UpdateTuple(1, []byte("k"), []byte("after"))
	require.NoError(t, err)
	require.NoError(t, box.Commit(writer))

	ref, ok, err := reader.SeekByDomain(1, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	b, err := ref.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "before", string(b))
}

func TestUpsertDegradesToInsertWhenAbsent(t *testing.T) {
	box := newBox()

	tx := box.Begin()
	_, err := tx.UpsertTuple(1, []byte("u"), []byte("v0"))
	require.NoError(t, err)
	require.NoError(t, box.Commit(tx))

	tx2 := box.Begin()
	ref, ok, err := tx2.SeekByDomain(1, []byte("u"))
	require.NoError(t, err)
	require.True(t, ok)
	b, err := ref.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "v0", string(b))
}
