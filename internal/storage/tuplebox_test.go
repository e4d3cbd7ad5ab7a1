package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/storage"
)

func newTupleBox() *storage.TupleBox {
	pool := storage.NewBufferPool(4096, 16<<20)
	return storage.NewTupleBox(pool)
}

// P3: a tuple stays readable for as long as any clone holds a
// reference, and becomes unreadable only once every clone releases.
func TestRefcountSafety(t *testing.T) {
	tb := newTupleBox()
	rid := ids.RelationID(1)

	ref, err := tb.Allocate(5, rid, []byte("hello"))
	require.NoError(t, err)

	clone, err := ref.Clone()
	require.NoError(t, err)

	ref.Release()

	b, err := clone.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	clone.Release()

	_, err = clone.Bytes()
	assert.Error(t, err, "tuple must be unreadable once refcount reaches zero")
}

func TestDoubleReleaseIsIgnoredNotPanic(t *testing.T) {
	tb := newTupleBox()
	rid := ids.RelationID(1)

	ref, err := tb.Allocate(3, rid, []byte("abc"))
	require.NoError(t, err)

	ref.Release()
	assert.NotPanics(t, func() { ref.Release() })
}

// Scenario 2: repeatedly allocating and releasing same-size tuples
// reuses freed slot space rather than growing the page count without
// bound.
func TestAllocateReleaseReusesSpace(t *testing.T) {
	tb := newTupleBox()
	rid := ids.RelationID(1)

	var first int
	for i := 0; i < 200; i++ {
		ref, err := tb.Allocate(16, rid, make([]byte, 16))
		require.NoError(t, err)
		if i == 0 {
			first = tb.NumPages()
		}
		ref.Release()
	}

	assert.LessOrEqual(t, tb.NumPages(), first+1,
		"repeated allocate/release of same-size tuples should not grow page count unbounded")
}

func TestUpdateInPlaceSameLength(t *testing.T) {
	tb := newTupleBox()
	rid := ids.RelationID(1)

	ref, err := tb.Allocate(3, rid, []byte("foo"))
	require.NoError(t, err)

	newRef, err := tb.Update(rid, ref.ID(), []byte("bar"))
	require.NoError(t, err)
	assert.Nil(t, newRef, "same-length update mutates in place, no new handle")

	b, err := ref.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "bar", string(b))
}

func TestUpdateRelocatesOnLengthChange(t *testing.T) {
	tb := newTupleBox()
	rid := ids.RelationID(1)

	ref, err := tb.Allocate(3, rid, []byte("foo"))
	require.NoError(t, err)

	newRef, err := tb.Update(rid, ref.ID(), []byte("a longer value"))
	require.NoError(t, err)
	require.NotNil(t, newRef)

	b, err := newRef.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "a longer value", string(b))
}
