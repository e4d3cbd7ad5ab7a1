package txn_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/relbox"
	"github.com/cuemby/moo/internal/storage"
)

func txnTestPool() *storage.TupleBox {
	pool := storage.NewBufferPool(4096, 64<<20)
	return storage.NewTupleBox(pool)
}

// TestListAppendWorkload runs several goroutines concurrently appending
// their own element onto a single shared list value, each retrying on
// commit conflict, following the teacher's style
// (pkg/scheduler/scheduler_unit_test.go) of exercising real
// collaborators end to end in one scenario rather than mocking the
// commit path.
//
// The list is encoded as a comma-joined string tuple so the test needs
// nothing beyond the txn/relbox API already exercised elsewhere.
func TestListAppendWorkload(t *testing.T) {
	pool := txnTestPool()
	box := relbox.New(pool, nil)
	rid := ids.RelationID(7)
	box.EnsureRelation(rid, false)

	setup := box.Begin()
	_, err := setup.InsertTuple(rid, []byte("list"), []byte(""))
	require.NoError(t, err)
	require.NoError(t, box.Commit(setup))

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			appendElement(t, box, rid, fmt.Sprintf("w%d", n))
		}(i)
	}
	wg.Wait()

	final := box.Begin()
	ref, ok, err := final.SeekByDomain(rid, []byte("list"))
	require.NoError(t, err)
	require.True(t, ok)
	b, err := ref.Bytes()
	require.NoError(t, err)

	elems := strings.Split(strings.Trim(string(b), ","), ",")
	seen := make(map[string]bool, writers)
	for _, e := range elems {
		if e == "" {
			continue
		}
		assert.False(t, seen[e], "element %q appended more than once", e)
		seen[e] = true
	}
	assert.Len(t, seen, writers, "every writer's element must appear exactly once")
}

// appendElement retries the read-modify-write commit loop until it
// succeeds, the way internal/scheduler retries a task on ConflictError.
func appendElement(t *testing.T, box *relbox.RelBox, rid ids.RelationID, elem string) {
	t.Helper()
	for attempt := 0; attempt < 100; attempt++ {
		tx := box.Begin()
		ref, ok, err := tx.SeekByDomain(rid, []byte("list"))
		require.NoError(t, err)
		require.True(t, ok)
		cur, err := ref.Bytes()
		require.NoError(t, err)

		next := string(cur)
		if next != "" {
			next += ","
		}
		next += elem

		_, err = tx.UpdateTuple(rid, []byte("list"), []byte(next))
		require.NoError(t, err)

		if err := box.Commit(tx); err == nil {
			return
		}
		tx.Rollback()
	}
	t.Fatalf("appendElement: %q never committed after 100 retries", elem)
}
