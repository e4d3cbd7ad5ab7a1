// Package relbox owns the canonical set of base relations and the
// commit serialiser described in spec.md §4.5: Begin hands out a
// snapshot and a fresh Transaction; Commit validates the transaction's
// working set against whatever has been published since its snapshot
// was taken and, if nothing conflicts, publishes a new CanonicalSet by
// atomic pointer swap.
package relbox

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/obslog"
	"github.com/cuemby/moo/internal/obsmetrics"
	"github.com/cuemby/moo/internal/relation"
	"github.com/cuemby/moo/internal/storage"
	"github.com/cuemby/moo/internal/txn"
)

// RelBox is the single writer serialisation point for commits (spec.md
// §4.5, §5: "commit itself is serialised through a single mutex; reads
// never block on it"). Snapshot publication is an atomic pointer swap,
// so concurrent readers never block on the commit mutex at all.
type RelBox struct {
	commitMu sync.Mutex // held only for the duration of validate+publish

	canonical atomic.Pointer[relation.CanonicalSet]
	ts        atomic.Uint64 // monotonic commit timestamp oracle
	nextTxID  atomic.Uint64

	tupleBox *storage.TupleBox
	wal      WAL
}

// WAL is the write-ahead append sink a RelBox commits through before
// publishing (spec.md §6 durability). A nil WAL (New called with wal
// nil) skips logging entirely, matching an in-memory-only box.
type WAL interface {
	AppendCommit(txID ids.TxID, ts ids.Timestamp, relations []ids.RelationID) error
}

// New creates a RelBox with an empty canonical set at timestamp 0.
func New(tupleBox *storage.TupleBox, wal WAL) *RelBox {
	rb := &RelBox{tupleBox: tupleBox, wal: wal}
	rb.canonical.Store(relation.NewCanonicalSet())
	return rb
}

// Begin starts a new transaction against the currently published
// canonical set (spec.md §4.5 Begin). Taking the snapshot pointer is a
// single atomic load; no relation is copied.
func (rb *RelBox) Begin() *txn.Transaction {
	snap := rb.canonical.Load()
	id := ids.TxID(rb.nextTxID.Add(1))
	snapTs := ids.Timestamp(rb.ts.Load())
	return txn.New(id, snapTs, snap, rb.tupleBox)
}

// EnsureRelation creates relation id (with the given codomain
// indexing) in the live canonical set if it does not already exist.
// Used at startup/schema-definition time, never concurrently with
// Commit.
func (rb *RelBox) EnsureRelation(id ids.RelationID, indexed bool) {
	rb.commitMu.Lock()
	defer rb.commitMu.Unlock()
	cur := rb.canonical.Load()
	if cur.Relation(id) != nil {
		return
	}
	r := cur.EnsureRelation(id, indexed)
	rb.canonical.Store(cur.Put(r))
}

// Commit validates tx's working set against the current canonical
// state and, if valid, publishes a new canonical set (spec.md §4.5
// steps 1-6):
//  1. acquire the commit mutex (single in-flight validation+publish)
//  2. load the current canonical set
//  3. for every working-set entry, check for conflicts against it
//  4. on any conflict, release the mutex and return a ConflictError
//  5. otherwise fork+mutate only the touched relations and publish by
//     atomic pointer swap at a freshly minted timestamp
//  6. release the mutex
func (rb *RelBox) Commit(tx *txn.Transaction) error {
	rb.commitMu.Lock()
	defer rb.commitMu.Unlock()

	timer := obsmetrics.NewTimer()
	defer timer.ObserveDuration(obsmetrics.CommitDuration)

	current := rb.canonical.Load()

	touched := tx.TouchedRelations()
	if err := validate(tx, current, touched); err != nil {
		obsmetrics.CommitsTotal.WithLabelValues("conflict").Inc()
		return err
	}

	newTs := ids.Timestamp(rb.ts.Add(1))
	next := current
	for _, rid := range touched {
		base := current.Relation(rid)
		if base == nil {
			base = relation.New(rid, false)
		}
		forked := base.Fork()
		if err := publishRelation(forked, tx, rid, newTs); err != nil {
			return err
		}
		next = next.Put(forked.WithTs(newTs))
	}

	if rb.wal != nil {
		if err := rb.wal.AppendCommit(tx.ID, newTs, touched); err != nil {
			obslog.WithComponent("relbox").Warn().Err(err).Msg("wal append failed, commit not durable")
		}
	}

	rb.canonical.Store(next)
	obsmetrics.CommitsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Stats reports the live tuple count of every relation in the currently
// published canonical set, for `cmd/moo dbstat` and the /healthz
// RelBoxChecker.
func (rb *RelBox) Stats() map[ids.RelationID]int {
	cur := rb.canonical.Load()
	out := make(map[ids.RelationID]int)
	for _, rid := range cur.RelationIDs() {
		out[rid] = cur.Relation(rid).Len()
	}
	return out
}

// validate implements spec.md §4.5 step 3: every Value/Update/Tombstone
// read observed at SnapshotTs must still be the most recent write as of
// `current`; every Insert must still be absent; a predicate_scan's
// full-scan guard must not have been invalidated by any commit to the
// same relation since SnapshotTs.
func validate(tx *txn.Transaction, current *relation.CanonicalSet, touched []ids.RelationID) error {
	for _, rid := range touched {
		base := current.Relation(rid)
		entries, fullScan := tx.RelationEntries(rid)

		if fullScan && base != nil && base.Ts() > tx.SnapshotTs {
			return &txn.ConflictError{Kind: txn.ConflictReadInvalidated, Relation: rid}
		}

		for domain, e := range entries {
			switch e.Kind {
			case txn.KindInsert:
				if base != nil {
					if _, live := base.Get([]byte(domain)); live {
						return &txn.ConflictError{Kind: txn.ConflictDuplicate, Relation: rid, Domain: []byte(domain)}
					}
				}
			case txn.KindUpdate, txn.KindUpsert, txn.KindTombstone, txn.KindValue:
				var curTs ids.Timestamp
				var live bool
				if base != nil {
					curTs, live = base.GetTs([]byte(domain))
				}
				if e.Kind == txn.KindUpsert && !live {
					continue // upsert degrading to an insert path: absence is fine
				}
				if !live {
					return &txn.ConflictError{Kind: txn.ConflictStaleWrite, Relation: rid, Domain: []byte(domain)}
				}
				if curTs != e.OldTs {
					return &txn.ConflictError{Kind: txn.ConflictStaleWrite, Relation: rid, Domain: []byte(domain)}
				}
			}
		}
	}
	return nil
}

// publishRelation applies tx's per-relation log onto forked (a private
// fork of the canonical relation, not yet visible to readers). Every
// Insert/Update/Upsert installs the TupleRef the transaction already
// allocated (InsertTuple/UpdateTuple/UpsertTuple in package txn) rather
// than allocating a second tuple through the box, so a committed
// transaction never leaves its own staged tuple unreferenced.
func publishRelation(forked *relation.BaseRelation, tx *txn.Transaction, rid ids.RelationID, newTs ids.Timestamp) error {
	entries, _ := tx.RelationEntries(rid)
	for domain, e := range entries {
		switch e.Kind {
		case txn.KindInsert:
			if err := forked.Insert([]byte(domain), e.Codomain, e.Ref, newTs); err != nil {
				return err
			}
		case txn.KindUpdate:
			if err := forked.Update([]byte(domain), e.Codomain, e.Ref, newTs); err != nil {
				return err
			}
		case txn.KindUpsert:
			if err := forked.Upsert([]byte(domain), e.Codomain, e.Ref, newTs); err != nil {
				return err
			}
		case txn.KindTombstone:
			if err := forked.Remove([]byte(domain)); err != nil {
				return err
			}
		case txn.KindValue:
			// read-only: no mutation to apply.
		}
	}
	return nil
}
