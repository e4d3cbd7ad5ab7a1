package txn

import (
	"fmt"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/relation"
	"github.com/cuemby/moo/internal/storage"
)

// ConflictKind names why a commit was refused (spec.md §4.5 step 3,
// §7).
type ConflictKind int

const (
	ConflictDuplicate ConflictKind = iota
	ConflictStaleWrite
	ConflictReadInvalidated
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictDuplicate:
		return "Duplicate"
	case ConflictStaleWrite:
		return "StaleWrite"
	case ConflictReadInvalidated:
		return "ReadInvalidated"
	default:
		return "Unknown"
	}
}

// ConflictError is returned by a RelBox's Commit when optimistic
// validation fails; the caller rolls back and may retry with a fresh
// transaction (spec.md §4.5 step 4, §7).
type ConflictError struct {
	Kind     ConflictKind
	Relation ids.RelationID
	Domain   []byte
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("txn: conflict (%s) on relation %d key %q", e.Kind, e.Relation, e.Domain)
}

// Transaction is a single in-flight transaction: a snapshot timestamp,
// a read-only view of the canonical set taken at that timestamp, and a
// per-relation working set of pending mutations and read records
// (spec.md §3, §4.5).
type Transaction struct {
	ID         ids.TxID
	SnapshotTs ids.Timestamp

	snapshot *relation.CanonicalSet
	tupleBox *storage.TupleBox
	logs     map[ids.RelationID]*relationLog

	// allocated collects every TupleRef this transaction has allocated,
	// so Rollback can release them all (spec.md §4.5 "caller rolls back:
	// all TupleRefs allocated in the transaction drop").
	allocated []*storage.TupleRef
}

// New begins a transaction against snapshot (captured by the caller —
// RelBox — at timestamp snapshotTs). Beginning is O(1): no relation is
// forked until the transaction actually touches it.
func New(id ids.TxID, snapshotTs ids.Timestamp, snapshot *relation.CanonicalSet, tupleBox *storage.TupleBox) *Transaction {
	return &Transaction{
		ID:         id,
		SnapshotTs: snapshotTs,
		snapshot:   snapshot,
		tupleBox:   tupleBox,
		logs:       make(map[ids.RelationID]*relationLog),
	}
}

func (t *Transaction) logFor(rid ids.RelationID) *relationLog {
	l, ok := t.logs[rid]
	if !ok {
		l = newRelationLog()
		t.logs[rid] = l
	}
	return l
}

func (t *Transaction) baseRelation(rid ids.RelationID) *relation.BaseRelation {
	r := t.snapshot.Relation(rid)
	if r == nil {
		r = relation.New(rid, false)
	}
	return r
}

// SeekByDomain implements spec.md §4.5 seek_by_domain: check the working
// set first, then fall through to the snapshot base relation, recording
// a Value read entry for commit-time validation.
func (t *Transaction) SeekByDomain(rid ids.RelationID, domain []byte) (*storage.TupleRef, bool, error) {
	log := t.logFor(rid)
	if e, ok := log.entries[string(domain)]; ok {
		if e.kind == KindTombstone {
			return nil, false, nil
		}
		return e.ref, true, nil
	}

	base := t.baseRelation(rid)
	ref, ok := base.Get(domain)
	if !ok {
		return nil, false, nil
	}
	ts, _ := base.GetTs(domain)
	codomain, err := ref.Bytes()
	if err != nil {
		return nil, false, err
	}
	log.entries[string(domain)] = &logEntry{kind: KindValue, ref: ref, oldTs: ts, codomain: codomain}
	return ref, true, nil
}

// SeekByCodomain implements spec.md §4.5 seek_by_codomain: union of
// working-set codomain changes with the forked base index, respecting
// tombstones.
func (t *Transaction) SeekByCodomain(rid ids.RelationID, codomain []byte) ([]*storage.TupleRef, error) {
	base := t.baseRelation(rid)
	baseRefs, err := base.GetByCodomain(codomain)
	if err != nil {
		return nil, err
	}

	log := t.logFor(rid)
	seen := make(map[ids.TupleID]bool, len(baseRefs))
	out := make([]*storage.TupleRef, 0, len(baseRefs))
	for _, ref := range baseRefs {
		bytesVal, err := ref.Bytes()
		if err != nil {
			return nil, err
		}
		_ = bytesVal
		domainKeyLive := true
		for d, e := range log.entries {
			if e.ref != nil && e.ref.ID() == ref.ID() && e.kind == KindTombstone {
				_ = d
				domainKeyLive = false
			}
		}
		if domainKeyLive {
			seen[ref.ID()] = true
			out = append(out, ref)
		}
	}
	for _, e := range log.entries {
		if e.kind == KindTombstone || e.ref == nil {
			continue
		}
		if seen[e.ref.ID()] {
			continue
		}
		if string(e.codomain) == string(codomain) {
			out = append(out, e.ref)
		}
	}
	return out, nil
}

// InsertTuple implements spec.md §4.5 insert_tuple.
func (t *Transaction) InsertTuple(rid ids.RelationID, domain, codomain []byte) (*storage.TupleRef, error) {
	log := t.logFor(rid)
	if e, ok := log.entries[string(domain)]; ok && e.kind != KindTombstone {
		return nil, &relation.ErrDuplicate{Domain: string(domain)}
	}
	if _, ok := log.entries[string(domain)]; !ok {
		if _, live := t.baseRelation(rid).Get(domain); live {
			return nil, &relation.ErrDuplicate{Domain: string(domain)}
		}
	}

	ref, err := t.tupleBox.Allocate(len(codomain), rid, codomain)
	if err != nil {
		return nil, err
	}
	t.allocated = append(t.allocated, ref)
	log.entries[string(domain)] = &logEntry{kind: KindInsert, ref: ref, codomain: codomain}
	return ref, nil
}

func (t *Transaction) currentTs(rid ids.RelationID, domain []byte) (ids.Timestamp, *storage.TupleRef, bool) {
	log := t.logFor(rid)
	if e, ok := log.entries[string(domain)]; ok {
		if e.kind == KindTombstone {
			return 0, nil, false
		}
		return e.oldTs, e.ref, true
	}
	base := t.baseRelation(rid)
	ref, ok := base.Get(domain)
	if !ok {
		return 0, nil, false
	}
	ts, _ := base.GetTs(domain)
	return ts, ref, true
}

// UpdateTuple implements spec.md §4.5 update_tuple: requires a live
// entry, records Update(old_ts, new_ref). The new bytes are staged in a
// freshly allocated tuple private to this transaction; the canonical
// tuple a concurrent snapshot may still be reading is never touched
// until the transaction publishes (spec.md I4, P4).
func (t *Transaction) UpdateTuple(rid ids.RelationID, domain, codomain []byte) (*storage.TupleRef, error) {
	oldTs, _, ok := t.currentTs(rid, domain)
	if !ok {
		return nil, &relation.ErrNotFound{Domain: string(domain)}
	}
	staged, err := t.tupleBox.Allocate(len(codomain), rid, codomain)
	if err != nil {
		return nil, err
	}
	t.allocated = append(t.allocated, staged)
	t.logFor(rid).entries[string(domain)] = &logEntry{kind: KindUpdate, ref: staged, oldTs: oldTs, codomain: codomain}
	return staged, nil
}

// UpsertTuple implements spec.md §4.5 upsert_tuple: like update, but
// permitted when absent (degrades to Insert in the log). Stages its own
// tuple the same way UpdateTuple does.
func (t *Transaction) UpsertTuple(rid ids.RelationID, domain, codomain []byte) (*storage.TupleRef, error) {
	oldTs, _, ok := t.currentTs(rid, domain)
	if !ok {
		return t.InsertTuple(rid, domain, codomain)
	}
	staged, err := t.tupleBox.Allocate(len(codomain), rid, codomain)
	if err != nil {
		return nil, err
	}
	t.allocated = append(t.allocated, staged)
	t.logFor(rid).entries[string(domain)] = &logEntry{kind: KindUpsert, ref: staged, oldTs: oldTs, codomain: codomain}
	return staged, nil
}

// RemoveByDomain implements spec.md §4.5 remove_by_domain: requires a
// live entry, records Tombstone(old_ts).
func (t *Transaction) RemoveByDomain(rid ids.RelationID, domain []byte) error {
	oldTs, _, ok := t.currentTs(rid, domain)
	if !ok {
		return &relation.ErrNotFound{Domain: string(domain)}
	}
	t.logFor(rid).entries[string(domain)] = &logEntry{kind: KindTombstone, oldTs: oldTs}
	return nil
}

// PredicateScan implements spec.md §4.5 predicate_scan: merged scan of
// working set and forked base map, minus tombstones, recording a
// full-scan read guard at SnapshotTs.
func (t *Transaction) PredicateScan(rid ids.RelationID, predicate func(domain []byte, ref *storage.TupleRef) bool) ([]*storage.TupleRef, error) {
	log := t.logFor(rid)
	log.fullScan = true

	base := t.baseRelation(rid)
	seen := make(map[string]bool)
	var out []*storage.TupleRef

	for d, e := range log.entries {
		seen[d] = true
		if e.kind == KindTombstone {
			continue
		}
		if predicate([]byte(d), e.ref) {
			out = append(out, e.ref)
		}
	}
	base.ForEach(func(domain []byte, ref *storage.TupleRef) bool {
		if seen[string(domain)] {
			return true
		}
		if predicate(domain, ref) {
			out = append(out, ref)
		}
		return true
	})
	return out, nil
}

// TouchedRelations reports every relation this transaction's working
// set mentions, for a RelBox's Commit to iterate.
func (t *Transaction) TouchedRelations() []ids.RelationID {
	out := make([]ids.RelationID, 0, len(t.logs))
	for rid := range t.logs {
		out = append(out, rid)
	}
	return out
}

// Entry is the exported view of one working-set record, for a RelBox's
// validate/publish pass (spec.md §4.5 steps 3 and 5).
type Entry struct {
	Kind     Kind
	OldTs    ids.Timestamp
	Codomain []byte
	Ref      *storage.TupleRef
}

// RelationEntries returns rid's working-set entries keyed by domain
// bytes (as a string), plus whether a full predicate scan was recorded
// against rid.
func (t *Transaction) RelationEntries(rid ids.RelationID) (map[string]Entry, bool) {
	log, ok := t.logs[rid]
	if !ok {
		return nil, false
	}
	out := make(map[string]Entry, len(log.entries))
	for domain, e := range log.entries {
		out[domain] = Entry{Kind: e.kind, OldTs: e.oldTs, Codomain: e.codomain, Ref: e.ref}
	}
	return out, log.fullScan
}

// Rollback drops the working set and releases every TupleRef this
// transaction allocated; no canonical mutation ever occurred (spec.md
// §4.5 Rollback).
func (t *Transaction) Rollback() {
	for _, ref := range t.allocated {
		ref.Release()
	}
	t.allocated = nil
	t.logs = make(map[ids.RelationID]*relationLog)
}
