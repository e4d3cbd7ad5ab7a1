// Package relation implements the persistent base relation described in
// spec.md §3-§4.4: a structurally shared mapping from domain bytes to
// TupleRef, plus an optional inverted codomain index, both forkable in
// O(1).
package relation

import (
	"fmt"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/storage"
)

// ErrDuplicate is returned by Insert when the domain key already exists.
type ErrDuplicate struct{ Domain string }

func (e *ErrDuplicate) Error() string { return fmt.Sprintf("relation: duplicate domain key %q", e.Domain) }

// ErrNotFound is returned by Update/Remove when the domain key is absent.
type ErrNotFound struct{ Domain string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("relation: domain key %q not found", e.Domain) }

// entry is what the domain map stores: the tuple handle plus the
// timestamp of the transaction that last wrote it, needed for commit
// validation (spec.md §4.5 Update/Tombstone carrying old_ts).
type entry struct {
	ref *storage.TupleRef
	ts  ids.Timestamp
}

// BaseRelation is the canonical, committed mapping for one relation
// (spec.md §4.4, GLOSSARY). It carries a monotonic ts (last-commit
// timestamp, spec.md §3). Indexed is whether a secondary codomain index
// is maintained.
type BaseRelation struct {
	id       ids.RelationID
	ts       ids.Timestamp
	domain   *pmap[entry]
	indexed  bool
	codomain *pmap[*pmap[struct{}]] // codomain bytes -> set of domain keys (as a pmap keyed by domain key bytes)
}

// New creates an empty relation. If indexed, GetByCodomain is
// available; otherwise it returns an error.
func New(id ids.RelationID, indexed bool) *BaseRelation {
	r := &BaseRelation{id: id, domain: newPMap[entry]()}
	r.indexed = indexed
	if indexed {
		r.codomain = newPMap[*pmap[struct{}]]()
	}
	return r
}

// ID returns the relation id.
func (r *BaseRelation) ID() ids.RelationID { return r.id }

// Ts returns the relation's last-commit timestamp.
func (r *BaseRelation) Ts() ids.Timestamp { return r.ts }

// Fork returns a writable, O(1) snapshot that does not affect r
// (spec.md §4.4 "fork() returns a writable snapshot in constant time").
func (r *BaseRelation) Fork() *BaseRelation {
	f := &BaseRelation{id: r.id, ts: r.ts, domain: r.domain.fork(), indexed: r.indexed}
	if r.indexed {
		f.codomain = r.codomain.fork()
	}
	return f
}

// WithTs returns a copy of r with its timestamp set to ts (used when
// publishing a new canonical version, spec.md §4.5 step 5).
func (r *BaseRelation) WithTs(ts ids.Timestamp) *BaseRelation {
	f := r.Fork()
	f.ts = ts
	return f
}

// Get looks up a tuple by domain key.
func (r *BaseRelation) Get(domain []byte) (*storage.TupleRef, bool) {
	e, ok := r.domain.get(domain)
	if !ok {
		return nil, false
	}
	return e.ref, true
}

// GetTs looks up a tuple's write timestamp by domain key, used by commit
// validation (spec.md §4.5).
func (r *BaseRelation) GetTs(domain []byte) (ids.Timestamp, bool) {
	e, ok := r.domain.get(domain)
	if !ok {
		return 0, false
	}
	return e.ts, true
}

// GetByCodomain returns every tuple currently indexed under codomain.
func (r *BaseRelation) GetByCodomain(codomain []byte) ([]*storage.TupleRef, error) {
	if !r.indexed {
		return nil, fmt.Errorf("relation: not indexed for codomain lookup")
	}
	set, ok := r.codomain.get(codomain)
	if !ok {
		return nil, nil
	}
	var out []*storage.TupleRef
	set.forEach(func(domainKey []byte, _ struct{}) bool {
		if e, ok := r.domain.get(domainKey); ok {
			out = append(out, e.ref)
		}
		return true
	})
	return out, nil
}

// Insert installs ref (already allocated by the caller, spec.md §4.5
// insert_tuple) under domain, failing with ErrDuplicate if domain
// already has a live entry. Insert never allocates: the transaction
// that produced ref owns that decision.
func (r *BaseRelation) Insert(domain, codomain []byte, ref *storage.TupleRef, ts ids.Timestamp) error {
	if _, ok := r.domain.get(domain); ok {
		return &ErrDuplicate{Domain: string(domain)}
	}
	r.domain = r.domain.put(domain, entry{ref: ref, ts: ts})
	r.indexCodomain(domain, codomain)
	return nil
}

// Upsert installs ref under domain, replacing whatever tuple was there.
// Degrades to Insert when domain is absent.
func (r *BaseRelation) Upsert(domain, codomain []byte, ref *storage.TupleRef, ts ids.Timestamp) error {
	if _, ok := r.domain.get(domain); ok {
		return r.Update(domain, codomain, ref, ts)
	}
	return r.Insert(domain, codomain, ref, ts)
}

// Update replaces the tuple at an existing domain key with ref, failing
// with ErrNotFound if absent. The superseded tuple's handle is left
// exactly as it was: a BaseRelation forked from r before this call may
// still be in use by an open transaction's snapshot (spec.md I4, P4),
// and this relation's own domain map was the only thing pointing at it
// through this path, so dropping it here would not be safe without
// knowing whether another snapshot still reaches it.
func (r *BaseRelation) Update(domain, codomain []byte, ref *storage.TupleRef, ts ids.Timestamp) error {
	e, ok := r.domain.get(domain)
	if !ok {
		return &ErrNotFound{Domain: string(domain)}
	}
	r.deindexCodomain(domain, e)
	r.domain = r.domain.put(domain, entry{ref: ref, ts: ts})
	r.indexCodomain(domain, codomain)
	return nil
}

// Remove deletes a domain key, releasing its tuple handle.
func (r *BaseRelation) Remove(domain []byte) error {
	e, ok := r.domain.get(domain)
	if !ok {
		return &ErrNotFound{Domain: string(domain)}
	}
	r.deindexCodomain(domain, e)
	newDomain, _ := r.domain.remove(domain)
	r.domain = newDomain
	e.ref.Release()
	return nil
}

func (r *BaseRelation) indexCodomain(domain, codomain []byte) {
	if !r.indexed {
		return
	}
	set, ok := r.codomain.get(codomain)
	if !ok {
		set = newPMap[struct{}]()
	}
	set = set.put(domain, struct{}{})
	r.codomain = r.codomain.put(codomain, set)
}

func (r *BaseRelation) deindexCodomain(domain []byte, e entry) {
	if !r.indexed {
		return
	}
	bytesVal, err := e.ref.Bytes()
	if err != nil {
		return
	}
	set, ok := r.codomain.get(bytesVal)
	if !ok {
		return
	}
	newSet, _ := set.remove(domain)
	if newSet.len() == 0 {
		r.codomain, _ = r.codomain.remove(bytesVal)
		return
	}
	r.codomain = r.codomain.put(bytesVal, newSet)
}

// PredicateScan returns every live (domain, TupleRef) pair for which
// predicate returns true.
func (r *BaseRelation) PredicateScan(predicate func(domain []byte, ref *storage.TupleRef) bool) []*storage.TupleRef {
	var out []*storage.TupleRef
	r.domain.forEach(func(domain []byte, e entry) bool {
		if predicate(domain, e.ref) {
			out = append(out, e.ref)
		}
		return true
	})
	return out
}

// ForEach visits every (domain, TupleRef) pair.
func (r *BaseRelation) ForEach(visit func(domain []byte, ref *storage.TupleRef) bool) {
	r.domain.forEach(func(domain []byte, e entry) bool {
		return visit(domain, e.ref)
	})
}

// Len reports the number of live domain keys.
func (r *BaseRelation) Len() int { return r.domain.len() }
