package relation

import "github.com/cuemby/moo/internal/ids"

// CanonicalSet is the atomically swappable collection of all base
// relations at a given commit timestamp (spec.md §3 GLOSSARY). Swapping
// a new CanonicalSet into place publishes a commit atomically; readers
// holding an old CanonicalSet continue to see a perfectly consistent
// pre-commit snapshot (spec.md §5 "canonical publish is an atomic
// pointer swap").
type CanonicalSet struct {
	relations map[ids.RelationID]*BaseRelation
}

// NewCanonicalSet creates an empty set.
func NewCanonicalSet() *CanonicalSet {
	return &CanonicalSet{relations: make(map[ids.RelationID]*BaseRelation)}
}

// Relation returns the base relation for id, or nil if the set has no
// relation with that id.
func (c *CanonicalSet) Relation(id ids.RelationID) *BaseRelation {
	r, ok := c.relations[id]
	if !ok {
		return nil
	}
	return r
}

// EnsureRelation returns the relation for id, creating it (with the
// requested indexing) if absent. The set is mutated in place — callers
// do this only while constructing a fresh CanonicalSet before it is
// published, never on the live canonical pointer.
func (c *CanonicalSet) EnsureRelation(id ids.RelationID, indexed bool) *BaseRelation {
	r, ok := c.relations[id]
	if !ok {
		r = New(id, indexed)
		c.relations[id] = r
	}
	return r
}

// Put installs relation r (replacing whatever was there) in a *copy* of
// c, leaving c untouched (copy-on-write, spec.md §3 "Base relations are
// stored inside a CanonicalSet, itself copy-on-write").
func (c *CanonicalSet) Put(r *BaseRelation) *CanonicalSet {
	next := &CanonicalSet{relations: make(map[ids.RelationID]*BaseRelation, len(c.relations)+1)}
	for id, rel := range c.relations {
		next.relations[id] = rel
	}
	next.relations[r.ID()] = r
	return next
}

// RelationIDs lists every relation currently present.
func (c *CanonicalSet) RelationIDs() []ids.RelationID {
	out := make([]ids.RelationID, 0, len(c.relations))
	for id := range c.relations {
		out = append(out, id)
	}
	return out
}
