package relation

import (
	"bytes"
	"hash/maphash"
)

// pmap is a persistent (structurally shared) map from byte-slice keys to
// values of type V, implemented as a binary trie over the bits of a
// 64-bit hash of the key (a minimal HAMT), following spec.md §9's
// re-architecture note ("use a hash-array-mapped trie or similar
// structurally shared map so fork() is O(1)"). Every mutation
// path-copies only the nodes on the path to the changed key; Fork is a
// pointer copy, O(1), and unrelated transactions share the untouched
// subtrees.
//
// Keys with colliding 64-bit hashes fall back to a per-leaf collision
// list; actual equality is always checked against the real key bytes,
// never the hash alone.
type pmap[V any] struct {
	root *pnode[V]
	size int
}

type pnode[V any] struct {
	// Exactly one of (leaf set) or (left/right set) is non-nil, except
	// for a collision node, which has a leaf list and no children.
	leaves []leafEntry[V]
	left   *pnode[V]
	right  *pnode[V]
}

type leafEntry[V any] struct {
	key   []byte
	value V
}

var seed = maphash.MakeSeed()

func hashKey(key []byte) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.Write(key)
	return h.Sum64()
}

func bitAt(h uint64, depth int) uint64 {
	return (h >> uint(depth)) & 1
}

func newPMap[V any]() *pmap[V] {
	return &pmap[V]{}
}

// fork returns a pointer copy sharing the same root; O(1).
func (m *pmap[V]) fork() *pmap[V] {
	return &pmap[V]{root: m.root, size: m.size}
}

func (m *pmap[V]) get(key []byte) (V, bool) {
	h := hashKey(key)
	n := m.root
	depth := 0
	for n != nil {
		if n.leaves != nil {
			for _, e := range n.leaves {
				if bytes.Equal(e.key, key) {
					return e.value, true
				}
			}
			var zero V
			return zero, false
		}
		if bitAt(h, depth) == 0 {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	var zero V
	return zero, false
}

// put returns a new map with key set to value (path-copied); the
// receiver is left unmodified.
func (m *pmap[V]) put(key []byte, value V) *pmap[V] {
	h := hashKey(key)
	newRoot, grew := insert(m.root, h, 0, key, value)
	size := m.size
	if grew {
		size++
	}
	return &pmap[V]{root: newRoot, size: size}
}

func insert[V any](n *pnode[V], h uint64, depth int, key []byte, value V) (*pnode[V], bool) {
	if n == nil {
		return &pnode[V]{leaves: []leafEntry[V]{{key: key, value: value}}}, true
	}
	if n.leaves != nil {
		// Replace an existing key.
		for i, e := range n.leaves {
			if bytes.Equal(e.key, key) {
				out := make([]leafEntry[V], len(n.leaves))
				copy(out, n.leaves)
				out[i] = leafEntry[V]{key: key, value: value}
				return &pnode[V]{leaves: out}, false
			}
		}
		if depth >= 64 || len(n.leaves) > 1 {
			// Hash space exhausted (or already a collision list at this
			// depth): append to the list rather than recursing forever.
			out := append(append([]leafEntry[V]{}, n.leaves...), leafEntry[V]{key: key, value: value})
			return &pnode[V]{leaves: out}, true
		}

		existing := n.leaves[0]
		eh := hashKey(existing.key)
		ebit := bitAt(eh, depth)
		nbit := bitAt(h, depth)
		if ebit != nbit {
			newLeaf := &pnode[V]{leaves: []leafEntry[V]{{key: key, value: value}}}
			oldLeaf := &pnode[V]{leaves: []leafEntry[V]{existing}}
			if ebit == 0 {
				return &pnode[V]{left: oldLeaf, right: newLeaf}, true
			}
			return &pnode[V]{left: newLeaf, right: oldLeaf}, true
		}
		// Both keys agree on this bit: push the existing entry one level
		// down and keep recursing until the bits diverge.
		child, grew := insert(&pnode[V]{leaves: []leafEntry[V]{existing}}, h, depth+1, key, value)
		if ebit == 0 {
			return &pnode[V]{left: child}, grew
		}
		return &pnode[V]{right: child}, grew
	}

	left, right := n.left, n.right
	var grew bool
	if bitAt(h, depth) == 0 {
		left, grew = insert(left, h, depth+1, key, value)
	} else {
		right, grew = insert(right, h, depth+1, key, value)
	}
	return &pnode[V]{left: left, right: right}, grew
}

func (m *pmap[V]) remove(key []byte) (*pmap[V], bool) {
	h := hashKey(key)
	newRoot, removed := remove(m.root, h, 0, key)
	if !removed {
		return m, false
	}
	return &pmap[V]{root: newRoot, size: m.size - 1}, true
}

func remove[V any](n *pnode[V], h uint64, depth int, key []byte) (*pnode[V], bool) {
	if n == nil {
		return nil, false
	}
	if n.leaves != nil {
		out := make([]leafEntry[V], 0, len(n.leaves))
		removed := false
		for _, e := range n.leaves {
			if bytes.Equal(e.key, key) {
				removed = true
				continue
			}
			out = append(out, e)
		}
		if !removed {
			return n, false
		}
		if len(out) == 0 {
			return nil, true
		}
		return &pnode[V]{leaves: out}, true
	}
	var left, right *pnode[V]
	var removed bool
	if bitAt(h, depth) == 0 {
		left, removed = remove(n.left, h, depth+1, key)
		right = n.right
	} else {
		left = n.left
		right, removed = remove(n.right, h, depth+1, key)
	}
	if !removed {
		return n, false
	}
	if left == nil && right == nil {
		return nil, true
	}
	return &pnode[V]{left: left, right: right}, true
}

// forEach visits every entry; order is unspecified.
func (m *pmap[V]) forEach(visit func(key []byte, value V) bool) {
	var walk func(n *pnode[V]) bool
	walk = func(n *pnode[V]) bool {
		if n == nil {
			return true
		}
		if n.leaves != nil {
			for _, e := range n.leaves {
				if !visit(e.key, e.value) {
					return false
				}
			}
			return true
		}
		if !walk(n.left) {
			return false
		}
		return walk(n.right)
	}
	walk(m.root)
}

func (m *pmap[V]) len() int { return m.size }
