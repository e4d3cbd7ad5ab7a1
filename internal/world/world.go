// Package world implements the "World-state interface" named in
// spec.md §6: property read/update/define/clear, verb add/remove/
// info/lookup, object create/parent/move/contents, name lookup, and
// validity check, each against ordinary BaseRelations running under
// the same MVCC Transaction as everything else (spec.md §1's core
// claim that every VM opcode touching world state runs inside the
// transaction whose commit may fail and force a retry).
//
// World-state values travel as plain Go interface{} holding one of:
// nil, int64, float64, string, ids.ObjID, or []interface{}; an error
// value is stored as its code's name in a plain string. This keeps the
// package free of any
// dependency on internal/vm, which depends on World, not the reverse.
package world

import (
	"encoding/binary"
	"fmt"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/txn"
)

// Relation ids the world package owns inside a RelBox (spec.md §4.9
// "a small fixed set of relations").
const (
	RelObjects ids.RelationID = iota + 100
	RelParent
	RelOwner
	RelLocation
	RelProperties
	RelVerbs
	RelNames
)

// PropFlags / VerbFlags are opaque bitmasks the loader and VM pass
// through without interpreting them; no permission check reads them
// (spec.md §6 define_property/add_verb "owner, flags").
type PropFlags uint8
type VerbFlags uint8

const (
	FlagRead VerbFlags = 1 << iota
	FlagWrite
	FlagExec
)

// VerbMeta describes one registered verb (spec.md §6 "verb
// add/remove/info/lookup").
type VerbMeta struct {
	Names      string
	Owner      ids.ObjID
	Flags      VerbFlags
	Args       string
	BinaryType string
}

// Typed domain errors (spec.md §7 "World: ObjectNotFound,
// PropertyNotFound, VerbNotFound, PropertyPermissionDenied,
// RecursiveMove, PropertyTypeMismatch"). None of these are panics.
type ErrObjectNotFound struct{ Obj ids.ObjID }

func (e *ErrObjectNotFound) Error() string { return fmt.Sprintf("world: object %s not found", e.Obj) }

type ErrPropertyNotFound struct {
	Obj  ids.ObjID
	Name string
}

func (e *ErrPropertyNotFound) Error() string {
	return fmt.Sprintf("world: property %q not found on %s", e.Name, e.Obj)
}

type ErrVerbNotFound struct {
	Obj  ids.ObjID
	Name string
}

func (e *ErrVerbNotFound) Error() string {
	return fmt.Sprintf("world: verb %q not found on %s", e.Name, e.Obj)
}

type ErrPropertyPermissionDenied struct {
	Obj  ids.ObjID
	Name string
}

func (e *ErrPropertyPermissionDenied) Error() string {
	return fmt.Sprintf("world: permission denied on property %q of %s", e.Name, e.Obj)
}

type ErrRecursiveMove struct{ Obj, Dest ids.ObjID }

func (e *ErrRecursiveMove) Error() string {
	return fmt.Sprintf("world: moving %s into %s would create a containment cycle", e.Obj, e.Dest)
}

type ErrPropertyTypeMismatch struct {
	Obj  ids.ObjID
	Name string
}

func (e *ErrPropertyTypeMismatch) Error() string {
	return fmt.Sprintf("world: property %q of %s has a clear/update type mismatch", e.Name, e.Obj)
}

// World is the VM's and loader's collaborator over world state (spec.md
// §6 "World-state interface", §4.9).
type World interface {
	CreateObject(tx *txn.Transaction, id ids.ObjID, owner ids.ObjID) error
	SetParent(tx *txn.Transaction, obj, parent ids.ObjID) error
	SetOwner(tx *txn.Transaction, obj, owner ids.ObjID) error
	SetLocation(tx *txn.Transaction, obj, location ids.ObjID) error
	Parent(tx *txn.Transaction, obj ids.ObjID) (ids.ObjID, error)
	Owner(tx *txn.Transaction, obj ids.ObjID) (ids.ObjID, error)
	Location(tx *txn.Transaction, obj ids.ObjID) (ids.ObjID, error)
	Contents(tx *txn.Transaction, obj ids.ObjID) ([]ids.ObjID, error)
	Valid(tx *txn.Transaction, obj ids.ObjID) bool

	DefineProperty(tx *txn.Transaction, definer, location ids.ObjID, name string, owner ids.ObjID, flags PropFlags, value interface{}) error
	SetUpdateProperty(tx *txn.Transaction, location ids.ObjID, name string, owner ids.ObjID, flags PropFlags, value interface{}) error
	GetProperty(tx *txn.Transaction, obj ids.ObjID, name string) (interface{}, error)
	PutProperty(tx *txn.Transaction, obj ids.ObjID, name string, value interface{}) error
	ClearProperty(tx *txn.Transaction, obj ids.ObjID, name string) error

	AddVerb(tx *txn.Transaction, location ids.ObjID, names string, owner ids.ObjID, flags VerbFlags, args string, binary []byte, binaryType string) error
	RemoveVerb(tx *txn.Transaction, location ids.ObjID, name string) error
	VerbInfo(tx *txn.Transaction, obj ids.ObjID, name string) (VerbMeta, error)
	LookupVerb(tx *txn.Transaction, obj ids.ObjID, name string) (VerbMeta, []byte, error)

	NameLookup(tx *txn.Transaction, name string) (ids.ObjID, error)
}

func objKey(obj ids.ObjID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(obj))
	return b[:]
}

func propKey(obj ids.ObjID, name string) []byte {
	out := make([]byte, 8+len(name))
	binary.BigEndian.PutUint64(out[:8], uint64(obj))
	copy(out[8:], name)
	return out
}
