package world

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/storage"
	"github.com/cuemby/moo/internal/txn"
)

var msgpackHandle codec.MsgpackHandle

// encodeTyped/decodeTyped serialise a value of a known Go type to/from
// its codomain bytes using msgpack — the same encoding the teacher's
// cluster layer already pulls in transitively through raft, reused here
// as the tuple codomain wire format instead of being limited to
// replication framing. Decoding into a concrete T (rather than a bare
// interface{}) is what lets propRecord/verbRecord round-trip exactly;
// only the property Value itself (nil/int64/float64/string/ids.ObjID/
// []interface{}) is decoded generically.
func encodeTyped[T any](v T) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("world: encode value: %w", err)
	}
	return buf, nil
}

func decodeTyped[T any](b []byte) (T, error) {
	var v T
	dec := codec.NewDecoderBytes(b, &msgpackHandle)
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, fmt.Errorf("world: decode value: %w", err)
	}
	return v, nil
}

func encodeValue(v interface{}) ([]byte, error) { return encodeTyped[interface{}](v) }

func decodeValue(b []byte) (interface{}, error) { return decodeTyped[interface{}](b) }

// RelWorld implements World directly against a Transaction's relations
// (spec.md §4.9). It owns no storage of its own; every method is a
// thin translation onto Transaction.SeekByDomain/InsertTuple/etc.
type RelWorld struct{}

// NewRelWorld returns the relation-backed World implementation.
func NewRelWorld() *RelWorld { return &RelWorld{} }

func (w *RelWorld) CreateObject(tx *txn.Transaction, id ids.ObjID, owner ids.ObjID) error {
	payload, err := encodeValue(int64(owner))
	if err != nil {
		return err
	}
	_, err = tx.InsertTuple(RelObjects, objKey(id), payload)
	return err
}

func (w *RelWorld) Valid(tx *txn.Transaction, obj ids.ObjID) bool {
	_, ok, err := tx.SeekByDomain(RelObjects, objKey(obj))
	return err == nil && ok
}

func (w *RelWorld) requireValid(tx *txn.Transaction, obj ids.ObjID) error {
	if !w.Valid(tx, obj) {
		return &ErrObjectNotFound{Obj: obj}
	}
	return nil
}

func (w *RelWorld) SetParent(tx *txn.Transaction, obj, parent ids.ObjID) error {
	if err := w.requireValid(tx, obj); err != nil {
		return err
	}
	payload, err := encodeValue(int64(parent))
	if err != nil {
		return err
	}
	_, err = tx.UpsertTuple(RelParent, objKey(obj), payload)
	return err
}

func (w *RelWorld) SetOwner(tx *txn.Transaction, obj, owner ids.ObjID) error {
	if err := w.requireValid(tx, obj); err != nil {
		return err
	}
	payload, err := encodeValue(int64(owner))
	if err != nil {
		return err
	}
	_, err = tx.UpsertTuple(RelOwner, objKey(obj), payload)
	return err
}

// SetLocation implements move, rejecting a move that would create a
// containment cycle (spec.md §7 RecursiveMove).
func (w *RelWorld) SetLocation(tx *txn.Transaction, obj, location ids.ObjID) error {
	if err := w.requireValid(tx, obj); err != nil {
		return err
	}
	if location != ids.InvalidObjID {
		cur := location
		for cur != ids.InvalidObjID {
			if cur == obj {
				return &ErrRecursiveMove{Obj: obj, Dest: location}
			}
			next, err := w.Location(tx, cur)
			if err != nil {
				break
			}
			cur = next
		}
	}
	payload, err := encodeValue(int64(location))
	if err != nil {
		return err
	}
	_, err = tx.UpsertTuple(RelLocation, objKey(obj), payload)
	return err
}

func (w *RelWorld) objRefLookup(tx *txn.Transaction, rel ids.RelationID, obj ids.ObjID) (ids.ObjID, error) {
	ref, ok, err := tx.SeekByDomain(rel, objKey(obj))
	if err != nil {
		return ids.InvalidObjID, err
	}
	if !ok {
		return ids.InvalidObjID, &ErrObjectNotFound{Obj: obj}
	}
	bs, err := ref.Bytes()
	if err != nil {
		return ids.InvalidObjID, err
	}
	v, err := decodeValue(bs)
	if err != nil {
		return ids.InvalidObjID, err
	}
	i, ok := v.(int64)
	if !ok {
		return ids.InvalidObjID, fmt.Errorf("world: corrupt object reference")
	}
	return ids.ObjID(i), nil
}

func (w *RelWorld) Parent(tx *txn.Transaction, obj ids.ObjID) (ids.ObjID, error) {
	return w.objRefLookup(tx, RelParent, obj)
}

func (w *RelWorld) Owner(tx *txn.Transaction, obj ids.ObjID) (ids.ObjID, error) {
	return w.objRefLookup(tx, RelOwner, obj)
}

func (w *RelWorld) Location(tx *txn.Transaction, obj ids.ObjID) (ids.ObjID, error) {
	return w.objRefLookup(tx, RelLocation, obj)
}

// Contents scans RelLocation for every object whose location codomain
// equals obj (spec.md §6 "object create/parent/move/contents"). A
// dedicated codomain index is unnecessary here: location changes are
// comparatively rare next to property/verb traffic, and a predicate
// scan keeps RelLocation a plain, unindexed relation.
func (w *RelWorld) Contents(tx *txn.Transaction, obj ids.ObjID) ([]ids.ObjID, error) {
	var out []ids.ObjID
	var scanErr error
	_, err := tx.PredicateScan(RelLocation, func(domain []byte, ref *storage.TupleRef) bool {
		bs, berr := ref.Bytes()
		if berr != nil {
			scanErr = berr
			return false
		}
		v, derr := decodeValue(bs)
		if derr != nil {
			scanErr = derr
			return false
		}
		loc, ok := v.(int64)
		if ok && loc == int64(obj) && len(domain) == 8 {
			out = append(out, ids.ObjID(int64(binary.BigEndian.Uint64(domain))))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

func (w *RelWorld) DefineProperty(tx *txn.Transaction, definer, location ids.ObjID, name string, owner ids.ObjID, flags PropFlags, value interface{}) error {
	if err := w.requireValid(tx, location); err != nil {
		return err
	}
	payload, err := encodeTyped(propRecord{Owner: owner, Flags: flags, Value: value})
	if err != nil {
		return err
	}
	_, err = tx.InsertTuple(RelProperties, propKey(location, name), payload)
	return err
}

func (w *RelWorld) SetUpdateProperty(tx *txn.Transaction, location ids.ObjID, name string, owner ids.ObjID, flags PropFlags, value interface{}) error {
	payload, err := encodeTyped(propRecord{Owner: owner, Flags: flags, Value: value})
	if err != nil {
		return err
	}
	_, err = tx.UpsertTuple(RelProperties, propKey(location, name), payload)
	return err
}

func (w *RelWorld) GetProperty(tx *txn.Transaction, obj ids.ObjID, name string) (interface{}, error) {
	ref, ok, err := tx.SeekByDomain(RelProperties, propKey(obj, name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ErrPropertyNotFound{Obj: obj, Name: name}
	}
	bs, err := ref.Bytes()
	if err != nil {
		return nil, err
	}
	rec, err := decodePropRecord(bs)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

func (w *RelWorld) PutProperty(tx *txn.Transaction, obj ids.ObjID, name string, value interface{}) error {
	ref, ok, err := tx.SeekByDomain(RelProperties, propKey(obj, name))
	if err != nil {
		return err
	}
	if !ok {
		return &ErrPropertyNotFound{Obj: obj, Name: name}
	}
	bs, err := ref.Bytes()
	if err != nil {
		return err
	}
	rec, err := decodePropRecord(bs)
	if err != nil {
		return err
	}
	rec.Value = value
	payload, err := encodeTyped(rec)
	if err != nil {
		return err
	}
	_, err = tx.UpdateTuple(RelProperties, propKey(obj, name), payload)
	return err
}

func (w *RelWorld) ClearProperty(tx *txn.Transaction, obj ids.ObjID, name string) error {
	return tx.RemoveByDomain(RelProperties, propKey(obj, name))
}

type propRecord struct {
	Owner ids.ObjID
	Flags PropFlags
	Value interface{}
}

func decodePropRecord(b []byte) (propRecord, error) {
	return decodeTyped[propRecord](b)
}

func verbKey(obj ids.ObjID, name string) []byte {
	return propKey(obj, name)
}

func (w *RelWorld) AddVerb(tx *txn.Transaction, location ids.ObjID, names string, owner ids.ObjID, flags VerbFlags, args string, binary []byte, binaryType string) error {
	if err := w.requireValid(tx, location); err != nil {
		return err
	}
	for _, n := range strings.Fields(names) {
		meta := VerbMeta{Names: names, Owner: owner, Flags: flags, Args: args, BinaryType: binaryType}
		payload, err := encodeTyped(verbRecord{Meta: meta, Binary: binary})
		if err != nil {
			return err
		}
		if _, err := tx.UpsertTuple(RelVerbs, verbKey(location, n), payload); err != nil {
			return err
		}
	}
	return nil
}

func (w *RelWorld) RemoveVerb(tx *txn.Transaction, location ids.ObjID, name string) error {
	return tx.RemoveByDomain(RelVerbs, verbKey(location, name))
}

type verbRecord struct {
	Meta   VerbMeta
	Binary []byte
}

func (w *RelWorld) lookupVerbRecord(tx *txn.Transaction, obj ids.ObjID, name string) (verbRecord, error) {
	ref, ok, err := tx.SeekByDomain(RelVerbs, verbKey(obj, name))
	if err != nil {
		return verbRecord{}, err
	}
	if !ok {
		return verbRecord{}, &ErrVerbNotFound{Obj: obj, Name: name}
	}
	bs, err := ref.Bytes()
	if err != nil {
		return verbRecord{}, err
	}
	return decodeTyped[verbRecord](bs)
}

func (w *RelWorld) VerbInfo(tx *txn.Transaction, obj ids.ObjID, name string) (VerbMeta, error) {
	rec, err := w.lookupVerbRecord(tx, obj, name)
	if err != nil {
		return VerbMeta{}, err
	}
	return rec.Meta, nil
}

// LookupVerb walks the parent chain starting at obj, spec.md §6's
// standard MOO verb-resolution rule (inherited verbs resolve through
// SetParent's chain).
func (w *RelWorld) LookupVerb(tx *txn.Transaction, obj ids.ObjID, name string) (VerbMeta, []byte, error) {
	cur := obj
	for cur != ids.InvalidObjID {
		rec, err := w.lookupVerbRecord(tx, cur, name)
		if err == nil {
			return rec.Meta, rec.Binary, nil
		}
		next, perr := w.Parent(tx, cur)
		if perr != nil {
			break
		}
		cur = next
	}
	return VerbMeta{}, nil, &ErrVerbNotFound{Obj: obj, Name: name}
}

func (w *RelWorld) NameLookup(tx *txn.Transaction, name string) (ids.ObjID, error) {
	ref, ok, err := tx.SeekByDomain(RelNames, []byte(name))
	if err != nil {
		return ids.InvalidObjID, err
	}
	if !ok {
		return ids.InvalidObjID, &ErrObjectNotFound{Obj: ids.InvalidObjID}
	}
	bs, err := ref.Bytes()
	if err != nil {
		return ids.InvalidObjID, err
	}
	v, err := decodeValue(bs)
	if err != nil {
		return ids.InvalidObjID, err
	}
	i, ok := v.(int64)
	if !ok {
		return ids.InvalidObjID, fmt.Errorf("world: corrupt name record")
	}
	return ids.ObjID(i), nil
}

// BindName registers name -> obj in the well-known names relation, used
// by the loader (spec.md §6 create_object "attrs" may include a name).
func (w *RelWorld) BindName(tx *txn.Transaction, name string, obj ids.ObjID) error {
	payload, err := encodeValue(int64(obj))
	if err != nil {
		return err
	}
	_, err = tx.UpsertTuple(RelNames, []byte(name), payload)
	return err
}
