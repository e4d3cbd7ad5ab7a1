package world

import (
	"sync/atomic"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/txn"
)

// Committer is the narrow slice of internal/relbox.RelBox that Txn needs
// to finish a load (spec.md §6 "commit"), kept as a local interface so
// this package doesn't import internal/relbox.
type Committer interface {
	Commit(tx *txn.Transaction) error
}

// Txn implements loader.Transactional by binding one *txn.Transaction,
// a World, and a Committer together so a loader can call the spec.md §6
// operations without threading a transaction through every call (spec.md
// §4.8 "implemented by internal/world.Txn").
type Txn struct {
	tx     *txn.Transaction
	world  World
	box    Committer
	nextID atomic.Int64
}

// NewTxn starts the object-id allocator just past the highest object the
// loader should never collide with; callers seed it from the RelBox's
// existing object count when resuming a load into a non-empty world.
func NewTxn(tx *txn.Transaction, w World, box Committer, startID ids.ObjID) *Txn {
	t := &Txn{tx: tx, world: w, box: box}
	t.nextID.Store(int64(startID))
	return t
}

func (t *Txn) CreateObject(owner ids.ObjID) (ids.ObjID, error) {
	id := ids.ObjID(t.nextID.Add(1) - 1)
	if err := t.world.CreateObject(t.tx, id, owner); err != nil {
		return ids.InvalidObjID, err
	}
	return id, nil
}

func (t *Txn) SetObjectParent(obj, parent ids.ObjID) error {
	return t.world.SetParent(t.tx, obj, parent)
}

func (t *Txn) SetObjectOwner(obj, owner ids.ObjID) error {
	return t.world.SetOwner(t.tx, obj, owner)
}

func (t *Txn) SetObjectLocation(obj, location ids.ObjID) error {
	return t.world.SetLocation(t.tx, obj, location)
}

func (t *Txn) DefineProperty(definer, location ids.ObjID, name string, owner ids.ObjID, flags PropFlags, value interface{}) error {
	return t.world.DefineProperty(t.tx, definer, location, name, owner, flags, value)
}

func (t *Txn) SetUpdateProperty(location ids.ObjID, name string, owner ids.ObjID, flags PropFlags, value interface{}) error {
	return t.world.SetUpdateProperty(t.tx, location, name, owner, flags, value)
}

func (t *Txn) AddVerb(location ids.ObjID, names string, owner ids.ObjID, flags VerbFlags, args string, binary []byte, binaryType string) error {
	return t.world.AddVerb(t.tx, location, names, owner, flags, args, binary, binaryType)
}

func (t *Txn) Commit() error {
	return t.box.Commit(t.tx)
}
