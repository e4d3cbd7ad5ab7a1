// Package loader defines the thin interface a world-builder (textdump
// import, `cmd/moo`'s smoke-load path, or a future admin tool) uses to
// populate a world without depending on internal/world or internal/relbox
// directly (spec.md §6 "Loader interface").
package loader

import (
	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/world"
)

// Transactional is the operation set spec.md §6 names for building a
// world inside one transaction: create_object, set_object_parent/owner/
// location, define_property, set_update_property, add_verb, commit.
type Transactional interface {
	CreateObject(owner ids.ObjID) (ids.ObjID, error)
	SetObjectParent(obj, parent ids.ObjID) error
	SetObjectOwner(obj, owner ids.ObjID) error
	SetObjectLocation(obj, location ids.ObjID) error

	DefineProperty(definer, location ids.ObjID, name string, owner ids.ObjID, flags world.PropFlags, value interface{}) error
	SetUpdateProperty(location ids.ObjID, name string, owner ids.ObjID, flags world.PropFlags, value interface{}) error

	AddVerb(location ids.ObjID, names string, owner ids.ObjID, flags world.VerbFlags, args string, binary []byte, binaryType string) error

	Commit() error
}
