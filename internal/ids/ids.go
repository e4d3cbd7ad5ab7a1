// Package ids defines the small identifier types shared across the
// storage, relation, transaction, and VM packages. Keeping them in one
// leaf package avoids import cycles between the packages that all need
// to name the same kinds of handles.
package ids

import "fmt"

// RelationID names one base relation inside a RelBox.
type RelationID uint32

// PageID names one page inside the buffer pool.
type PageID uint64

// SlotID names one slot within a page.
type SlotID uint32

// TupleID is the stable identity of a tuple: the page it lives on plus
// its slot within that page (spec.md §3, "Identity is a TupleId =
// (PageId, SlotId)").
type TupleID struct {
	Page PageID
	Slot SlotID
}

func (t TupleID) String() string {
	return fmt.Sprintf("%d:%d", t.Page, t.Slot)
}

// TxID names one transaction.
type TxID uint64

// Timestamp is a monotonic commit timestamp handed out by the RelBox's
// timestamp oracle.
type Timestamp uint64

// ObjID names one world object (spec.md §6 World-state interface). A
// negative value denotes the well-known "invalid object" (#-1).
type ObjID int64

// InvalidObjID is the well-known invalid/nonexistent object id.
const InvalidObjID ObjID = -1

func (o ObjID) String() string { return fmt.Sprintf("#%d", int64(o)) }

// TaskID names one scheduler task.
type TaskID uint64
