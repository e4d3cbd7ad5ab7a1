package storage

import (
	"fmt"
	"sync"

	"github.com/cuemby/moo/internal/ids"
	"github.com/cuemby/moo/internal/obslog"
)

// ErrBoxFull is returned when the buffer pool cannot satisfy a new page
// for a relation (spec.md §4.3, §7).
type ErrBoxFull struct {
	Desired   int
	Available int
}

func (e *ErrBoxFull) Error() string {
	return fmt.Sprintf("tuple box: full: desired %d bytes, available %d bytes", e.Desired, e.Available)
}

// ErrTupleNotFound is returned for a stale or unknown tuple id.
type ErrTupleNotFound struct {
	ID ids.TupleID
}

func (e *ErrTupleNotFound) Error() string { return fmt.Sprintf("tuple box: tuple %s not found", e.ID) }

// slotPointer is the pinned indirection a TupleRef dereferences through.
// It decouples TupleRef stability from buffer-pool relocation: when a
// page is restored at a new address, the tuple box rewrites this
// record's page pointer, never the TupleRef itself (spec.md §4.3, §9).
//
// Open question (spec.md §9) resolved: the record is removed the moment
// its refcount reaches zero ("free on zero"), rather than left dangling
// — see DESIGN.md.
type slotPointer struct {
	page     *Page
	pageID   ids.PageID
	slot     ids.SlotID
	relation ids.RelationID
}

type pageEntry struct {
	page     *Page
	block    BlockID
	relation ids.RelationID
}

// TupleBox allocates tuples into pages, owns stable refcounted tuple
// handles, and tracks per-relation free space (spec.md §4.3).
type TupleBox struct {
	mu sync.Mutex // held only during allocation, free, and page restore — never across VM opcodes (spec.md §5)

	pool *BufferPool
	log  obslogLogger

	pages      map[ids.PageID]*pageEntry
	pageSpaces map[ids.RelationID]*PageSpace
	pointers   map[ids.TupleID]*slotPointer
	nextPageID ids.PageID
}

// obslogLogger is the minimal logging surface TupleBox needs; defined
// locally to avoid importing zerolog's concrete type into every method
// signature.
type obslogLogger interface {
	Warn(msg string)
}

type noopLogger struct{}

func (noopLogger) Warn(string) {}

// zerologAdapter adapts obslog's component logger to obslogLogger.
type zerologAdapter struct{ component string }

func (z zerologAdapter) Warn(msg string) {
	obslog.WithComponent(z.component).Warn().Msg(msg)
}

// NewTupleBox creates an empty tuple box backed by pool.
func NewTupleBox(pool *BufferPool) *TupleBox {
	return &TupleBox{
		pool:       pool,
		log:        zerologAdapter{component: "tuplebox"},
		pages:      make(map[ids.PageID]*pageEntry),
		pageSpaces: make(map[ids.RelationID]*PageSpace),
		pointers:   make(map[ids.TupleID]*slotPointer),
	}
}

func (tb *TupleBox) pageSpaceFor(relation ids.RelationID) *PageSpace {
	ps := tb.pageSpaces[relation]
	if ps == nil {
		ps = NewPageSpace()
		tb.pageSpaces[relation] = ps
	}
	return ps
}

// Allocate places a new tuple of size bytes into relation, creating a
// page if none has room. The tuple's initial refcount is 1, representing
// the canonical anchor (spec.md §4.3 refcount semantics).
func (tb *TupleBox) Allocate(size int, relation ids.RelationID, initial []byte) (*TupleRef, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	needed := uint32(size) + slotEntrySize
	ps := tb.pageSpaceFor(relation)

	if pageID, ok := ps.BestFit(needed); ok {
		entry := tb.pages[pageID]
		slot, freeBytes, payload, err := entry.page.Allocate(uint32(size), initial)
		if err == nil {
			ps.Insert(pageID, freeBytes)
			return tb.registerRef(pageID, slot, relation, entry.page, payload), nil
		}
		// Fell through: page claimed room it didn't have (shouldn't
		// happen since BestFit only returns sufficient pages); remove the
		// stale entry and fall back to allocating a fresh page.
		ps.Remove(pageID)
	}

	pageBytes := nextPowerOfTwo(size + headerSize + slotEntrySize)
	block, buf, actual, err := tb.pool.Alloc(pageBytes)
	if err != nil {
		var room *ErrInsufficientRoom
		if ok := asErrInsufficientRoom(err, &room); ok {
			return nil, &ErrBoxFull{Desired: room.Desired, Available: room.Available}
		}
		return nil, fmt.Errorf("tuple box: allocate page: %w", err)
	}
	_ = actual

	page := NewPage(buf, relation)
	pageID := tb.nextPageID
	tb.nextPageID++
	tb.pages[pageID] = &pageEntry{page: page, block: block, relation: relation}

	slot, freeBytes, payload, err := page.Allocate(uint32(size), initial)
	if err != nil {
		return nil, fmt.Errorf("tuple box: allocate into fresh page: %w", err)
	}
	ps.Insert(pageID, freeBytes)

	return tb.registerRef(pageID, slot, relation, page, payload), nil
}

func asErrInsufficientRoom(err error, out **ErrInsufficientRoom) bool {
	e, ok := err.(*ErrInsufficientRoom)
	if ok {
		*out = e
	}
	return ok
}

func (tb *TupleBox) registerRef(pageID ids.PageID, slot ids.SlotID, relation ids.RelationID, page *Page, payload []byte) *TupleRef {
	id := ids.TupleID{Page: pageID, Slot: slot}
	tb.pointers[id] = &slotPointer{page: page, pageID: pageID, slot: slot, relation: relation}
	return &TupleRef{box: tb, id: id}
}

// Get returns a tuple's current bytes.
func (tb *TupleBox) Get(id ids.TupleID) ([]byte, error) {
	tb.mu.Lock()
	ptr, ok := tb.pointers[id]
	tb.mu.Unlock()
	if !ok {
		return nil, &ErrTupleNotFound{ID: id}
	}
	return ptr.page.GetSlot(id.Slot)
}

// Update replaces a tuple's bytes. If the new bytes are the same length
// as the old, the update happens in place and Update returns (nil, nil).
// Otherwise the tuple is relocated to a new slot (possibly a new page)
// and Update returns the new handle; Update itself drops one reference
// to the old tuple, so the caller's old TupleRef is not released again
// (spec.md §4.3).
func (tb *TupleBox) Update(relation ids.RelationID, id ids.TupleID, newBytes []byte) (*TupleRef, error) {
	tb.mu.Lock()
	ptr, ok := tb.pointers[id]
	tb.mu.Unlock()
	if !ok {
		return nil, &ErrTupleNotFound{ID: id}
	}

	current, err := ptr.page.GetSlot(id.Slot)
	if err != nil {
		return nil, err
	}
	if len(current) == len(newBytes) {
		mut, err := ptr.page.GetSlotMut(id.Slot)
		if err != nil {
			return nil, err
		}
		copy(mut, newBytes)
		return nil, nil
	}

	newRef, err := tb.Allocate(len(newBytes), relation, newBytes)
	if err != nil {
		return nil, err
	}
	tb.Dncount(id)
	return newRef, nil
}

// UpdateWith applies visitor to a tuple's current bytes and stores the
// result, following the same in-place-or-relocate rule as Update.
func (tb *TupleBox) UpdateWith(relation ids.RelationID, id ids.TupleID, visitor func([]byte) []byte) (*TupleRef, error) {
	current, err := tb.Get(id)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(current))
	copy(cp, current)
	return tb.Update(relation, id, visitor(cp))
}

// Upcount increments a tuple's refcount (TupleRef.Clone calls this).
func (tb *TupleBox) Upcount(id ids.TupleID) error {
	tb.mu.Lock()
	ptr, ok := tb.pointers[id]
	tb.mu.Unlock()
	if !ok {
		return &ErrTupleNotFound{ID: id}
	}
	return ptr.page.Upcount(id.Slot)
}

// Dncount decrements a tuple's refcount; on reaching zero the slot is
// freed and its space reported back to PageSpace. If the page becomes
// entirely empty, its buffer-pool block is released.
func (tb *TupleBox) Dncount(id ids.TupleID) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.dncount(id)
}

func (tb *TupleBox) dncount(id ids.TupleID) {
	ptr, ok := tb.pointers[id]
	if !ok {
		tb.log.Warn(fmt.Sprintf("double-free of tuple %s ignored", id))
		return
	}
	becameZero, found := ptr.page.Dncount(id.Slot)
	if !found {
		tb.log.Warn(fmt.Sprintf("double-free of tuple %s ignored", id))
		return
	}
	if !becameZero {
		return
	}

	freeBytes, _, isEmpty, err := ptr.page.RemoveSlot(id.Slot)
	if err != nil {
		tb.log.Warn(fmt.Sprintf("remove slot for tuple %s: %v", id, err))
		return
	}
	delete(tb.pointers, id) // free slot-pointer record on zero refcount

	ps := tb.pageSpaceFor(ptr.relation)
	if isEmpty {
		ps.Remove(ptr.pageID)
		entry := tb.pages[ptr.pageID]
		if entry != nil {
			if err := tb.pool.Free(entry.block); err != nil {
				tb.log.Warn(fmt.Sprintf("free page %d: %v", ptr.pageID, err))
			}
			delete(tb.pages, ptr.pageID)
		}
	} else {
		ps.Insert(ptr.pageID, freeBytes)
	}
}

// LoadPage restores a previously persisted page image into the buffer
// pool and rebuilds the tuple box's slot-pointer table and PageSpace
// entries from it, returning one TupleRef per live slot (spec.md §4.3,
// §6 recovery).
func (tb *TupleBox) LoadPage(relation ids.RelationID, pageID ids.PageID, block BlockID, image []byte) ([]*TupleRef, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	buf, _, err := tb.pool.Restore(block, image)
	if err != nil {
		return nil, fmt.Errorf("tuple box: restore page %d: %w", pageID, err)
	}
	page, err := OpenPage(buf)
	if err != nil {
		return nil, fmt.Errorf("tuple box: open restored page %d: %w", pageID, err)
	}
	tb.pages[pageID] = &pageEntry{page: page, block: block, relation: relation}
	if pageID >= tb.nextPageID {
		tb.nextPageID = pageID + 1
	}

	var refs []*TupleRef
	page.Load(func(slot ids.SlotID, _ []byte) {
		id := ids.TupleID{Page: pageID, Slot: slot}
		tb.pointers[id] = &slotPointer{page: page, pageID: pageID, slot: slot, relation: relation}
		refs = append(refs, &TupleRef{box: tb, id: id})
	})
	tb.pageSpaceFor(relation).Insert(pageID, page.AvailableContentBytes())
	return refs, nil
}

// UsedPages returns the page ids currently holding at least one live
// tuple, across every relation (spec.md §8 P3).
func (tb *TupleBox) UsedPages() []ids.PageID {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]ids.PageID, 0, len(tb.pages))
	for id := range tb.pages {
		out = append(out, id)
	}
	return out
}

// NumPages reports the total number of live pages.
func (tb *TupleBox) NumPages() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.pages)
}

// TupleRef is a strong, refcounted, relocation-stable handle to a tuple
// (spec.md §3, §4.3). Cloning increments the tuple's refcount; Release
// decrements it.
type TupleRef struct {
	box *TupleBox
	id  ids.TupleID
}

// ID returns the tuple's stable identity.
func (r *TupleRef) ID() ids.TupleID { return r.id }

// Bytes returns the tuple's current payload.
func (r *TupleRef) Bytes() ([]byte, error) { return r.box.Get(r.id) }

// Clone returns a new strong handle to the same tuple, incrementing its
// refcount.
func (r *TupleRef) Clone() (*TupleRef, error) {
	if err := r.box.Upcount(r.id); err != nil {
		return nil, err
	}
	return &TupleRef{box: r.box, id: r.id}, nil
}

// Release drops this handle, decrementing the tuple's refcount.
func (r *TupleRef) Release() {
	r.box.Dncount(r.id)
}
