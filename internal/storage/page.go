package storage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cuemby/moo/internal/ids"
)

// Page-image layout (spec.md §4.2, §6 "each page's first bytes include a
// magic, a relation id, and the slot-index header"):
//
//	offset 0  : magic        uint32
//	offset 4  : relation id   uint32
//	offset 8  : slot count    uint32
//	offset 12 : tail offset   uint32  (next fresh payload write position)
//	offset 16 : version byte + 7 reserved bytes
//	offset 24 : slot index, slotEntrySize bytes per slot, growing forward
//	...       : payload heap, growing backward from the buffer's end
//
// Each slot-index entry:
//
//	offset 0 : payload offset  uint32
//	offset 4 : payload length  uint32
//	offset 8 : refcount        uint16 (saturating)
//	offset 10: flags           uint16 (bit0 = tombstone)
const (
	pageMagic     uint32 = 0x4d4f4f31 // "MOO1"
	headerSize           = 24
	slotEntrySize        = 12
	flagTombstone uint16 = 1 << 0
	maxRefcount   uint16 = 0xffff
)

// ErrSlotNotFound is returned for an unknown or already-removed slot.
type ErrSlotNotFound struct {
	Slot ids.SlotID
}

func (e *ErrSlotNotFound) Error() string { return fmt.Sprintf("page: slot %d not found", e.Slot) }

// ErrPageFull is returned when a page cannot host a new allocation of
// the requested size.
type ErrPageFull struct {
	Requested int
	Available int
}

func (e *ErrPageFull) Error() string {
	return fmt.Sprintf("page: full: requested %d bytes, %d available", e.Requested, e.Available)
}

// Page is a fixed-capacity slotted page. All mutating operations are
// taken under the write lock; read-only accessors use the read lock
// (spec.md §4.2 concurrency contract).
type Page struct {
	mu  sync.RWMutex
	buf []byte
}

// NewPage initialises a fresh page image inside buf, which must have
// been obtained from a BufferPool.
func NewPage(buf []byte, relation ids.RelationID) *Page {
	binary.LittleEndian.PutUint32(buf[0:], pageMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(relation))
	binary.LittleEndian.PutUint32(buf[8:], 0)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(buf)))
	return &Page{buf: buf}
}

// OpenPage wraps an already-initialised page image (used by Load /
// recovery, where the buffer pool has just restored bytes from the
// backing file).
func OpenPage(buf []byte) (*Page, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("page: buffer too small for header")
	}
	if binary.LittleEndian.Uint32(buf[0:]) != pageMagic {
		return nil, fmt.Errorf("page: bad magic")
	}
	return &Page{buf: buf}, nil
}

func (p *Page) relationID() ids.RelationID {
	return ids.RelationID(binary.LittleEndian.Uint32(p.buf[4:]))
}

// RelationID reports which relation this page belongs to (spec.md §4.3:
// "Tuples from distinct relations never share a page").
func (p *Page) RelationID() ids.RelationID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.relationID()
}

func (p *Page) slotCount() uint32    { return binary.LittleEndian.Uint32(p.buf[8:]) }
func (p *Page) setSlotCount(n uint32) { binary.LittleEndian.PutUint32(p.buf[8:], n) }
func (p *Page) tailOffset() uint32    { return binary.LittleEndian.Uint32(p.buf[12:]) }
func (p *Page) setTailOffset(n uint32) { binary.LittleEndian.PutUint32(p.buf[12:], n) }

func (p *Page) slotEntryOffset(slot ids.SlotID) int {
	return headerSize + int(slot)*slotEntrySize
}

func (p *Page) readSlotEntry(slot ids.SlotID) (offset, length uint32, refcount uint16, flags uint16, ok bool) {
	if uint32(slot) >= p.slotCount() {
		return 0, 0, 0, 0, false
	}
	o := p.slotEntryOffset(slot)
	offset = binary.LittleEndian.Uint32(p.buf[o:])
	length = binary.LittleEndian.Uint32(p.buf[o+4:])
	refcount = binary.LittleEndian.Uint16(p.buf[o+8:])
	flags = binary.LittleEndian.Uint16(p.buf[o+10:])
	return offset, length, refcount, flags, true
}

func (p *Page) writeSlotEntry(slot ids.SlotID, offset, length uint32, refcount, flags uint16) {
	o := p.slotEntryOffset(slot)
	binary.LittleEndian.PutUint32(p.buf[o:], offset)
	binary.LittleEndian.PutUint32(p.buf[o+4:], length)
	binary.LittleEndian.PutUint16(p.buf[o+8:], refcount)
	binary.LittleEndian.PutUint16(p.buf[o+10:], flags)
}

// indexBytesUsed is the slot-index overhead for n slots.
func indexBytesUsed(n uint32) uint32 { return n * slotEntrySize }

func (p *Page) freeBytesLocked() uint32 {
	cap := uint32(len(p.buf))
	used := uint32(headerSize) + indexBytesUsed(p.slotCount())
	n := p.slotCount()
	for i := ids.SlotID(0); uint32(i) < n; i++ {
		_, length, _, flags, _ := p.readSlotEntry(i)
		if flags&flagTombstone == 0 {
			used += length
		}
	}
	if used > cap {
		return 0
	}
	return cap - used
}

// AvailableContentBytes is the read-locked accessor for free space
// (spec.md §4.2, I2).
func (p *Page) AvailableContentBytes() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freeBytesLocked()
}

// Allocate reserves a new slot of the given size, first-fitting among
// tombstoned slots of sufficient length, else appending to the tail
// heap and a fresh index entry (spec.md §4.2 allocation policy).
func (p *Page) Allocate(size uint32, initial []byte) (ids.SlotID, uint32, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.slotCount()
	for i := ids.SlotID(0); uint32(i) < n; i++ {
		offset, length, _, flags, _ := p.readSlotEntry(i)
		if flags&flagTombstone != 0 && length >= size {
			p.writeSlotEntry(i, offset, size, 1, 0)
			payload := p.buf[offset : offset+size]
			if initial != nil {
				copy(payload, initial)
			} else {
				for j := range payload {
					payload[j] = 0
				}
			}
			return i, p.freeBytesLocked(), payload, nil
		}
	}

	// Append: new index entry plus a fresh tail allocation.
	newIndexEnd := uint32(headerSize) + indexBytesUsed(n+1)
	tail := p.tailOffset()
	if newIndexEnd+size > tail {
		return 0, 0, nil, &ErrPageFull{Requested: int(size), Available: int(p.freeBytesLocked())}
	}
	newTail := tail - size
	p.writeSlotEntry(ids.SlotID(n), newTail, size, 1, 0)
	p.setSlotCount(n + 1)
	p.setTailOffset(newTail)

	payload := p.buf[newTail : newTail+size]
	if initial != nil {
		copy(payload, initial)
	} else {
		for j := range payload {
			payload[j] = 0
		}
	}
	return ids.SlotID(n), p.freeBytesLocked(), payload, nil
}

// RemoveSlot tombstones a slot, returning the new free-byte count and
// whether the page is now entirely empty of live slots (spec.md §4.2,
// §4.3 "if the page becomes entirely empty, the buffer block is
// released").
func (p *Page) RemoveSlot(slot ids.SlotID) (uint32, uint32, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	offset, length, _, flags, ok := p.readSlotEntry(slot)
	if !ok || flags&flagTombstone != 0 {
		return 0, 0, false, &ErrSlotNotFound{Slot: slot}
	}
	p.writeSlotEntry(slot, offset, length, 0, flags|flagTombstone)

	isEmpty := true
	n := p.slotCount()
	for i := ids.SlotID(0); uint32(i) < n; i++ {
		_, _, _, f, _ := p.readSlotEntry(i)
		if f&flagTombstone == 0 {
			isEmpty = false
			break
		}
	}
	return p.freeBytesLocked(), length, isEmpty, nil
}

// GetSlot returns the payload bytes for a live slot under the read lock.
func (p *Page) GetSlot(slot ids.SlotID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	offset, length, _, flags, ok := p.readSlotEntry(slot)
	if !ok || flags&flagTombstone != 0 {
		return nil, &ErrSlotNotFound{Slot: slot}
	}
	return p.buf[offset : offset+length], nil
}

// GetSlotMut returns the payload bytes for a live slot under the write
// lock, for in-place mutation.
func (p *Page) GetSlotMut(slot ids.SlotID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset, length, _, flags, ok := p.readSlotEntry(slot)
	if !ok || flags&flagTombstone != 0 {
		return nil, &ErrSlotNotFound{Slot: slot}
	}
	return p.buf[offset : offset+length], nil
}

// Upcount increments a slot's refcount, saturating at maxRefcount.
func (p *Page) Upcount(slot ids.SlotID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset, length, refcount, flags, ok := p.readSlotEntry(slot)
	if !ok || flags&flagTombstone != 0 {
		return &ErrSlotNotFound{Slot: slot}
	}
	if refcount < maxRefcount {
		refcount++
	}
	p.writeSlotEntry(slot, offset, length, refcount, flags)
	return nil
}

// Dncount decrements a slot's refcount, reporting whether it reached
// zero. A decrement below zero (double-free) is reported via ok=false
// rather than panicking (spec.md §4.3 "a double-free is reported as a
// non-fatal warning").
func (p *Page) Dncount(slot ids.SlotID) (becameZero bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset, length, refcount, flags, found := p.readSlotEntry(slot)
	if !found || flags&flagTombstone != 0 {
		return false, false
	}
	if refcount == 0 {
		return false, false
	}
	refcount--
	p.writeSlotEntry(slot, offset, length, refcount, flags)
	return refcount == 0, true
}

// Refcount reports a slot's current refcount (test/debug helper).
func (p *Page) Refcount(slot ids.SlotID) (uint16, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, _, refcount, flags, ok := p.readSlotEntry(slot)
	if !ok || flags&flagTombstone != 0 {
		return 0, false
	}
	return refcount, true
}

// Load rebuilds the caller's view of live slots from a raw page image,
// invoking visit once per live slot (spec.md §4.2 load(visit), used by
// TupleBox.load_page during recovery).
func (p *Page) Load(visit func(slot ids.SlotID, payload []byte)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := p.slotCount()
	for i := ids.SlotID(0); uint32(i) < n; i++ {
		offset, length, _, flags, _ := p.readSlotEntry(i)
		if flags&flagTombstone != 0 {
			continue
		}
		visit(i, p.buf[offset:offset+length])
	}
}

// Image returns the raw backing bytes, for persistence.
func (p *Page) Image() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.buf
}

// Capacity is the total size of the page buffer.
func (p *Page) Capacity() int {
	return len(p.buf)
}
