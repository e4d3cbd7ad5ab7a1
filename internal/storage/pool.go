// Package storage implements the buffer pool, slotted page, and tuple
// box described in spec.md §4.1-§4.3: a size-classed virtual-address
// arena handing out stable page buffers, a fixed-capacity slotted page
// layout, and the refcounted tuple allocator built on top of it.
package storage

import (
	"fmt"
	"sync"
)

// BlockID is the handle the buffer pool hands back from Alloc. It
// encodes the size class plus the slot within that class, exactly as
// spec.md §4.1 describes ("a block_id encodes class + slot").
type BlockID struct {
	Class uint8
	Slot  uint32
}

func (b BlockID) String() string { return fmt.Sprintf("%d/%d", b.Class, b.Slot) }

// ErrInsufficientRoom is returned when allocating the request's size
// class would exceed the pool's total byte budget (spec.md §4.1, §7).
type ErrInsufficientRoom struct {
	Desired   int
	Available int
}

func (e *ErrInsufficientRoom) Error() string {
	return fmt.Sprintf("buffer pool: insufficient room: desired %d bytes, available %d bytes", e.Desired, e.Available)
}

// ErrCouldNotAccess is returned by Resolve/Restore for an unknown block.
type ErrCouldNotAccess struct {
	Block BlockID
}

func (e *ErrCouldNotAccess) Error() string {
	return fmt.Sprintf("buffer pool: could not access block %s", e.Block)
}

type sizeClassArena struct {
	size  int      // bytes per page buffer in this class
	pages [][]byte // page buffers, indexed by slot; nil until allocated
	free  []uint32 // slots available for reuse, LIFO
}

// BufferPool is a size-classed, virtual-address-backed page allocator.
// Requested sizes round up to the next power of two at or above
// PageSizeFloor; each class owns its own arena of page-sized buffers.
// Because Go's allocator never moves live slices, addresses returned by
// Alloc/Resolve/Restore are stable for the lifetime of the block, which
// is the contract TupleRef's slot-pointer indirection depends on
// (spec.md §4.3, §9).
type BufferPool struct {
	mu         sync.Mutex
	floor      int
	maxBytes   int64
	usedBytes  int64
	classes    map[int]*sizeClassArena // keyed by class byte size
	classSizes []int                   // sorted ascending
}

// NewBufferPool creates a pool with the given page-size floor and total
// virtual size budget (spec.md §6 buffer_pool_bytes / page_size_floor).
func NewBufferPool(floor int, maxBytes int64) *BufferPool {
	if floor <= 0 {
		floor = 32 << 10
	}
	return &BufferPool{
		floor:    floor,
		maxBytes: maxBytes,
		classes:  make(map[int]*sizeClassArena),
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (p *BufferPool) classFor(requested int) int {
	size := nextPowerOfTwo(requested)
	if size < p.floor {
		size = p.floor
	}
	return size
}

// Alloc returns a page-sized buffer able to hold at least requestedBytes.
func (p *BufferPool) Alloc(requestedBytes int) (BlockID, []byte, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	classSize := p.classFor(requestedBytes)
	if p.maxBytes > 0 && p.usedBytes+int64(classSize) > p.maxBytes {
		return BlockID{}, nil, 0, &ErrInsufficientRoom{Desired: requestedBytes, Available: int(p.maxBytes - p.usedBytes)}
	}

	arena := p.classes[classSize]
	if arena == nil {
		arena = &sizeClassArena{size: classSize}
		p.classes[classSize] = arena
		p.classSizes = insertSorted(p.classSizes, classSize)
	}

	var slot uint32
	if n := len(arena.free); n > 0 {
		slot = arena.free[n-1]
		arena.free = arena.free[:n-1]
		buf := arena.pages[slot]
		for i := range buf {
			buf[i] = 0
		}
	} else {
		slot = uint32(len(arena.pages))
		arena.pages = append(arena.pages, make([]byte, classSize))
	}

	p.usedBytes += int64(classSize)
	classIdx, _ := classIndex(p.classSizes, classSize)
	return BlockID{Class: uint8(classIdx), Slot: slot}, arena.pages[slot], classSize, nil
}

func insertSorted(sizes []int, v int) []int {
	for _, s := range sizes {
		if s == v {
			return sizes
		}
	}
	sizes = append(sizes, v)
	for i := len(sizes) - 1; i > 0 && sizes[i] < sizes[i-1]; i-- {
		sizes[i], sizes[i-1] = sizes[i-1], sizes[i]
	}
	return sizes
}

func classIndex(sizes []int, v int) (int, bool) {
	for i, s := range sizes {
		if s == v {
			return i, true
		}
	}
	return -1, false
}

func (p *BufferPool) arenaForClass(class uint8) (*sizeClassArena, bool) {
	if int(class) >= len(p.classSizes) {
		return nil, false
	}
	return p.classes[p.classSizes[class]], true
}

// Resolve returns the address and size of a previously allocated block.
func (p *BufferPool) Resolve(id BlockID) ([]byte, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	arena, ok := p.arenaForClass(id.Class)
	if !ok || int(id.Slot) >= len(arena.pages) {
		return nil, 0, &ErrCouldNotAccess{Block: id}
	}
	return arena.pages[id.Slot], arena.size, nil
}

// Restore re-attaches a block that was previously persisted, allocating
// the backing buffer if the pool has not seen this block since process
// start (used during recovery, spec.md §6).
func (p *BufferPool) Restore(id BlockID, image []byte) ([]byte, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(id.Class) >= len(p.classSizes) {
		// Recovery is restoring a class this pool hasn't seen yet; create it.
		classSize := nextPowerOfTwo(len(image))
		if classSize < p.floor {
			classSize = p.floor
		}
		p.classes[classSize] = &sizeClassArena{size: classSize}
		p.classSizes = insertSorted(p.classSizes, classSize)
	}
	arena, _ := p.arenaForClass(id.Class)
	for uint32(len(arena.pages)) <= id.Slot {
		arena.pages = append(arena.pages, make([]byte, arena.size))
	}
	buf := arena.pages[id.Slot]
	copy(buf, image)
	p.usedBytes += int64(arena.size)
	return buf, arena.size, nil
}

// Free releases a block back to its size class's free list.
func (p *BufferPool) Free(id BlockID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	arena, ok := p.arenaForClass(id.Class)
	if !ok || int(id.Slot) >= len(arena.pages) {
		return &ErrCouldNotAccess{Block: id}
	}
	arena.free = append(arena.free, id.Slot)
	p.usedBytes -= int64(arena.size)
	return nil
}

// UsedBytes reports the bytes currently handed out (for obsmetrics).
func (p *BufferPool) UsedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedBytes
}
