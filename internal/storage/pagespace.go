package storage

import (
	"sort"

	"github.com/cuemby/moo/internal/ids"
)

// pageSpaceEntry pairs a page with its last-known free-byte count.
type pageSpaceEntry struct {
	freeBytes uint32
	page      ids.PageID
}

// PageSpace is the per-relation best-fit index of pages by remaining
// free bytes (spec.md §3 PageSpace, §4.3 placement policy). It is kept
// sorted ascending by free bytes so the smallest-sufficient page is
// chosen first, minimising fragmentation.
type PageSpace struct {
	entries []pageSpaceEntry
}

// NewPageSpace returns an empty page space.
func NewPageSpace() *PageSpace {
	return &PageSpace{}
}

// Insert records a page's free-byte count, or updates it if already
// tracked.
func (s *PageSpace) Insert(page ids.PageID, freeBytes uint32) {
	for i, e := range s.entries {
		if e.page == page {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].freeBytes >= freeBytes })
	s.entries = append(s.entries, pageSpaceEntry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = pageSpaceEntry{freeBytes: freeBytes, page: page}
}

// Remove drops a page from the index entirely (used when a page is
// released back to the buffer pool because it became empty).
func (s *PageSpace) Remove(page ids.PageID) {
	for i, e := range s.entries {
		if e.page == page {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// BestFit returns the smallest page with at least size free bytes, if
// any is tracked.
func (s *PageSpace) BestFit(size uint32) (ids.PageID, bool) {
	idx := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].freeBytes >= size })
	if idx >= len(s.entries) {
		return 0, false
	}
	return s.entries[idx].page, true
}

// Len reports how many pages this relation currently has.
func (s *PageSpace) Len() int { return len(s.entries) }

// Pages returns the tracked page ids, for used_pages()/num_pages().
func (s *PageSpace) Pages() []ids.PageID {
	out := make([]ids.PageID, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.page
	}
	return out
}
