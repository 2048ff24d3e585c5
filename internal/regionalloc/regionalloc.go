// Package regionalloc manages a fixed [start, end) address span on behalf of
// an external unit that consumes resources by absolute address. It hands out
// sub-ranges, tracks their occupancy, and reclaims them. Unlike a general
// heap it supports placement at a caller-chosen address (to reserve
// externally-owned sub-ranges) and allocation from either end of the span
// (to cluster resources with different lifetimes and reduce cross
// fragmentation between the two streams).
//
// The allocator never reads or writes the managed region itself; it only
// reasons about address arithmetic over it. It is not thread-safe.
package regionalloc

import (
	"github.com/google/btree"
)

// Granularity is the fixed alignment unit of the allocator. All allocation
// sizes are rounded up to a multiple of it.
const Granularity = 16

// maxAllocSize is the largest size request that rounds up to the granularity
// without wrapping the address space.
const maxAllocSize = ^uint64(0) - (Granularity - 1)

// Allocator owns an ordered, gapless partition of [start, end) into
// non-overlapping chunks tagged free, used or locked. Chunks live in a
// growable arena and are doubly linked in address order; a btree keyed by
// start address serves point lookups.
type Allocator struct {
	regionStart uint64
	regionEnd   uint64

	nodes    []chunkNode
	recycled []int32 // arena slots released by merges, reused before growing
	first    int32

	byStart *btree.BTreeG[chunkRef]
}

// New creates an allocator managing [start, end) as a single free chunk.
func New(start, end uint64) (*Allocator, error) {
	if end <= start {
		return nil, ErrInvalidRange
	}
	a := &Allocator{
		regionStart: start,
		regionEnd:   end,
		byStart:     btree.NewG[chunkRef](32, func(x, y chunkRef) bool { return x.start < y.start }),
	}
	a.first = a.newNode(chunkNode{start: start, end: end, prev: noChunk, next: noChunk, state: StateFree})
	return a, nil
}

// Close releases all chunk metadata. The allocator must not be used again
// afterwards. The managed region's contents are never touched.
func (a *Allocator) Close() {
	a.nodes = nil
	a.recycled = nil
	a.first = noChunk
	a.byStart.Clear(false)
}

// Bounds returns the managed region's [start, end) address span.
func (a *Allocator) Bounds() (start, end uint64) {
	return a.regionStart, a.regionEnd
}

func roundUp(size uint64) uint64 {
	const mask = Granularity - 1
	if size&mask != 0 {
		size += Granularity - size&mask
	}
	return size
}

// newNode places a node in the arena and indexes it by start address.
func (a *Allocator) newNode(n chunkNode) int32 {
	var idx int32
	if len(a.recycled) > 0 {
		idx = a.recycled[len(a.recycled)-1]
		a.recycled = a.recycled[:len(a.recycled)-1]
		a.nodes[idx] = n
	} else {
		a.nodes = append(a.nodes, n)
		idx = int32(len(a.nodes) - 1)
	}
	a.byStart.ReplaceOrInsert(chunkRef{start: n.start, idx: idx})
	return idx
}

// dropNode removes a node from the index and recycles its arena slot.
func (a *Allocator) dropNode(idx int32) {
	a.byStart.Delete(chunkRef{start: a.nodes[idx].start})
	a.recycled = append(a.recycled, idx)
}

// nodeAt returns the node containing addr. The start address of a chunk is
// part of it, the end address is not.
func (a *Allocator) nodeAt(addr uint64) int32 {
	found := noChunk
	a.byStart.DescendLessOrEqual(chunkRef{start: addr}, func(item chunkRef) bool {
		if addr < a.nodes[item.idx].end {
			found = item.idx
		}
		return false
	})
	return found
}

// nodeStartingAt returns the node whose start address is exactly addr.
func (a *Allocator) nodeStartingAt(addr uint64) int32 {
	item, ok := a.byStart.Get(chunkRef{start: addr})
	if !ok {
		return noChunk
	}
	return item.idx
}

// lastNode returns the highest-addressed chunk.
func (a *Allocator) lastNode() int32 {
	item, ok := a.byStart.Max()
	if !ok {
		return noChunk
	}
	return item.idx
}

// split resizes the node to size bytes and inserts a new node covering the
// remainder immediately after it. The new node inherits the old node's state
// and end address:
//
//	+-----------------+------+      +------+----------+------+
//	|      THIS       | NEXT |  ->  | THIS |   NEW    | NEXT |
//	+-----------------+------+      +------+----------+------+
//
// It returns the new node's index.
func (a *Allocator) split(idx int32, size uint64) int32 {
	cut := a.nodes[idx].start + size
	newIdx := a.newNode(chunkNode{
		start: cut,
		end:   a.nodes[idx].end,
		prev:  idx,
		next:  a.nodes[idx].next,
		state: a.nodes[idx].state,
	})
	// newNode may grow the arena slice, so only index it after the call.
	if next := a.nodes[newIdx].next; next != noChunk {
		a.nodes[next].prev = newIdx
	}
	a.nodes[idx].next = newIdx
	a.nodes[idx].end = cut
	return newIdx
}

// mergeIntoPrev absorbs the node into its predecessor and returns the
// predecessor's index. The caller guarantees the predecessor exists.
func (a *Allocator) mergeIntoPrev(idx int32) int32 {
	prev := a.nodes[idx].prev
	next := a.nodes[idx].next
	a.nodes[prev].end = a.nodes[idx].end
	a.nodes[prev].next = next
	if next != noChunk {
		a.nodes[next].prev = prev
	}
	a.dropNode(idx)
	return prev
}

// FindInRange reports the lowest address at which size bytes could be placed
// entirely inside one free chunk within [start, end). It does not allocate;
// callers use it to pre-compute a placement before committing related
// allocations at matching alignments. The scan stops as soon as a fitting
// free chunk would overrun end: chunks are address-ordered, so no later
// chunk can do better.
func (a *Allocator) FindInRange(start, end, size uint64) (uint64, error) {
	if size == 0 {
		return 0, ErrInvalidSize
	}
	idx := a.first
	if start > a.regionStart {
		idx = a.nodeAt(start)
	}
	for ; idx != noChunk; idx = a.nodes[idx].next {
		n := &a.nodes[idx]
		if n.state != StateFree {
			continue
		}
		// start may fall inside this chunk; only the part of the chunk
		// inside the caller's range counts.
		at := n.start
		if at < start {
			at = start
		}
		if n.end-at < size {
			continue
		}
		if end < at || size > end-at {
			return 0, ErrNoSpace
		}
		return at, nil
	}
	return 0, ErrNoSpace
}

// AllocAt allocates the exact range [addr, addr+size). The size is rounded up
// to the granularity and the whole rounded range must lie inside a single
// free chunk. That chunk is split at most twice: once at addr if addr is
// strictly inside it, and once at addr+size if that point is strictly inside
// it; the middle chunk is tagged used. State tags are committed only after
// all splits are staged, so a failed call never mutates the list.
func (a *Allocator) AllocAt(addr, size uint64) error {
	if size == 0 {
		return ErrInvalidSize
	}
	if size > maxAllocSize {
		return ErrRangeUnavailable
	}
	size = roundUp(size)

	idx := a.nodeAt(addr)
	if idx == noChunk {
		return ErrRangeUnavailable
	}
	// Compare by subtraction: addr+size may wrap for huge sizes.
	if n := &a.nodes[idx]; n.state != StateFree || size > n.end-addr {
		return ErrRangeUnavailable
	}

	// Carve a leading free remainder if addr is strictly inside the chunk.
	if a.nodes[idx].start < addr {
		idx = a.split(idx, addr-a.nodes[idx].start)
	}
	// Carve a trailing free remainder if the allocation stops short of the
	// chunk's end.
	if addr+size < a.nodes[idx].end {
		a.split(idx, size)
	}
	a.nodes[idx].state = StateUsed
	return nil
}

// AllocFromStart allocates size bytes (rounded up to the granularity) in the
// first free chunk large enough, scanning from the lowest address. An
// exact-size chunk is simply retagged; a larger one is split into a used
// head and a free tail. It returns the allocation's start address.
func (a *Allocator) AllocFromStart(size uint64) (uint64, error) {
	if size == 0 {
		return 0, ErrInvalidSize
	}
	if size > maxAllocSize {
		return 0, ErrNoSpace
	}
	size = roundUp(size)

	for idx := a.first; idx != noChunk; idx = a.nodes[idx].next {
		if a.nodes[idx].state != StateFree || a.nodes[idx].size() < size {
			continue
		}
		if a.nodes[idx].size() > size {
			a.split(idx, size)
		}
		a.nodes[idx].state = StateUsed
		return a.nodes[idx].start, nil
	}
	return 0, ErrNoSpace
}

// AllocFromEnd is the mirror of AllocFromStart: it scans from the highest
// address backward and places the allocation at the high end of the chunk it
// splits (free head, used tail). Two independent allocation streams, one per
// direction, can therefore grow toward each other from opposite ends of the
// region without interleaving their chunks.
func (a *Allocator) AllocFromEnd(size uint64) (uint64, error) {
	if size == 0 {
		return 0, ErrInvalidSize
	}
	if size > maxAllocSize {
		return 0, ErrNoSpace
	}
	size = roundUp(size)

	for idx := a.lastNode(); idx != noChunk; idx = a.nodes[idx].prev {
		if a.nodes[idx].state != StateFree || a.nodes[idx].size() < size {
			continue
		}
		if a.nodes[idx].size() == size {
			a.nodes[idx].state = StateUsed
			return a.nodes[idx].start, nil
		}
		newIdx := a.split(idx, a.nodes[idx].size()-size)
		a.nodes[newIdx].state = StateUsed
		return a.nodes[newIdx].start, nil
	}
	return 0, ErrNoSpace
}

// Free releases the chunk that starts exactly at addr. Only used chunks can
// be freed; freeing a free or locked chunk is an error and leaves the list
// untouched. The freed chunk is merged with a free predecessor and then a
// free successor, so no two adjacent chunks are ever both free.
func (a *Allocator) Free(addr uint64) error {
	idx := a.nodeStartingAt(addr)
	if idx == noChunk {
		return ErrNotFound
	}
	if a.nodes[idx].state != StateUsed {
		return ErrWrongState
	}
	a.nodes[idx].state = StateFree

	if prev := a.nodes[idx].prev; prev != noChunk && a.nodes[prev].state == StateFree {
		idx = a.mergeIntoPrev(idx)
	}
	if next := a.nodes[idx].next; next != noChunk && a.nodes[next].state == StateFree {
		a.mergeIntoPrev(next)
	}
	return nil
}

// Lock retags the used chunk starting at addr as locked. A locked chunk
// cannot be freed and never splits or merges, which is how callers reserve
// sub-ranges owned by something outside this allocator's bookkeeping.
func (a *Allocator) Lock(addr uint64) error {
	idx := a.nodeStartingAt(addr)
	if idx == noChunk {
		return ErrNotFound
	}
	if a.nodes[idx].state != StateUsed {
		return ErrWrongState
	}
	a.nodes[idx].state = StateLocked
	return nil
}

// Unlock retags the locked chunk starting at addr as used. The chunk still
// needs an explicit Free to release its range.
func (a *Allocator) Unlock(addr uint64) error {
	idx := a.nodeStartingAt(addr)
	if idx == noChunk {
		return ErrNotFound
	}
	if a.nodes[idx].state != StateLocked {
		return ErrWrongState
	}
	a.nodes[idx].state = StateUsed
	return nil
}

// MemInfo is a point-in-time accounting of the managed region in bytes.
// Locked chunks are excluded from Total and from the percentage base: a
// locked resource is permanently spoken for from the caller's budgeting
// perspective even though it still occupies address space.
type MemInfo struct {
	Free   uint64
	Used   uint64
	Locked uint64
	Total  uint64 // Free + Used
	// FreePercent is Free * 100 / Total, or 0 when Total is 0.
	FreePercent uint64
}

// Info walks the chunk list once, summing byte counts per state.
func (a *Allocator) Info() MemInfo {
	var info MemInfo
	for idx := a.first; idx != noChunk; idx = a.nodes[idx].next {
		size := a.nodes[idx].size()
		switch a.nodes[idx].state {
		case StateFree:
			info.Free += size
		case StateUsed:
			info.Used += size
		case StateLocked:
			info.Locked += size
		}
	}
	info.Total = info.Free + info.Used
	if info.Total > 0 {
		info.FreePercent = info.Free * 100 / info.Total
	}
	return info
}

// ChunkIter returns an iterator over the chunk layout in address order.
func (a *Allocator) ChunkIter() func(yield func(Chunk) bool) {
	return func(yield func(Chunk) bool) {
		for idx := a.first; idx != noChunk; idx = a.nodes[idx].next {
			n := a.nodes[idx]
			if !yield(Chunk{Start: n.start, End: n.end, State: n.state}) {
				return
			}
		}
	}
}
