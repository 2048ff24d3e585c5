package regionalloc

import "fmt"

// Validate checks the structural invariants of the chunk list: the chunks
// form a total, gapless, non-overlapping partition of the region, no two
// adjacent chunks are both free, prev/next links are symmetric, and the
// start-address index agrees with the list. It is intended for tests and for
// vetting state reconstructed from a dump.
func (a *Allocator) Validate() error {
	if a.first == noChunk {
		return fmt.Errorf("allocator has no chunks")
	}
	if got := a.nodes[a.first].start; got != a.regionStart {
		return fmt.Errorf("first chunk starts at %d, want region start %d", got, a.regionStart)
	}

	count := 0
	prev := noChunk
	last := a.first
	for idx := a.first; idx != noChunk; idx = a.nodes[idx].next {
		n := a.nodes[idx]
		count++
		if n.end <= n.start {
			return fmt.Errorf("chunk [%d, %d) is empty or inverted", n.start, n.end)
		}
		if n.prev != prev {
			return fmt.Errorf("chunk at %d has prev link %d, want %d", n.start, n.prev, prev)
		}
		if prev != noChunk {
			if a.nodes[prev].end != n.start {
				return fmt.Errorf("gap or overlap between chunk ending at %d and chunk starting at %d", a.nodes[prev].end, n.start)
			}
			if a.nodes[prev].state == StateFree && n.state == StateFree {
				return fmt.Errorf("adjacent free chunks at %d and %d", a.nodes[prev].start, n.start)
			}
		}
		if ref, ok := a.byStart.Get(chunkRef{start: n.start}); !ok || ref.idx != idx {
			return fmt.Errorf("start-address index out of sync for chunk at %d", n.start)
		}
		prev = idx
		last = idx
	}
	if got := a.nodes[last].end; got != a.regionEnd {
		return fmt.Errorf("last chunk ends at %d, want region end %d", got, a.regionEnd)
	}
	if a.byStart.Len() != count {
		return fmt.Errorf("start-address index has %d entries, list has %d chunks", a.byStart.Len(), count)
	}
	return nil
}
