package regionalloc

import "fmt"

// State is the occupancy tag of a chunk.
type State uint8

const (
	StateFree State = iota
	StateUsed
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateUsed:
		return "used"
	case StateLocked:
		return "locked"
	default:
		return "invalid"
	}
}

// Chunk is a read-only view of one maximal contiguous sub-range of the
// managed region sharing a single state.
type Chunk struct {
	Start uint64 // inclusive
	End   uint64 // exclusive
	State State
}

func (c Chunk) Size() uint64 {
	return c.End - c.Start
}

func (c Chunk) String() string {
	return fmt.Sprintf("[%d, %d) %s", c.Start, c.End, c.State)
}

// noChunk marks an absent prev/next link or a failed lookup.
const noChunk int32 = -1

// chunkNode is an arena entry. Nodes are referenced by their index into the
// arena slice; prev/next link them into a doubly linked list in address
// order.
type chunkNode struct {
	start uint64
	end   uint64
	prev  int32
	next  int32
	state State
}

func (n *chunkNode) size() uint64 {
	return n.end - n.start
}

// chunkRef is a start-address index entry pointing into the arena.
type chunkRef struct {
	start uint64
	idx   int32
}
