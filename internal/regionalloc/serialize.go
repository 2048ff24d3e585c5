package regionalloc

import (
	"bufio"
	"fmt"
	"io"

	"github.com/garethgeorge/govram/internal/binencutil"
)

const (
	dumpVersion = 1

	defaultIOBufferSize = 64 * 1024
)

// Serialize writes the chunk layout to w: the format version, the region
// bounds, the chunk count, and one (start, end, state) triple per chunk in
// address order.
func (a *Allocator) Serialize(writer io.Writer) error {
	bufioWriter := bufio.NewWriterSize(writer, defaultIOBufferSize)

	count := uint64(0)
	for idx := a.first; idx != noChunk; idx = a.nodes[idx].next {
		count++
	}
	header := [4]uint64{dumpVersion, a.regionStart, a.regionEnd, count}
	if err := binencutil.WriteUint64s(bufioWriter, header[:]); err != nil {
		return fmt.Errorf("writing dump header: %w", err)
	}
	for idx := a.first; idx != noChunk; idx = a.nodes[idx].next {
		n := a.nodes[idx]
		vals := [3]uint64{n.start, n.end, uint64(n.state)}
		if err := binencutil.WriteUint64s(bufioWriter, vals[:]); err != nil {
			return fmt.Errorf("writing chunk at %d: %w", n.start, err)
		}
	}
	return bufioWriter.Flush()
}

// Deserialize reads a chunk layout produced by Serialize and reconstructs an
// allocator from it, verifying that the chunks form a legal partition of the
// recorded region.
func Deserialize(reader io.Reader) (*Allocator, error) {
	r := bufio.NewReaderSize(reader, defaultIOBufferSize)

	header, err := binencutil.ReadUint64s(r, 4)
	if err != nil {
		return nil, fmt.Errorf("reading dump header: %w", err)
	}
	if header[0] != dumpVersion {
		return nil, fmt.Errorf("unsupported dump version %d", header[0])
	}
	regionStart, regionEnd, count := header[1], header[2], header[3]
	a, err := New(regionStart, regionEnd)
	if err != nil {
		return nil, fmt.Errorf("invalid region bounds in dump: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("dump contains no chunks")
	}

	// Rebuild the list in place: the initial region-spanning chunk is resized
	// to each recorded chunk in turn, splitting off the remainder.
	idx := a.first
	expectStart := regionStart
	for i := uint64(0); i < count; i++ {
		vals, err := binencutil.ReadUint64s(r, 3)
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d: %w", i, err)
		}
		start, end := vals[0], vals[1]
		if start != expectStart || end <= start || end > regionEnd {
			return nil, fmt.Errorf("chunk %d [%d, %d) does not continue the partition at %d", i, start, end, expectStart)
		}
		if vals[2] > uint64(StateLocked) {
			return nil, fmt.Errorf("chunk %d has invalid state %d", i, vals[2])
		}
		state := State(vals[2])
		last := i == count-1
		if last != (end == regionEnd) {
			return nil, fmt.Errorf("chunk %d [%d, %d) does not terminate the partition at %d", i, start, end, regionEnd)
		}
		if !last {
			a.split(idx, end-start)
		}
		a.nodes[idx].state = state
		idx = a.nodes[idx].next
		expectStart = end
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("dump is not a legal chunk layout: %w", err)
	}
	return a, nil
}
