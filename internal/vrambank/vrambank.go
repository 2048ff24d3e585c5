// Package vrambank tracks named hardware banks inside one allocator-managed
// region. A bank the hardware keeps for itself is taken out of circulation by
// allocating its whole span at its fixed address and locking it, the same
// pattern callers use to describe any externally-owned sub-range to the
// allocator.
package vrambank

import (
	"fmt"

	"github.com/garethgeorge/govram/internal/regionalloc"
	"github.com/google/btree"
)

// Bank is a named, fixed sub-span of the managed region.
type Bank struct {
	Name  string
	Start uint64 // inclusive
	End   uint64 // exclusive
}

func (b Bank) Size() uint64 {
	return b.End - b.Start
}

type bankEntry struct {
	Bank
	disabled bool
}

// Set couples one region allocator with a registry of named banks. Like the
// allocator it wraps, a Set is not thread-safe.
type Set struct {
	alloc  *regionalloc.Allocator
	byName *btree.BTreeG[bankEntry]
	byAddr *btree.BTreeG[Bank]
}

// NewSet creates a bank set whose allocator manages [start, end).
func NewSet(start, end uint64) (*Set, error) {
	alloc, err := regionalloc.New(start, end)
	if err != nil {
		return nil, err
	}
	return &Set{
		alloc:  alloc,
		byName: btree.NewG[bankEntry](32, func(a, b bankEntry) bool { return a.Name < b.Name }),
		byAddr: btree.NewG[Bank](32, func(a, b Bank) bool { return a.Start < b.Start }),
	}, nil
}

// Allocator returns the region allocator shared by all banks in the set.
// Resource loaders allocate and free through it directly.
func (s *Set) Allocator() *regionalloc.Allocator {
	return s.alloc
}

// AddBank registers a named sub-span. Banks may not overlap each other or
// extend outside the managed region.
func (s *Set) AddBank(name string, start, end uint64) error {
	regStart, regEnd := s.alloc.Bounds()
	if end <= start || start < regStart || end > regEnd {
		return fmt.Errorf("bank %q [%d, %d) is empty or outside the region [%d, %d)", name, start, end, regStart, regEnd)
	}
	if _, ok := s.byName.Get(bankEntry{Bank: Bank{Name: name}}); ok {
		return fmt.Errorf("bank %q is already registered", name)
	}
	var overlap bool
	s.byAddr.DescendLessOrEqual(Bank{Start: end - 1}, func(item Bank) bool {
		overlap = item.End > start
		return false
	})
	if overlap {
		return fmt.Errorf("bank %q [%d, %d) overlaps a registered bank", name, start, end)
	}
	b := Bank{Name: name, Start: start, End: end}
	s.byName.ReplaceOrInsert(bankEntry{Bank: b})
	s.byAddr.ReplaceOrInsert(b)
	return nil
}

// Disable takes the whole bank out of circulation by reserving its span at
// its fixed address and locking it. It fails if anything is currently
// allocated inside the bank. Disabling a disabled bank is a no-op.
func (s *Set) Disable(name string) error {
	entry, ok := s.byName.Get(bankEntry{Bank: Bank{Name: name}})
	if !ok {
		return fmt.Errorf("bank %q is not registered", name)
	}
	if entry.disabled {
		return nil
	}
	if err := s.alloc.AllocAt(entry.Start, entry.Size()); err != nil {
		return fmt.Errorf("reserving bank %q: %w", name, err)
	}
	if err := s.alloc.Lock(entry.Start); err != nil {
		// The reservation itself succeeded, release it again.
		if freeErr := s.alloc.Free(entry.Start); freeErr != nil {
			return fmt.Errorf("locking bank %q: %w (releasing reservation: %v)", name, err, freeErr)
		}
		return fmt.Errorf("locking bank %q: %w", name, err)
	}
	entry.disabled = true
	s.byName.ReplaceOrInsert(entry)
	return nil
}

// Enable returns a disabled bank's span to the free pool. Enabling an
// enabled bank is a no-op.
func (s *Set) Enable(name string) error {
	entry, ok := s.byName.Get(bankEntry{Bank: Bank{Name: name}})
	if !ok {
		return fmt.Errorf("bank %q is not registered", name)
	}
	if !entry.disabled {
		return nil
	}
	if err := s.alloc.Unlock(entry.Start); err != nil {
		return fmt.Errorf("unlocking bank %q: %w", name, err)
	}
	if err := s.alloc.Free(entry.Start); err != nil {
		return fmt.Errorf("releasing bank %q: %w", name, err)
	}
	entry.disabled = false
	s.byName.ReplaceOrInsert(entry)
	return nil
}

// BankOf returns the bank containing addr.
func (s *Set) BankOf(addr uint64) (Bank, bool) {
	var found Bank
	var ok bool
	s.byAddr.DescendLessOrEqual(Bank{Start: addr}, func(item Bank) bool {
		if addr < item.End {
			found = item
			ok = true
		}
		return false
	})
	return found, ok
}

// BankIter returns an iterator over banks in address order, together with
// whether each bank is currently disabled.
func (s *Set) BankIter() func(yield func(Bank, bool) bool) {
	return func(yield func(Bank, bool) bool) {
		s.byAddr.Ascend(func(item Bank) bool {
			entry, _ := s.byName.Get(bankEntry{Bank: Bank{Name: item.Name}})
			return yield(item, entry.disabled)
		})
	}
}
