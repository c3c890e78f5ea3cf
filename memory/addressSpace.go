package memory

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrAddrSpaceOccupied = errors.New("address space occupied")
	ErrAddrSpaceRange    = errors.New("address outside of address space")
)

// AddressSpace is a named range [Start, Start+Size) holding non-overlapping
// sub-ranges. It carries no backing memory; callers use it for bookkeeping
// such as rejecting overlapping ELF segments.
type AddressSpace struct {
	Name      string
	Start     uint64
	Size      uint64
	Addresses []*AddressSpace
}

func NewAddressSpace(name string, start, size uint64) *AddressSpace {
	return &AddressSpace{
		Name:  name,
		Start: start,
		Size:  size,
	}
}

// End returns the first address past the range. A range that reaches the top
// of the 64-bit space saturates.
func (a *AddressSpace) End() uint64 {
	end := a.Start + a.Size
	if end < a.Start {
		return ^uint64(0)
	}

	return end
}

// AddAddress records addr as occupied, keeping Addresses sorted by Start.
func (a *AddressSpace) AddAddress(addr *AddressSpace) error {
	if !a.InRange(addr) {
		return fmt.Errorf("%s [%#x, %#x): %w", addr.Name, addr.Start, addr.End(), ErrAddrSpaceRange)
	}

	if other := a.Occupant(addr); other != nil {
		return fmt.Errorf("%s [%#x, %#x) overlaps %s [%#x, %#x): %w",
			addr.Name, addr.Start, addr.End(), other.Name, other.Start, other.End(), ErrAddrSpaceOccupied)
	}

	i := sort.Search(len(a.Addresses), func(i int) bool { return a.Addresses[i].Start > addr.Start })
	a.Addresses = append(a.Addresses, nil)
	copy(a.Addresses[i+1:], a.Addresses[i:])
	a.Addresses[i] = addr

	return nil
}

// InRange reports whether addr lies completely inside a.
func (a *AddressSpace) InRange(addr *AddressSpace) bool {
	return addr.Start >= a.Start && addr.End() <= a.End()
}

// Overlaps reports whether the two ranges share at least one address.
func (a *AddressSpace) Overlaps(addr *AddressSpace) bool {
	return a.Start < addr.End() && addr.Start < a.End()
}

// Occupant returns the recorded range overlapping ad, if any.
func (a *AddressSpace) Occupant(ad *AddressSpace) *AddressSpace {
	for _, addr := range a.Addresses {
		if addr.Overlaps(ad) {
			return addr
		}
	}

	return nil
}
