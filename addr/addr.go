// Package addr provides distinct physical and virtual address types so that
// frame arithmetic never mixes the two address spaces or unaligned values.
package addr

import (
	"errors"
	"fmt"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift // 4 KiB

	// HugePageSize is the size mapped by a level-2 (page directory) leaf.
	HugePageSize = 1 << 21
)

var (
	ErrUnaligned    = errors.New("address is not page aligned")
	ErrNonCanonical = errors.New("virtual address is not canonical")
)

// PhysAddr is a guest physical address.
type PhysAddr uint64

// VirtAddr is a virtual address as seen through a page-table hierarchy.
type VirtAddr uint64

// Frame is a physical frame number.
type Frame uint64

// Page is a virtual page number.
type Page uint64

func (p PhysAddr) String() string { return fmt.Sprintf("phys:%#x", uint64(p)) }

func (v VirtAddr) String() string { return fmt.Sprintf("virt:%#x", uint64(v)) }

// Aligned reports whether p is on a page boundary.
func (p PhysAddr) Aligned() bool { return p&(PageSize-1) == 0 }

// Aligned reports whether v is on a page boundary.
func (v VirtAddr) Aligned() bool { return v&(PageSize-1) == 0 }

// AlignDown rounds p down to a page boundary.
func (p PhysAddr) AlignDown() PhysAddr { return p &^ (PageSize - 1) }

// AlignUp rounds p up to a page boundary.
func (p PhysAddr) AlignUp() PhysAddr { return (p + PageSize - 1) &^ (PageSize - 1) }

// AlignDown rounds v down to a page boundary.
func (v VirtAddr) AlignDown() VirtAddr { return v &^ (PageSize - 1) }

// AlignUp rounds v up to a page boundary.
func (v VirtAddr) AlignUp() VirtAddr { return (v + PageSize - 1) &^ (PageSize - 1) }

// Canonical reports whether bits 63..47 of v are all equal, as required by
// 4-level x86-64 paging.
func (v VirtAddr) Canonical() bool {
	top := uint64(v) >> 47

	return top == 0 || top == 0x1ffff
}

// CheckRange validates that [start, start+size) is non-empty and lies within
// one canonical half of the address space.
func CheckRange(start VirtAddr, size uint64) error {
	if size == 0 {
		return fmt.Errorf("empty range at %v: %w", start, ErrNonCanonical)
	}

	last := start + VirtAddr(size-1)

	if last < start || !start.Canonical() || !last.Canonical() || uint64(start)>>47 != uint64(last)>>47 {
		return fmt.Errorf("range %v..%v: %w", start, last, ErrNonCanonical)
	}

	return nil
}

// FrameOf validates that p is page aligned and returns its frame.
func FrameOf(p PhysAddr) (Frame, error) {
	if !p.Aligned() {
		return 0, fmt.Errorf("%v: %w", p, ErrUnaligned)
	}

	return Frame(p >> PageShift), nil
}

// ContainingFrame returns the frame that holds p.
func ContainingFrame(p PhysAddr) Frame { return Frame(p >> PageShift) }

// Address returns the first byte of the frame.
func (f Frame) Address() PhysAddr { return PhysAddr(f << PageShift) }

// PageOf validates that v is page aligned and canonical and returns its page.
func PageOf(v VirtAddr) (Page, error) {
	if !v.Aligned() {
		return 0, fmt.Errorf("%v: %w", v, ErrUnaligned)
	}

	if !v.Canonical() {
		return 0, fmt.Errorf("%v: %w", v, ErrNonCanonical)
	}

	return Page(v >> PageShift), nil
}

// ContainingPage returns the page that holds v.
func ContainingPage(v VirtAddr) Page { return Page(v >> PageShift) }

// Address returns the first byte of the page, sign-extended to a canonical
// address.
func (p Page) Address() VirtAddr {
	v := uint64(p) << PageShift
	if v&(1<<47) != 0 {
		v |= 0xffff << 48
	}

	return VirtAddr(v)
}

// PagesFor returns how many pages cover [start, start+size).
func PagesFor(start VirtAddr, size uint64) int {
	if size == 0 {
		return 0
	}

	first := start.AlignDown()
	last := (start + VirtAddr(size)).AlignUp()

	return int((last - first) >> PageShift)
}
