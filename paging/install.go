package paging

import (
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/elfload"
	"github.com/bobuhiro11/goboot/frame"
)

// FlagsFor translates segment permissions into leaf flags. Pages are always
// present and readable, writable iff requested and executable iff requested.
func FlagsFor(perm elfload.Perm) Flags {
	flags := PDE64xPRESENT

	if perm&elfload.PermWrite != 0 {
		flags |= PDE64xRW
	}

	if perm&elfload.PermExecute == 0 {
		flags |= PDE64xNX
	}

	return flags
}

// Install maps every page of every segment onto its backing frame, in order.
// Any error leaves the hierarchy partially populated; the boot attempt has to
// be abandoned.
func (h *Hierarchy) Install(segments []elfload.MappedSegment, src frame.Source) error {
	nx := false

	for i := range segments {
		nx = nx || FlagsFor(segments[i].Perm)&PDE64xNX != 0
	}

	if err := h.checkMutable(nx); err != nil {
		return err
	}

	for i := range segments {
		seg := &segments[i]
		flags := FlagsFor(seg.Perm)

		for p, f := range seg.Frames {
			if err := h.mapPage(seg.Page(p), f, flags, src); err != nil {
				return fmt.Errorf("install segment at %v (%v): %w", seg.Virt, seg.Perm, err)
			}
		}
	}

	return nil
}

// MapPhysicalMemory maps physical [0, limit) at virtual offset with 2 MiB
// pages, writable and not executable, so the kernel can reach all of physical
// memory without building its own tables first.
func (h *Hierarchy) MapPhysicalMemory(offset addr.VirtAddr, limit addr.PhysAddr, src frame.Source) error {
	if offset&(addr.HugePageSize-1) != 0 {
		return fmt.Errorf("offset %v: %w", offset, ErrUnaligned)
	}

	size := (uint64(limit) + addr.HugePageSize - 1) &^ uint64(addr.HugePageSize-1)
	if err := addr.CheckRange(offset, size); err != nil {
		return fmt.Errorf("physical memory map: %w", err)
	}

	if err := h.checkMutable(true); err != nil {
		return err
	}

	for p := addr.PhysAddr(0); p < limit; p += addr.HugePageSize {
		v := offset + addr.VirtAddr(p)

		slot, err := h.entry(v, 2, src)
		if err != nil {
			return fmt.Errorf("map physical %v: %w", p, err)
		}

		if err := h.set(slot, v, p, PDE64xRW|PDE64xPS|PDE64xNX); err != nil {
			return fmt.Errorf("map physical %v: %w", p, err)
		}
	}

	return nil
}
