// Package frame hands out physical frames to the image loader and the page
// table builder.
package frame

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/efi"
)

var (
	ErrExhausted      = errors.New("physical frames exhausted")
	ErrDuplicateFrame = errors.New("platform returned a frame twice")
)

// Source gives out unused, page-aligned physical frames. Frames are never
// returned to it.
type Source interface {
	AllocateFrame() (addr.Frame, error)
}

// Allocator is a Source backed by EFI AllocatePages. Frames are tagged
// EfiLoaderData so the firmware keeps them until handoff and the kernel can
// find them in the final memory map.
type Allocator struct {
	bs        efi.BootServices
	allocated []addr.Frame
	seen      map[addr.Frame]struct{}
}

func NewAllocator(bs efi.BootServices) *Allocator {
	return &Allocator{
		bs:   bs,
		seen: make(map[addr.Frame]struct{}),
	}
}

// AllocateFrame allocates exactly one page.
func (a *Allocator) AllocateFrame() (addr.Frame, error) {
	p, err := a.bs.AllocatePages(efi.AllocateAnyPages, efi.EfiLoaderData, 1)
	if err != nil {
		return 0, fmt.Errorf("allocate frame #%d: %w: %w", len(a.allocated), ErrExhausted, err)
	}

	f, err := addr.FrameOf(p)
	if err != nil {
		return 0, fmt.Errorf("allocate frame: %w", err)
	}

	if _, ok := a.seen[f]; ok {
		return 0, fmt.Errorf("frame %#x: %w", uint64(f), ErrDuplicateFrame)
	}

	a.seen[f] = struct{}{}
	a.allocated = append(a.allocated, f)

	return f, nil
}

// Allocated returns the frames handed out so far, in allocation order.
func (a *Allocator) Allocated() []addr.Frame {
	return append([]addr.Frame(nil), a.allocated...)
}
