package platform

import (
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/efi"
)

// AllocatePages carves pages from the lowest conventional region at or above
// HighMemoryStart. Allocated memory is not cleared.
func (f *Firmware) AllocatePages(allocateType int, memType efi.MemoryType, pages int) (addr.PhysAddr, error) {
	if f.exited {
		return 0, efi.ErrBootServicesExited
	}

	if allocateType != efi.AllocateAnyPages {
		return 0, fmt.Errorf("allocate type %d: %w", allocateType, efi.ErrUnsupported)
	}

	if pages <= 0 || memType == efi.EfiConventionalMemory || memType >= efi.EfiMaxMemoryType {
		return 0, fmt.Errorf("%d pages of %v: %w", pages, memType, efi.ErrInvalidParameter)
	}

	for i := range f.descs {
		d := &f.descs[i]
		if d.Type != efi.EfiConventionalMemory || d.PhysicalStart < HighMemoryStart {
			continue
		}

		if d.NumberOfPages < uint64(pages) {
			continue
		}

		return f.carve(i, uint64(pages), memType), nil
	}

	return 0, fmt.Errorf("%d pages: %w", pages, efi.ErrOutOfResources)
}

// carve moves the first pages of conventional descriptor i to memType. The
// allocation joins the previous descriptor when that one has the same type and
// ends where the allocation starts, so that page-by-page allocation does not
// grow the map.
func (f *Firmware) carve(i int, pages uint64, memType efi.MemoryType) addr.PhysAddr {
	start := f.descs[i].PhysicalStart

	f.descs[i].PhysicalStart += addr.PhysAddr(pages * addr.PageSize)
	f.descs[i].NumberOfPages -= pages

	if i > 0 && f.descs[i-1].Type == memType && f.descs[i-1].PhysicalEnd() == start {
		f.descs[i-1].NumberOfPages += pages
	} else {
		f.descs = append(f.descs[:i+1], f.descs[i:]...)
		f.descs[i] = efi.MemoryDescriptor{
			Type:          memType,
			PhysicalStart: start,
			NumberOfPages: pages,
		}
		i++
	}

	if f.descs[i].NumberOfPages == 0 {
		f.descs = append(f.descs[:i], f.descs[i+1:]...)
	}

	f.mapKey++

	return start
}

func (f *Firmware) MemoryMapSize() (int, int, error) {
	if f.exited {
		return 0, 0, efi.ErrBootServicesExited
	}

	return len(f.descs) * efi.MemoryDescriptorSize, efi.MemoryDescriptorSize, nil
}

func (f *Firmware) GetMemoryMap(buf []byte) (int, uint64, int, error) {
	if f.exited {
		return 0, 0, 0, efi.ErrBootServicesExited
	}

	n := len(f.descs) * efi.MemoryDescriptorSize
	if len(buf) < n {
		return 0, 0, 0, fmt.Errorf("need %d bytes, have %d: %w", n, len(buf), efi.ErrBufferTooSmall)
	}

	for i := range f.descs {
		b, err := f.descs[i].Bytes()
		if err != nil {
			return 0, 0, 0, err
		}

		copy(buf[i*efi.MemoryDescriptorSize:], b)
	}

	return n, f.mapKey, efi.MemoryDescriptorSize, nil
}

// ExitBootServices succeeds only with the key of the current map.
func (f *Firmware) ExitBootServices(mapKey uint64) error {
	if f.exited {
		return efi.ErrBootServicesExited
	}

	if mapKey != f.mapKey {
		return fmt.Errorf("stale map key %d, current %d: %w", mapKey, f.mapKey, efi.ErrInvalidParameter)
	}

	f.exited = true

	return nil
}

// Descriptors returns a copy of the current memory map.
func (f *Firmware) Descriptors() []efi.MemoryDescriptor {
	return append([]efi.MemoryDescriptor(nil), f.descs...)
}
