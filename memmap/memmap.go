// Package memmap snapshots the firmware memory map and derives the highest
// physical address the loader has to account for.
package memmap

import (
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/efi"
	"github.com/u-root/u-root/pkg/boot/bzimage"
)

// MinPhysicalAddress is the floor of MaxPhysicalAddress. It covers the 32-bit
// MMIO hole (IOAPIC, LAPIC, HPET) even on machines reporting little RAM.
const MinPhysicalAddress addr.PhysAddr = 0x1_0000_0000

// Map is a read-only snapshot of the firmware memory map.
type Map struct {
	Descriptors    []efi.MemoryDescriptor
	MapKey         uint64
	DescriptorSize int

	// Buf holds the raw descriptors as the firmware wrote them.
	Buf []byte
}

// BufferSize returns the buffer size used for a snapshot: the firmware's own
// hint doubled, since allocating the buffer may itself grow the map.
func BufferSize(bs efi.BootServices) (int, error) {
	size, _, err := bs.MemoryMapSize()
	if err != nil {
		return 0, fmt.Errorf("memory map size: %w", err)
	}

	return size * 2, nil
}

// Snapshot takes the memory map into a freshly allocated host buffer.
func Snapshot(bs efi.BootServices) (*Map, error) {
	size, err := BufferSize(bs)
	if err != nil {
		return nil, err
	}

	return SnapshotInto(bs, make([]byte, size))
}

// SnapshotInto takes the memory map into buf, typically guest memory that the
// kernel will read the map from after handoff.
func SnapshotInto(bs efi.BootServices, buf []byte) (*Map, error) {
	n, key, descSize, err := bs.GetMemoryMap(buf)
	if err != nil {
		return nil, fmt.Errorf("get memory map: %w", err)
	}

	if descSize < efi.MemoryDescriptorSize {
		return nil, fmt.Errorf("descriptor size %d: %w", descSize, efi.ErrInvalidParameter)
	}

	m := &Map{
		MapKey:         key,
		DescriptorSize: descSize,
		Buf:            buf[:n],
	}

	for off := 0; off+descSize <= n; off += descSize {
		d, err := efi.DecodeMemoryDescriptor(buf[off : off+descSize])
		if err != nil {
			return nil, fmt.Errorf("descriptor at %#x: %w", off, err)
		}

		m.Descriptors = append(m.Descriptors, d)
	}

	return m, nil
}

// Len returns the number of descriptors.
func (m *Map) Len() int {
	return len(m.Descriptors)
}

// MaxPhysicalAddress returns the maximum of every region end and
// MinPhysicalAddress. It depends only on its argument.
func MaxPhysicalAddress(regions []efi.MemoryDescriptor) addr.PhysAddr {
	highest := MinPhysicalAddress

	for i := range regions {
		if end := regions[i].PhysicalEnd(); end > highest {
			highest = end
		}
	}

	return highest
}

// E820 converts the snapshot to the legacy E820 view.
func (m *Map) E820() []bzimage.E820Entry {
	entries := make([]bzimage.E820Entry, 0, len(m.Descriptors))

	for i := range m.Descriptors {
		entries = append(entries, m.Descriptors[i].E820())
	}

	return entries
}
