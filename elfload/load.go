package elfload

import (
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/frame"
)

// Memory is guest physical memory as seen by the loader.
type Memory interface {
	Slice(p addr.PhysAddr, n uint64) ([]byte, error)
}

// MappedSegment is a loaded segment: Pages consecutive virtual pages starting
// at Virt, page i backed by Frames[i].
type MappedSegment struct {
	Virt   addr.VirtAddr
	Pages  int
	Perm   Perm
	Frames []addr.Frame
}

// Page returns the i-th virtual page of the segment.
func (m *MappedSegment) Page(i int) addr.Page {
	return addr.ContainingPage(m.Virt) + addr.Page(i)
}

// Load materialises every segment in header order. Each page of a segment gets
// its own frame, allocated in ascending address order; file bytes are copied
// to their offset within the pages and every other byte is zeroed.
func (img *Image) Load(src frame.Source, mem Memory) ([]MappedSegment, error) {
	mapped := make([]MappedSegment, 0, len(img.Segments))

	for i := range img.Segments {
		m, err := loadSegment(&img.Segments[i], src, mem)
		if err != nil {
			return nil, err
		}

		mapped = append(mapped, m)
	}

	return mapped, nil
}

func loadSegment(seg *Segment, src frame.Source, mem Memory) (MappedSegment, error) {
	// Pages is bounded by the image, not by physical memory; Frames only grows
	// as allocations succeed.
	m := MappedSegment{
		Virt:  seg.Start(),
		Pages: seg.Pages(),
		Perm:  seg.Perm,
	}

	// offset of the first file byte inside the first page
	lead := uint64(seg.Virt - seg.Start())

	for i := 0; i < m.Pages; i++ {
		f, err := src.AllocateFrame()
		if err != nil {
			return m, fmt.Errorf("segment %d page %d: %w", seg.Index, i, err)
		}

		page, err := mem.Slice(f.Address(), addr.PageSize)
		if err != nil {
			return m, fmt.Errorf("segment %d page %d: %w", seg.Index, i, err)
		}

		for j := range page {
			page[j] = 0
		}

		copyFileBytes(page, uint64(i)*addr.PageSize, lead, seg.data)

		m.Frames = append(m.Frames, f)
	}

	return m, nil
}

// copyFileBytes copies the part of data that falls into the page starting at
// pageOff. Offsets are relative to the aligned segment start; data begins at
// lead.
func copyFileBytes(page []byte, pageOff, lead uint64, data []byte) {
	dataStart := lead
	dataEnd := lead + uint64(len(data))
	pageEnd := pageOff + uint64(len(page))

	lo, hi := pageOff, pageEnd
	if dataStart > lo {
		lo = dataStart
	}

	if dataEnd < hi {
		hi = dataEnd
	}

	if lo >= hi {
		return
	}

	copy(page[lo-pageOff:hi-pageOff], data[lo-lead:hi-lead])
}

// Anonymous backs a run of zeroed pages starting at virt with fresh frames,
// as for a segment without file contents. The kernel stack is placed this way.
func Anonymous(virt addr.VirtAddr, pages int, perm Perm, src frame.Source, mem Memory) (MappedSegment, error) {
	if !virt.Aligned() {
		return MappedSegment{}, fmt.Errorf("anonymous segment at %v: %w", virt, addr.ErrUnaligned)
	}

	if pages <= 0 {
		return MappedSegment{}, fmt.Errorf("anonymous segment at %v: %d pages", virt, pages)
	}

	if err := addr.CheckRange(virt, uint64(pages)*addr.PageSize); err != nil {
		return MappedSegment{}, fmt.Errorf("anonymous segment: %w", err)
	}

	seg := Segment{
		Index:   -1,
		Virt:    virt,
		MemSize: uint64(pages) * addr.PageSize,
		Perm:    perm,
	}

	return loadSegment(&seg, src, mem)
}
