// Package elfload parses a kernel ELF image and places its loadable segments
// in freshly allocated physical frames.
package elfload

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/memory"
)

var (
	ErrMalformedImage      = errors.New("malformed kernel image")
	ErrUnsupportedArch     = fmt.Errorf("%w: unsupported architecture", ErrMalformedImage)
	ErrOverlappingSegments = fmt.Errorf("%w: overlapping segments", ErrMalformedImage)
)

// Perm is the access a segment requests.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExecute
)

func permFromFlags(f elf.ProgFlag) Perm {
	var p Perm

	if f&elf.PF_R != 0 {
		p |= PermRead
	}

	if f&elf.PF_W != 0 {
		p |= PermWrite
	}

	if f&elf.PF_X != 0 {
		p |= PermExecute
	}

	return p
}

func (p Perm) String() string {
	b := []byte("---")

	if p&PermRead != 0 {
		b[0] = 'r'
	}

	if p&PermWrite != 0 {
		b[1] = 'w'
	}

	if p&PermExecute != 0 {
		b[2] = 'x'
	}

	return string(b)
}

// Segment is one non-empty PT_LOAD program header.
type Segment struct {
	Index    int
	Virt     addr.VirtAddr
	FileSize uint64
	MemSize  uint64
	Perm     Perm

	data []byte
}

// Start returns the page-aligned start of the segment.
func (s *Segment) Start() addr.VirtAddr { return s.Virt.AlignDown() }

// Pages returns the number of pages covering the segment in memory.
func (s *Segment) Pages() int { return addr.PagesFor(s.Virt, s.MemSize) }

// Image is a parsed kernel. The backing buffer must not move or change while
// the image is in use.
type Image struct {
	Entry    addr.VirtAddr
	Segments []Segment

	buf []byte
}

// Parse validates buf as an x86-64 executable and collects its loadable
// segments in header order. Everything that can be checked without touching
// memory is checked here: header, architecture, segment bounds and
// page-granular overlaps.
func Parse(buf []byte) (*Image, error) {
	if len(buf) < len(elf.ELFMAG) || string(buf[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedImage)
	}

	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedImage, err)
	}

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: %v %v %v", ErrUnsupportedArch, f.Class, f.Data, f.Machine)
	}

	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("%w: type %v is not loadable without relocation", ErrMalformedImage, f.Type)
	}

	img := &Image{
		Entry: addr.VirtAddr(f.Entry),
		buf:   buf,
	}

	occupied := memory.NewAddressSpace("image", 0, ^uint64(0))

	for idx, prg := range f.Progs {
		if prg.Type != elf.PT_LOAD || prg.Memsz == 0 {
			continue
		}

		seg, err := newSegment(buf, idx, &prg.ProgHeader)
		if err != nil {
			return nil, err
		}

		start := uint64(seg.Start())
		size := uint64(seg.Pages()) * addr.PageSize

		if err := occupied.AddAddress(memory.NewAddressSpace(fmt.Sprintf("segment %d", idx), start, size)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOverlappingSegments, err)
		}

		img.Segments = append(img.Segments, seg)
	}

	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("%w: no loadable segments", ErrMalformedImage)
	}

	if !img.inSegment(img.Entry) {
		return nil, fmt.Errorf("%w: entry %v outside loadable segments", ErrMalformedImage, img.Entry)
	}

	return img, nil
}

// inSegment reports whether v falls inside the memory image of a segment,
// page padding excluded.
func (img *Image) inSegment(v addr.VirtAddr) bool {
	for i := range img.Segments {
		s := &img.Segments[i]
		if v >= s.Virt && uint64(v-s.Virt) < s.MemSize {
			return true
		}
	}

	return false
}

func newSegment(buf []byte, idx int, ph *elf.ProgHeader) (Segment, error) {
	if ph.Filesz > ph.Memsz {
		return Segment{}, fmt.Errorf("%w: segment %d file size %#x exceeds memory size %#x",
			ErrMalformedImage, idx, ph.Filesz, ph.Memsz)
	}

	if ph.Off > uint64(len(buf)) || ph.Filesz > uint64(len(buf))-ph.Off {
		return Segment{}, fmt.Errorf("%w: segment %d data [%#x, %#x) beyond end of file",
			ErrMalformedImage, idx, ph.Off, ph.Off+ph.Filesz)
	}

	if err := addr.CheckRange(addr.VirtAddr(ph.Vaddr), ph.Memsz); err != nil {
		return Segment{}, fmt.Errorf("%w: segment %d: %w", ErrMalformedImage, idx, err)
	}

	return Segment{
		Index:    idx,
		Virt:     addr.VirtAddr(ph.Vaddr),
		FileSize: ph.Filesz,
		MemSize:  ph.Memsz,
		Perm:     permFromFlags(ph.Flags),
		data:     buf[ph.Off : ph.Off+ph.Filesz],
	}, nil
}
