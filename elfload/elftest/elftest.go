// Package elftest builds small x86-64 ELF executables for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Prog describes one program header and its file contents.
type Prog struct {
	Type  elf.ProgType
	Flags elf.ProgFlag
	Vaddr uint64
	Data  []byte
	Memsz uint64
}

// Options tweak the ELF header for malformed-image tests.
type Options struct {
	Machine elf.Machine
	Class   elf.Class
	Type    elf.Type
}

const (
	ehdrSize = 64
	phdrSize = 56
	dataBase = 0x1000
)

// Build returns an ELF64 little-endian executable with entry point entry and
// one program header per prog. Segment data starts at file offset 0x1000.
func Build(entry uint64, progs []Prog) []byte {
	return BuildWithOptions(entry, progs, Options{})
}

// BuildWithOptions is Build with header overrides.
func BuildWithOptions(entry uint64, progs []Prog, opts Options) []byte {
	if opts.Machine == 0 {
		opts.Machine = elf.EM_X86_64
	}

	if opts.Class == 0 {
		opts.Class = elf.ELFCLASS64
	}

	if opts.Type == 0 {
		opts.Type = elf.ET_EXEC
	}

	hdr := elf.Header64{
		Type:      uint16(opts.Type),
		Machine:   uint16(opts.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(progs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(opts.Class)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, hdr)

	off := uint64(dataBase)

	for _, p := range progs {
		ph := elf.Prog64{
			Type:   uint32(p.Type),
			Flags:  uint32(p.Flags),
			Off:    off,
			Vaddr:  p.Vaddr,
			Paddr:  p.Vaddr,
			Filesz: uint64(len(p.Data)),
			Memsz:  p.Memsz,
			Align:  0x1000,
		}
		_ = binary.Write(&buf, binary.LittleEndian, ph)

		off += (uint64(len(p.Data)) + 0xfff) &^ 0xfff
	}

	out := make([]byte, off)
	copy(out, buf.Bytes())

	off = dataBase

	for _, p := range progs {
		copy(out[off:], p.Data)
		off += (uint64(len(p.Data)) + 0xfff) &^ 0xfff
	}

	return out
}
