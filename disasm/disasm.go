// Package disasm decodes kernel code through the page tables the loader
// installed, to check what the core will execute after the jump.
package disasm

import (
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/paging"
	"golang.org/x/arch/x86/x86asm"
)

// maxInstLen is the longest x86 instruction.
const maxInstLen = 15

// Translator resolves virtual addresses, as *paging.Hierarchy does.
type Translator interface {
	Translate(v addr.VirtAddr) (addr.PhysAddr, paging.Flags, error)
}

// Memory is guest physical memory.
type Memory interface {
	Slice(p addr.PhysAddr, n uint64) ([]byte, error)
}

// Line is one decoded instruction.
type Line struct {
	PC   addr.VirtAddr
	Inst x86asm.Inst
	Text string
}

func (l Line) String() string {
	return fmt.Sprintf("%#x: %s", uint64(l.PC), l.Text)
}

// ReadBytes fills b from the virtual address space, one page at a time.
func ReadBytes(t Translator, mem Memory, v addr.VirtAddr, b []byte) error {
	for len(b) > 0 {
		p, _, err := t.Translate(v)
		if err != nil {
			return err
		}

		n := addr.PageSize - uint64(v)%addr.PageSize
		if n > uint64(len(b)) {
			n = uint64(len(b))
		}

		src, err := mem.Slice(p, n)
		if err != nil {
			return err
		}

		copy(b, src)
		b = b[n:]
		v += addr.VirtAddr(n)
	}

	return nil
}

// Inst decodes the instruction at pc.
func Inst(t Translator, mem Memory, pc addr.VirtAddr) (*Line, error) {
	insn := make([]byte, maxInstLen)

	// the instruction may end right before an unmapped page
	for len(insn) > 0 {
		if err := ReadBytes(t, mem, pc, insn); err == nil {
			break
		} else if len(insn) == 1 {
			return nil, fmt.Errorf("reading PC at %#x: %w", uint64(pc), err)
		}

		insn = insn[:len(insn)-1]
	}

	d, err := x86asm.Decode(insn, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding %#02x: %w", insn, err)
	}

	return &Line{PC: pc, Inst: d, Text: x86asm.GNUSyntax(d, uint64(pc), nil)}, nil
}

// Disassemble decodes n consecutive instructions starting at pc.
func Disassemble(t Translator, mem Memory, pc addr.VirtAddr, n int) ([]Line, error) {
	lines := make([]Line, 0, n)

	for i := 0; i < n; i++ {
		l, err := Inst(t, mem, pc)
		if err != nil {
			return lines, err
		}

		lines = append(lines, *l)
		pc += addr.VirtAddr(l.Inst.Len)
	}

	return lines, nil
}
