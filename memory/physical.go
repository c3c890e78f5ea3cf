package memory

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
)

var ErrOutOfRange = errors.New("physical address out of range")

// Poison is an instruction sequence that faults when executed. Free memory is
// filled with it so that a loader forgetting to zero a page, or a jump into
// unloaded memory, is easy to diagnose.
// Disassembly:
// 0:  b8 be ba fe ca          mov    eax,0xcafebabe
// 5:  90                      nop
// 6:  0f 0b                   ud2
const Poison = "\xB8\xBE\xBA\xFE\xCA\x90\x0F\x0B"

// Physical is guest physical memory starting at address zero. The firmware
// identity-maps it, so physical addresses index the backing slice directly.
type Physical struct {
	buf []byte
}

// NewPhysical wraps buf, which may be a plain slice or a mmap'd region shared
// with KVM.
func NewPhysical(buf []byte) *Physical {
	return &Physical{buf: buf}
}

// Size returns the amount of guest memory in bytes.
func (m *Physical) Size() uint64 {
	return uint64(len(m.buf))
}

func (m *Physical) check(p addr.PhysAddr, n uint64) error {
	if uint64(p) > m.Size() || n > m.Size()-uint64(p) {
		return fmt.Errorf("[%#x, %#x) exceeds %#x: %w", uint64(p), uint64(p)+n, m.Size(), ErrOutOfRange)
	}

	return nil
}

// Slice returns a view of n bytes at p. Writes through the slice land in
// guest memory.
func (m *Physical) Slice(p addr.PhysAddr, n uint64) ([]byte, error) {
	if err := m.check(p, n); err != nil {
		return nil, err
	}

	return m.buf[p : uint64(p)+n : uint64(p)+n], nil
}

// ReadAt implements io.ReaderAt over guest physical memory.
func (m *Physical) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrOutOfRange
	}

	if err := m.check(addr.PhysAddr(off), uint64(len(b))); err != nil {
		return 0, err
	}

	return copy(b, m.buf[off:]), nil
}

// WriteAt implements io.WriterAt over guest physical memory.
func (m *Physical) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrOutOfRange
	}

	if err := m.check(addr.PhysAddr(off), uint64(len(b))); err != nil {
		return 0, err
	}

	return copy(m.buf[off:], b), nil
}

// Uint64 reads a little-endian word at p.
func (m *Physical) Uint64(p addr.PhysAddr) (uint64, error) {
	if err := m.check(p, 8); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(m.buf[p:]), nil
}

// PutUint64 writes a little-endian word at p.
func (m *Physical) PutUint64(p addr.PhysAddr, v uint64) error {
	if err := m.check(p, 8); err != nil {
		return err
	}

	binary.LittleEndian.PutUint64(m.buf[p:], v)

	return nil
}

// Zero clears n bytes at p.
func (m *Physical) Zero(p addr.PhysAddr, n uint64) error {
	b, err := m.Slice(p, n)
	if err != nil {
		return err
	}

	for i := range b {
		b[i] = 0
	}

	return nil
}

// Fill poisons n bytes at p.
func (m *Physical) Fill(p addr.PhysAddr, n uint64) error {
	b, err := m.Slice(p, n)
	if err != nil {
		return err
	}

	for i := 0; i < len(b); i += len(Poison) {
		copy(b[i:], Poison)
	}

	return nil
}
