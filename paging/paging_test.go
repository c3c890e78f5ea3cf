package paging_test

import (
	"errors"
	"testing"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/elfload"
	"github.com/bobuhiro11/goboot/frame"
	"github.com/bobuhiro11/goboot/memory"
	"github.com/bobuhiro11/goboot/paging"
)

const (
	memSize  = 0x100000
	firmRoot = 0x1000
	kernBase = addr.VirtAddr(0xffffffff80000000)
)

type fakeRegisters struct {
	cr0, cr3, efer uint64
}

func (r *fakeRegisters) CR0() (uint64, error) { return r.cr0, nil }
func (r *fakeRegisters) SetCR0(v uint64) error { r.cr0 = v; return nil }
func (r *fakeRegisters) CR3() (uint64, error) { return r.cr3, nil }
func (r *fakeRegisters) SetCR3(v uint64) error { r.cr3 = v; return nil }
func (r *fakeRegisters) EFER() (uint64, error) { return r.efer, nil }
func (r *fakeRegisters) SetEFER(v uint64) error { r.efer = v; return nil }

type bumpSource struct {
	next, limit addr.Frame
}

func newBumpSource(n int) *bumpSource {
	return &bumpSource{next: 0x10, limit: 0x10 + addr.Frame(n)}
}

func (b *bumpSource) AllocateFrame() (addr.Frame, error) {
	if b.next >= b.limit {
		return 0, frame.ErrExhausted
	}

	b.next++

	return b.next - 1, nil
}

// firmware builds the state left by the firmware: poisoned memory, the first
// 2 MiB identity mapped with a single huge page, write protection on and
// EFER.NXE off.
func firmware(t *testing.T) (*fakeRegisters, *memory.Physical) {
	t.Helper()

	mem := memory.NewPhysical(make([]byte, memSize))
	if err := mem.Fill(0, memSize); err != nil {
		t.Fatal(err)
	}

	if err := mem.Zero(firmRoot, 3*addr.PageSize); err != nil {
		t.Fatal(err)
	}

	pr := uint64(paging.PDE64xPRESENT | paging.PDE64xRW)
	for _, e := range []struct {
		slot addr.PhysAddr
		val  uint64
	}{
		{firmRoot, 0x2000 | pr},
		{0x2000, 0x3000 | pr},
		{0x3000, pr | uint64(paging.PDE64xPS)},
	} {
		if err := mem.PutUint64(e.slot, e.val); err != nil {
			t.Fatal(err)
		}
	}

	cpu := &fakeRegisters{
		cr0:  paging.CR0xPE | paging.CR0xPG | paging.CR0xWP,
		cr3:  firmRoot | 0x18,
		efer: paging.EFERxLME | paging.EFERxLMA,
	}

	return cpu, mem
}

func adopt(t *testing.T) (*paging.Hierarchy, *fakeRegisters, *memory.Physical) {
	t.Helper()

	cpu, mem := firmware(t)

	h, err := paging.Adopt(cpu, mem)
	if err != nil {
		t.Fatal(err)
	}

	return h, cpu, mem
}

func TestAdopt(t *testing.T) {
	t.Parallel()

	h, cpu, _ := adopt(t)

	if h.Root() != firmRoot {
		t.Fatalf("root %v", h.Root())
	}

	if cpu.cr0&paging.CR0xWP != 0 {
		t.Fatal("CR0.WP still set")
	}

	if cpu.cr0&paging.CR0xPG == 0 {
		t.Fatal("CR0.PG cleared")
	}

	if cpu.efer&paging.EFERxNXE == 0 {
		t.Fatal("EFER.NXE not set")
	}

	if cpu.cr3 != firmRoot|0x18 {
		t.Fatalf("CR3 changed to %#x", cpu.cr3)
	}
}

func TestInstall(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name     string
		perm     elfload.Perm
		writable bool
		nx       bool
	}{
		{name: "text", perm: elfload.PermRead | elfload.PermExecute},
		{name: "data", perm: elfload.PermRead | elfload.PermWrite, writable: true, nx: true},
		{name: "rodata", perm: elfload.PermRead, nx: true},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, _, _ := adopt(t)
			segs := []elfload.MappedSegment{{
				Virt:   kernBase,
				Pages:  2,
				Perm:   tt.perm,
				Frames: []addr.Frame{0x40, 0x41},
			}}

			if err := h.Install(segs, newBumpSource(8)); err != nil {
				t.Fatal(err)
			}

			for i, want := range []addr.PhysAddr{0x40010, 0x41010} {
				v := kernBase + addr.VirtAddr(i)*addr.PageSize + 0x10

				got, flags, err := h.Translate(v)
				if err != nil {
					t.Fatal(err)
				}

				if got != want {
					t.Fatalf("%v -> %v, want %v", v, got, want)
				}

				if (flags&paging.PDE64xRW != 0) != tt.writable {
					t.Fatalf("%v writable=%v", v, flags&paging.PDE64xRW != 0)
				}

				if (flags&paging.PDE64xNX != 0) != tt.nx {
					t.Fatalf("%v nx=%v", v, flags&paging.PDE64xNX != 0)
				}
			}

			if _, _, err := h.Translate(kernBase + 2*addr.PageSize); !errors.Is(err, paging.ErrNotMapped) {
				t.Fatalf("page past the segment: %v", err)
			}
		})
	}
}

func TestFirmwareMappingsSurvive(t *testing.T) {
	t.Parallel()

	h, _, _ := adopt(t)

	segs := []elfload.MappedSegment{{Virt: kernBase, Pages: 1, Perm: elfload.PermRead, Frames: []addr.Frame{0x40}}}
	if err := h.Install(segs, newBumpSource(8)); err != nil {
		t.Fatal(err)
	}

	got, _, err := h.Translate(0x1234)
	if err != nil || got != 0x1234 {
		t.Fatalf("identity mapping lost: %v %v", got, err)
	}
}

func TestMapConflict(t *testing.T) {
	t.Parallel()

	h, _, _ := adopt(t)
	src := newBumpSource(8)
	page := addr.ContainingPage(kernBase)

	if err := h.Map(page, 0x40, paging.PDE64xPRESENT, src); err != nil {
		t.Fatal(err)
	}

	if err := h.Map(page, 0x40, paging.PDE64xPRESENT, src); err != nil {
		t.Fatalf("remapping the same frame: %v", err)
	}

	if err := h.Map(page, 0x41, paging.PDE64xPRESENT, src); !errors.Is(err, paging.ErrAlreadyMapped) {
		t.Fatalf("expected ErrAlreadyMapped, got %v", err)
	}
}

func TestMapPreconditions(t *testing.T) {
	t.Parallel()

	h, cpu, _ := adopt(t)
	src := newBumpSource(8)
	page := addr.ContainingPage(kernBase)

	cpu.cr0 |= paging.CR0xWP
	if err := h.Map(page, 0x40, paging.PDE64xPRESENT, src); !errors.Is(err, paging.ErrWriteProtected) {
		t.Fatalf("expected ErrWriteProtected, got %v", err)
	}

	cpu.cr0 &^= paging.CR0xWP
	cpu.efer &^= paging.EFERxNXE

	if err := h.Map(page, 0x40, paging.PDE64xNX, src); !errors.Is(err, paging.ErrNoExecuteDisabled) {
		t.Fatalf("expected ErrNoExecuteDisabled, got %v", err)
	}

	if err := h.Map(page, 0x40, 0, src); err != nil {
		t.Fatalf("executable mapping without NXE: %v", err)
	}
}

func TestNewTablesAreZeroed(t *testing.T) {
	t.Parallel()

	h, _, mem := adopt(t)
	src := newBumpSource(8)

	if err := h.Map(addr.ContainingPage(kernBase), 0x40, paging.PDE64xPRESENT, src); err != nil {
		t.Fatal(err)
	}

	// three tables below the root were created, each with a single entry
	if src.next != 0x13 {
		t.Fatalf("allocated %d table frames", src.next-0x10)
	}

	for f := addr.Frame(0x10); f < 0x13; f++ {
		used := 0

		for off := uint64(0); off < addr.PageSize; off += 8 {
			e, err := mem.Uint64(f.Address() + addr.PhysAddr(off))
			if err != nil {
				t.Fatal(err)
			}

			if e != 0 {
				used++
			}
		}

		if used != 1 {
			t.Fatalf("table at %v has %d non-zero entries", f.Address(), used)
		}
	}
}

func TestFrameExhaustion(t *testing.T) {
	t.Parallel()

	h, _, _ := adopt(t)
	segs := []elfload.MappedSegment{{Virt: kernBase, Pages: 1, Perm: elfload.PermRead, Frames: []addr.Frame{0x40}}}

	err := h.Install(segs, newBumpSource(1))
	if !errors.Is(err, paging.ErrFrameExhausted) || !errors.Is(err, frame.ErrExhausted) {
		t.Fatalf("expected ErrFrameExhausted, got %v", err)
	}
}

func TestHugePageInWalk(t *testing.T) {
	t.Parallel()

	h, _, _ := adopt(t)

	err := h.Map(addr.ContainingPage(0x5000), 0x40, paging.PDE64xPRESENT, newBumpSource(8))
	if !errors.Is(err, paging.ErrHugePage) {
		t.Fatalf("expected ErrHugePage, got %v", err)
	}
}

func TestMapPhysicalMemory(t *testing.T) {
	t.Parallel()

	const offset = addr.VirtAddr(0xffff800000000000)

	h, _, _ := adopt(t)

	if err := h.MapPhysicalMemory(offset, 2*addr.HugePageSize, newBumpSource(8)); err != nil {
		t.Fatal(err)
	}

	got, flags, err := h.Translate(offset + addr.HugePageSize + 0x123)
	if err != nil {
		t.Fatal(err)
	}

	if got != addr.HugePageSize+0x123 {
		t.Fatalf("translated to %v", got)
	}

	if flags&paging.PDE64xRW == 0 || flags&paging.PDE64xNX == 0 {
		t.Fatalf("flags %#x", uint64(flags))
	}

	if _, _, err := h.Translate(offset + 2*addr.HugePageSize); !errors.Is(err, paging.ErrNotMapped) {
		t.Fatalf("past limit: %v", err)
	}

	if err := h.MapPhysicalMemory(offset+addr.PageSize, addr.HugePageSize, newBumpSource(8)); !errors.Is(err, paging.ErrUnaligned) {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
}

func TestMapPhysicalMemoryCanonical(t *testing.T) {
	t.Parallel()

	h, _, _ := adopt(t)
	src := newBumpSource(8)

	// the second huge page would land at 0x0000800000000000
	if err := h.MapPhysicalMemory(0x7fffffe00000, 2*addr.HugePageSize, src); !errors.Is(err, addr.ErrNonCanonical) {
		t.Fatalf("expected ErrNonCanonical, got %v", err)
	}

	if err := h.MapPhysicalMemory(0xffffffffffe00000, 2*addr.HugePageSize, src); !errors.Is(err, addr.ErrNonCanonical) {
		t.Fatalf("wrapping range: %v", err)
	}

	if src.next != 0x10 {
		t.Fatal("frames allocated for a rejected range")
	}

	if _, _, err := h.Translate(0xffff800000000000); !errors.Is(err, paging.ErrNotMapped) {
		t.Fatalf("higher half: %v", err)
	}
}

func TestFlagsFor(t *testing.T) {
	t.Parallel()

	if f := paging.FlagsFor(elfload.PermRead | elfload.PermWrite | elfload.PermExecute); f != paging.PDE64xPRESENT|paging.PDE64xRW {
		t.Fatalf("rwx: %#x", uint64(f))
	}

	if f := paging.FlagsFor(elfload.PermRead); f != paging.PDE64xPRESENT|paging.PDE64xNX {
		t.Fatalf("r--: %#x", uint64(f))
	}
}
