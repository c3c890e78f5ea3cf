// Package paging takes over the firmware's x86-64 page-table hierarchy and
// installs the kernel's mappings into it.
package paging

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/frame"
)

var (
	ErrAlreadyMapped     = errors.New("page already mapped to a different frame")
	ErrFrameExhausted    = errors.New("no frame for page table")
	ErrHugePage          = errors.New("huge page in the walk path")
	ErrNotMapped         = errors.New("virtual address not mapped")
	ErrWriteProtected    = errors.New("page tables are write protected")
	ErrNoExecuteDisabled = errors.New("no-execute mapping requested while EFER.NXE is clear")
	ErrUnaligned         = errors.New("unaligned huge mapping")
)

// Registers is the control-register file of the executing core.
type Registers interface {
	CR0() (uint64, error)
	SetCR0(v uint64) error
	CR3() (uint64, error)
	SetCR3(v uint64) error
	EFER() (uint64, error)
	SetEFER(v uint64) error
}

// Memory is physical memory holding the page tables. The firmware
// identity-maps it, so table addresses are used as-is.
type Memory interface {
	Uint64(p addr.PhysAddr) (uint64, error)
	PutUint64(p addr.PhysAddr, v uint64) error
	Zero(p addr.PhysAddr, n uint64) error
}

// Hierarchy is a 4-level page-table tree rooted at Root.
//
// It is obtained with Adopt: before, the tree is the one active on the core
// and may be write protected through CR0.WP; after, CR0.WP is clear, EFER.NXE
// is set and the tree is owned by the loader until handoff. Protection is not
// restored; the kernel inherits the relaxed state and sets up its own.
type Hierarchy struct {
	root addr.PhysAddr
	cpu  Registers
	mem  Memory
}

// Adopt takes ownership of the hierarchy referenced by CR3.
func Adopt(cpu Registers, mem Memory) (*Hierarchy, error) {
	cr3, err := cpu.CR3()
	if err != nil {
		return nil, fmt.Errorf("read CR3: %w", err)
	}

	cr0, err := cpu.CR0()
	if err != nil {
		return nil, fmt.Errorf("read CR0: %w", err)
	}

	if err := cpu.SetCR0(cr0 &^ CR0xWP); err != nil {
		return nil, fmt.Errorf("clear CR0.WP: %w", err)
	}

	efer, err := cpu.EFER()
	if err != nil {
		return nil, fmt.Errorf("read EFER: %w", err)
	}

	if err := cpu.SetEFER(efer | EFERxNXE); err != nil {
		return nil, fmt.Errorf("set EFER.NXE: %w", err)
	}

	return &Hierarchy{
		root: addr.PhysAddr(cr3 & addrMask),
		cpu:  cpu,
		mem:  mem,
	}, nil
}

// Root returns the physical address of the PML4.
func (h *Hierarchy) Root() addr.PhysAddr {
	return h.root
}

// checkMutable verifies the ordering preconditions of every mutation:
// CR0.WP must be clear, and EFER.NXE set when nx mappings are requested.
func (h *Hierarchy) checkMutable(nx bool) error {
	cr0, err := h.cpu.CR0()
	if err != nil {
		return err
	}

	if cr0&CR0xWP != 0 {
		return ErrWriteProtected
	}

	if !nx {
		return nil
	}

	efer, err := h.cpu.EFER()
	if err != nil {
		return err
	}

	if efer&EFERxNXE == 0 {
		return ErrNoExecuteDisabled
	}

	return nil
}

// entry returns the address of the entry for v at the given level, creating
// missing tables above it with frames from src. New tables are zeroed before
// they are linked. Existing intermediate entries are widened to RW and
// executable so that the leaf alone decides the effective permissions.
func (h *Hierarchy) entry(v addr.VirtAddr, level int, src frame.Source) (addr.PhysAddr, error) {
	table := h.root

	for l := levels; l > level; l-- {
		slot := table + addr.PhysAddr(((uint64(v)>>levelShift(l))&(entriesPerPage-1))*entrySize)

		e, err := h.mem.Uint64(slot)
		if err != nil {
			return 0, err
		}

		switch {
		case Flags(e)&PDE64xPRESENT == 0:
			f, err := src.AllocateFrame()
			if err != nil {
				return 0, fmt.Errorf("level %d table for %v: %w: %w", l-1, v, ErrFrameExhausted, err)
			}

			if err := h.mem.Zero(f.Address(), addr.PageSize); err != nil {
				return 0, err
			}

			e = uint64(f.Address()) | uint64(PDE64xPRESENT|PDE64xRW)
		case Flags(e)&PDE64xPS != 0:
			return 0, fmt.Errorf("level %d entry for %v: %w", l, v, ErrHugePage)
		default:
			e = (e | uint64(PDE64xRW)) &^ uint64(PDE64xNX)
		}

		if err := h.mem.PutUint64(slot, e); err != nil {
			return 0, err
		}

		table = addr.PhysAddr(e & addrMask)
	}

	return table + addr.PhysAddr(((uint64(v)>>levelShift(level))&(entriesPerPage-1))*entrySize), nil
}

// set installs target|flags into the entry at slot unless it already points
// elsewhere.
func (h *Hierarchy) set(slot addr.PhysAddr, v addr.VirtAddr, target addr.PhysAddr, flags Flags) error {
	old, err := h.mem.Uint64(slot)
	if err != nil {
		return err
	}

	if Flags(old)&PDE64xPRESENT != 0 && addr.PhysAddr(old&addrMask) != target {
		return fmt.Errorf("%v -> %v, already %v: %w", v, target, addr.PhysAddr(old&addrMask), ErrAlreadyMapped)
	}

	return h.mem.PutUint64(slot, uint64(target)|uint64(flags|PDE64xPRESENT))
}

// Map installs a 4 KiB mapping from page to f.
func (h *Hierarchy) Map(page addr.Page, f addr.Frame, flags Flags, src frame.Source) error {
	if err := h.checkMutable(flags&PDE64xNX != 0); err != nil {
		return err
	}

	return h.mapPage(page, f, flags, src)
}

func (h *Hierarchy) mapPage(page addr.Page, f addr.Frame, flags Flags, src frame.Source) error {
	slot, err := h.entry(page.Address(), 1, src)
	if err != nil {
		return err
	}

	return h.set(slot, page.Address(), f.Address(), flags)
}

// Translate walks the hierarchy for v and returns the physical address it
// maps to and the effective flags: RW only if every level allows writes, NX
// if any level forbids execution.
func (h *Hierarchy) Translate(v addr.VirtAddr) (addr.PhysAddr, Flags, error) {
	table := h.root
	eff := PDE64xRW | PDE64xPRESENT

	for l := levels; l >= 1; l-- {
		slot := table + addr.PhysAddr(((uint64(v)>>levelShift(l))&(entriesPerPage-1))*entrySize)

		e, err := h.mem.Uint64(slot)
		if err != nil {
			return 0, 0, err
		}

		flags := Flags(e)
		if flags&PDE64xPRESENT == 0 {
			return 0, 0, fmt.Errorf("%v at level %d: %w", v, l, ErrNotMapped)
		}

		if flags&PDE64xRW == 0 {
			eff &^= PDE64xRW
		}

		eff |= flags & PDE64xNX

		if l == 1 || (l <= 3 && flags&PDE64xPS != 0) {
			span := uint64(1) << levelShift(l)
			base := e & addrMask &^ (span - 1)

			return addr.PhysAddr(base | uint64(v)&(span-1)), eff, nil
		}

		table = addr.PhysAddr(e & addrMask)
	}

	return 0, 0, ErrNotMapped
}
