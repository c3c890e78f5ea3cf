package platform

import (
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/paging"
)

// CPU is a simulated core. Enter records where the kernel would start instead
// of executing it.
type CPU struct {
	cr0, cr3, cr4, efer uint64

	Entered bool
	Entry   addr.VirtAddr
	Stack   addr.VirtAddr
	Arg     addr.PhysAddr
}

// newCPU returns a core in long mode with paging and write protection on and
// no-execute support off, as firmware leaves it.
func newCPU(root addr.PhysAddr) *CPU {
	return &CPU{
		cr0:  paging.CR0xPE | paging.CR0xMP | paging.CR0xET | paging.CR0xNE | paging.CR0xWP | paging.CR0xPG,
		cr3:  uint64(root),
		cr4:  paging.CR4xPAE,
		efer: paging.EFERxSCE | paging.EFERxLME | paging.EFERxLMA,
	}
}

func (c *CPU) CR0() (uint64, error) { return c.cr0, nil }

func (c *CPU) SetCR0(v uint64) error {
	if v&paging.CR0xPG == 0 {
		return fmt.Errorf("cr0 %#x: leaving long mode is not supported", v)
	}

	c.cr0 = v

	return nil
}

func (c *CPU) CR3() (uint64, error) { return c.cr3, nil }

func (c *CPU) SetCR3(v uint64) error {
	c.cr3 = v

	return nil
}

func (c *CPU) CR4() (uint64, error) { return c.cr4, nil }

func (c *CPU) EFER() (uint64, error) { return c.efer, nil }

func (c *CPU) SetEFER(v uint64) error {
	if v&paging.EFERxLME == 0 {
		return fmt.Errorf("efer %#x: leaving long mode is not supported", v)
	}

	c.efer = v

	return nil
}

// Enter records the jump and returns, which a real core never does.
func (c *CPU) Enter(entry, stack addr.VirtAddr, arg addr.PhysAddr) error {
	c.Entered = true
	c.Entry, c.Stack, c.Arg = entry, stack, arg

	return nil
}
