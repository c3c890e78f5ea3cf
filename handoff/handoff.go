// Package handoff transfers control to the kernel.
package handoff

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/paging"
)

// ErrKernelReturned marks a state that must be unreachable: the kernel entry
// returned to the loader.
var ErrKernelReturned = errors.New("kernel entry returned")

// CPU is the core the loader runs on.
type CPU interface {
	paging.Registers

	// Enter jumps to entry with stack as the stack pointer and arg as the
	// first integer argument (RDI). It does not return on success.
	Enter(entry, stack addr.VirtAddr, arg addr.PhysAddr) error
}

// Plan is everything the jump needs. It is built once all mappings are in
// place and boot services have exited.
type Plan struct {
	Root     addr.PhysAddr
	Entry    addr.VirtAddr
	Stack    addr.VirtAddr
	BootInfo addr.PhysAddr
}

func (p Plan) String() string {
	return fmt.Sprintf("root=%v entry=%v stack=%v bootinfo=%v", p.Root, p.Entry, p.Stack, p.BootInfo)
}

// Finalize activates the hierarchy rooted at plan.Root and enters the kernel.
// Any return is an error.
func Finalize(cpu CPU, plan Plan) error {
	if !plan.Root.Aligned() {
		return fmt.Errorf("root %v: %w", plan.Root, addr.ErrUnaligned)
	}

	if err := cpu.SetCR3(uint64(plan.Root)); err != nil {
		return fmt.Errorf("load CR3: %w", err)
	}

	if err := cpu.Enter(plan.Entry, plan.Stack, plan.BootInfo); err != nil {
		return fmt.Errorf("enter kernel at %v: %w", plan.Entry, err)
	}

	return ErrKernelReturned
}
