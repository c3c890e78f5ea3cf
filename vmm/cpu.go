package vmm

import (
	"context"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/kvm"
	"github.com/bobuhiro11/goboot/paging"
)

const (
	codeSelector = 1 << 3
	dataSelector = 2 << 3

	segTypeCode = 0xb // execute/read, accessed
	segTypeData = 0x3 // read/write, accessed

	rflagsReserved = 1 << 1
)

// VCPU is the KVM vCPU seen as the core the loader runs on. Control register
// accesses go straight to the vCPU state.
type VCPU struct {
	m   *Machine
	ctx context.Context
}

// CPU returns the vCPU; the kernel it enters runs until ctx is done.
func (m *Machine) CPU(ctx context.Context) *VCPU {
	return &VCPU{m: m, ctx: ctx}
}

func (c *VCPU) sregs(f func(s *kvm.Sregs)) error {
	s, err := kvm.GetSregs(c.m.vcpuFd)
	if err != nil {
		return err
	}

	f(s)

	return kvm.SetSregs(c.m.vcpuFd, s)
}

func (c *VCPU) get(f func(s *kvm.Sregs) uint64) (uint64, error) {
	s, err := kvm.GetSregs(c.m.vcpuFd)
	if err != nil {
		return 0, err
	}

	return f(s), nil
}

func (c *VCPU) CR0() (uint64, error) { return c.get(func(s *kvm.Sregs) uint64 { return s.CR0 }) }

func (c *VCPU) CR3() (uint64, error) { return c.get(func(s *kvm.Sregs) uint64 { return s.CR3 }) }

func (c *VCPU) EFER() (uint64, error) { return c.get(func(s *kvm.Sregs) uint64 { return s.EFER }) }

func (c *VCPU) SetCR0(v uint64) error { return c.sregs(func(s *kvm.Sregs) { s.CR0 = v }) }

func (c *VCPU) SetCR3(v uint64) error { return c.sregs(func(s *kvm.Sregs) { s.CR3 = v }) }

func (c *VCPU) SetEFER(v uint64) error { return c.sregs(func(s *kvm.Sregs) { s.EFER = v }) }

// FirmwareState is the control register state firmware leaves the core in.
type FirmwareState interface {
	paging.Registers
	CR4() (uint64, error)
}

// Reset puts the vCPU in the state fw describes: long mode with paging on
// and flat segments.
func (c *VCPU) Reset(fw FirmwareState) error {
	var (
		regs [4]uint64
		err  error
	)

	for i, get := range []func() (uint64, error){fw.CR0, fw.CR3, fw.CR4, fw.EFER} {
		if regs[i], err = get(); err != nil {
			return err
		}
	}

	return c.sregs(func(s *kvm.Sregs) {
		s.CR0, s.CR3, s.CR4, s.EFER = regs[0], regs[1], regs[2], regs[3]
		flatSegments(s)
	})
}

func flatSegments(s *kvm.Sregs) {
	s.CS = kvm.Segment{
		Limit: 0xffffffff, Selector: codeSelector, Typ: segTypeCode,
		Present: 1, S: 1, L: 1, G: 1,
	}

	data := kvm.Segment{
		Limit: 0xffffffff, Selector: dataSelector, Typ: segTypeData,
		Present: 1, S: 1, DB: 1, G: 1,
	}
	s.DS, s.ES, s.FS, s.GS, s.SS = data, data, data, data, data
}

// Enter starts the kernel and runs it. It returns ErrHalted when the kernel
// halts, or the error of the device or exit that stopped it.
func (c *VCPU) Enter(entry, stack addr.VirtAddr, arg addr.PhysAddr) error {
	if err := c.sregs(flatSegments); err != nil {
		return err
	}

	err := kvm.SetRegs(c.m.vcpuFd, &kvm.Regs{
		RIP:    uint64(entry),
		RSP:    uint64(stack),
		RDI:    uint64(arg),
		RFLAGS: rflagsReserved,
	})
	if err != nil {
		return err
	}

	c.m.log.Printf("vcpu: RIP %v RSP %v RDI %v", entry, stack, arg)

	return c.m.RunInfiniteLoop(c.ctx)
}
