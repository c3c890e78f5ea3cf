package vmm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"unsafe"

	guestcpuid "github.com/bobuhiro11/goboot/cpuid"
	"github.com/bobuhiro11/goboot/device"
	"github.com/bobuhiro11/goboot/kvm"
	"github.com/bobuhiro11/goboot/memory"
	"golang.org/x/sys/unix"
)

// ErrHalted is returned once the vCPU executes HLT with interrupts off,
// which is where a kernel without a console driver ends up.
var ErrHalted = errors.New("vcpu halted")

// Machine is a single-vCPU KVM guest with memory from guest physical 0.
type Machine struct {
	devKVM              *os.File
	kvmFd, vmFd, vcpuFd uintptr

	run    *kvm.RunData
	runMem []byte

	mem  []byte
	phys *memory.Physical

	bus device.Bus
	log *log.Logger
}

func NewMachine(memSize int, logger *log.Logger) (*Machine, error) {
	m := &Machine{log: logger}

	var err error

	m.devKVM, err = os.OpenFile("/dev/kvm", os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf(`/dev/kvm: %w`, err)
	}

	m.kvmFd = m.devKVM.Fd()

	if err := m.init(memSize); err != nil {
		m.Close()

		return nil, err
	}

	return m, nil
}

func (m *Machine) init(memSize int) error {
	if err := kvm.CheckAPIVersion(m.kvmFd); err != nil {
		return err
	}

	var err error

	if m.vmFd, err = kvm.CreateVM(m.kvmFd); err != nil {
		return fmt.Errorf("CreateVM: %w", err)
	}

	if err := kvm.SetTSSAddr(m.vmFd); err != nil {
		return fmt.Errorf("SetTSSAddr: %w", err)
	}

	if m.vcpuFd, err = kvm.CreateVCPU(m.vmFd, 0); err != nil {
		return fmt.Errorf("CreateVCPU: %w", err)
	}

	cpuid := kvm.CPUID{Nent: uint32(len(kvm.CPUID{}.Entries))}
	if err := kvm.GetSupportedCPUID(m.kvmFd, &cpuid); err != nil {
		return fmt.Errorf("GetSupportedCPUID: %w", err)
	}

	if err := guestcpuid.Check(&cpuid); err != nil {
		return err
	}

	if err := kvm.SetCPUID2(m.vcpuFd, &cpuid); err != nil {
		return fmt.Errorf("SetCPUID2: %w", err)
	}

	mmapSize, err := kvm.GetVCPUMMmapSize(m.kvmFd)
	if err != nil {
		return err
	}

	m.runMem, err = unix.Mmap(int(m.vcpuFd), 0, int(mmapSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap kvm_run: %w", err)
	}

	m.run = (*kvm.RunData)(unsafe.Pointer(&m.runMem[0]))

	m.mem, err = unix.Mmap(-1, 0, memSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("mmap guest memory: %w", err)
	}

	err = kvm.SetUserMemoryRegion(m.vmFd, &kvm.UserspaceMemoryRegion{
		Slot: 0, Flags: 0, GuestPhysAddr: 0, MemorySize: uint64(memSize),
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&m.mem[0]))),
	})
	if err != nil {
		return fmt.Errorf("SetUserMemoryRegion: %w", err)
	}

	m.phys = memory.NewPhysical(m.mem)

	return nil
}

// Memory is guest physical memory.
func (m *Machine) Memory() *memory.Physical {
	return m.phys
}

// AddDevice claims the device's ports.
func (m *Machine) AddDevice(d device.IODevice) error {
	return m.bus.Register(d)
}

func (m *Machine) Close() error {
	var errs []error

	for _, b := range [][]byte{m.runMem, m.mem} {
		if b != nil {
			errs = append(errs, unix.Munmap(b))
		}
	}

	for _, fd := range []uintptr{m.vcpuFd, m.vmFd} {
		if fd != 0 {
			errs = append(errs, unix.Close(int(fd)))
		}
	}

	errs = append(errs, m.devKVM.Close())

	return errors.Join(errs...)
}

// RunInfiniteLoop runs the vCPU until it halts, a device stops it, or ctx is
// done.
func (m *Machine) RunInfiniteLoop(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { m.run.ImmediateExit = 1 })
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cont, err := m.RunOnce()
		if err != nil {
			return err
		}

		if !cont {
			return ErrHalted
		}
	}
}

// RunOnce enters the guest once and handles the exit. It reports false when
// the vCPU halted.
func (m *Machine) RunOnce() (bool, error) {
	err := kvm.Run(m.vcpuFd)
	if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
		// a signal or ImmediateExit; the caller checks why
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("KVM_RUN: %w", err)
	}

	switch exit := m.run.Exit(); exit {
	case kvm.EXITHLT:
		return false, nil
	case kvm.EXITIO:
		return true, m.handleIO()
	case kvm.EXITMMIO:
		// nothing is mapped above RAM but the frame buffer, which has no
		// backing; reads come back as zero
		m.run.Data[1] = 0

		return true, nil
	case kvm.EXITUNKNOWN, kvm.EXITINTR:
		return true, nil
	case kvm.EXITFAILENTRY:
		return false, fmt.Errorf("%w: %v, hardware reason %#x", kvm.ErrUnexpectedExitReason, exit, m.run.FailEntry())
	default:
		rip := uint64(0)
		if regs, err := kvm.GetRegs(m.vcpuFd); err == nil {
			rip = regs.RIP
		}

		return false, fmt.Errorf("%w: %v at RIP %#x", kvm.ErrUnexpectedExitReason, exit, rip)
	}
}

func (m *Machine) handleIO() error {
	direction, size, port, count, offset := m.run.IO()

	if offset+size*count > uint64(len(m.runMem)) {
		return fmt.Errorf("%w: port %#x data at %#x+%d*%d", kvm.ErrUnexpectedExitReason, port, offset, size, count)
	}

	for i := uint64(0); i < count; i++ {
		data := m.runMem[offset+i*size : offset+(i+1)*size]

		var err error
		if direction == kvm.EXITIOOUT {
			err = m.bus.Out(port, data)
		} else {
			err = m.bus.In(port, data)
		}

		if err != nil {
			return err
		}
	}

	return nil
}
