// Package loader runs the boot sequence: it reads the configuration and the
// kernel from the boot volume, lays out the kernel's address space on top of
// the firmware page tables and hands control over.
package loader

import (
	"errors"
	"fmt"
	"log"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/bootinfo"
	"github.com/bobuhiro11/goboot/config"
	"github.com/bobuhiro11/goboot/efi"
	"github.com/bobuhiro11/goboot/elfload"
	"github.com/bobuhiro11/goboot/frame"
	"github.com/bobuhiro11/goboot/graphics"
	"github.com/bobuhiro11/goboot/handoff"
	"github.com/bobuhiro11/goboot/memmap"
	"github.com/bobuhiro11/goboot/paging"
	"github.com/u-root/u-root/pkg/smbios"
)

var ErrUnsupportedRevision = errors.New("unsupported UEFI revision")

// Memory is guest physical memory.
type Memory interface {
	elfload.Memory
	paging.Memory
}

type Loader struct {
	st  efi.SystemTable
	cpu handoff.CPU
	mem Memory
	log *log.Logger
}

func New(st efi.SystemTable, cpu handoff.CPU, mem Memory, logger *log.Logger) *Loader {
	return &Loader{
		st:  st,
		cpu: cpu,
		mem: mem,
		log: logger,
	}
}

// Prepared is the machine state right before the jump: boot services have
// exited and every mapping is in place.
type Prepared struct {
	Config    *config.Config
	Image     *elfload.Image
	Segments  []elfload.MappedSegment
	Stack     elfload.MappedSegment
	Hierarchy *paging.Hierarchy
	Frames    *frame.Allocator
	Map       *memmap.Map
	Info      bootinfo.BootInfo
	Plan      handoff.Plan
}

// CheckRevision requires a major revision of at least 2 and a minor revision
// of at least 30.
func CheckRevision(rev efi.Revision) error {
	if rev.Major() < 2 || rev.Minor() < 30 {
		return fmt.Errorf("UEFI %v: %w", rev, ErrUnsupportedRevision)
	}

	return nil
}

// Boot prepares the kernel and jumps to it. It only returns on failure.
func (l *Loader) Boot() error {
	p, err := l.Prepare()
	if err != nil {
		return err
	}

	l.log.Printf("entering kernel: %v", p.Plan)

	return handoff.Finalize(l.cpu, p.Plan)
}

// Prepare runs the boot sequence up to, but not including, the jump. All
// validation happens before the first page-table change.
func (l *Loader) Prepare() (*Prepared, error) {
	l.log.Printf("Firmware Vendor: %s", l.st.FirmwareVendor())

	rev := l.st.Revision()
	l.log.Printf("UEFI %v", rev)

	if err := CheckRevision(rev); err != nil {
		return nil, err
	}

	bs := l.st.BootServices()

	vol, err := l.st.Volume()
	if err != nil {
		return nil, fmt.Errorf("boot volume: %w", err)
	}

	files := &fileLoader{bs: bs, mem: l.mem, vol: vol, log: l.log}

	_, text, err := files.load(config.Path)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Parse(string(text))
	if err != nil {
		return nil, err
	}

	gop, err := l.st.GraphicsOutput()
	if err != nil {
		return nil, fmt.Errorf("graphics output: %w", err)
	}

	graphic, err := graphics.Init(gop, cfg.Resolution, l.log)
	if err != nil {
		return nil, err
	}

	l.log.Printf("config: %+v", *cfg)

	acpi, err := efi.FindTable(l.st.ConfigurationTable(), efi.ACPI2GUID)
	if err != nil {
		return nil, fmt.Errorf("ACPI 2 RSDP: %w", err)
	}

	l.log.Printf("acpi2: %v", acpi)

	smbiosAddr, err := efi.FindTable(l.st.ConfigurationTable(), efi.SMBIOSGUID)
	if err != nil {
		return nil, fmt.Errorf("SMBIOS: %w", err)
	}

	l.logSMBIOS(smbiosAddr)

	_, kernel, err := files.load(cfg.KernelPath)
	if err != nil {
		return nil, err
	}

	img, err := elfload.Parse(kernel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.KernelPath, err)
	}

	l.log.Printf("kernel entry %v, %d loadable segments", img.Entry, len(img.Segments))

	info := bootinfo.BootInfo{
		Graphic:              graphic,
		ACPI:                 uint64(acpi),
		SMBIOS:               uint64(smbiosAddr),
		PhysicalMemoryOffset: uint64(cfg.PhysicalMemoryOffset),
	}

	if cfg.Initramfs != "" {
		at, buf, err := files.load(cfg.Initramfs)
		if err != nil {
			return nil, err
		}

		info.Initramfs, info.InitramfsLen = uint64(at), uint64(len(buf))
	}

	snapshot, err := memmap.Snapshot(bs)
	if err != nil {
		return nil, err
	}

	maxPhys := memmap.MaxPhysicalAddress(snapshot.Descriptors)
	l.log.Printf("memory map: %d regions, max physical address %v", snapshot.Len(), maxPhys)

	h, err := paging.Adopt(l.cpu, l.mem)
	if err != nil {
		return nil, err
	}

	frames := frame.NewAllocator(bs)

	segs, err := img.Load(frames, l.mem)
	if err != nil {
		return nil, fmt.Errorf("load kernel: %w", err)
	}

	stack, err := elfload.Anonymous(cfg.KernelStackAddress, cfg.KernelStackSize,
		elfload.PermRead|elfload.PermWrite, frames, l.mem)
	if err != nil {
		return nil, fmt.Errorf("kernel stack: %w", err)
	}

	if err := h.Install(append(segs[:len(segs):len(segs)], stack), frames); err != nil {
		return nil, err
	}

	if cfg.PhysicalMemoryOffset != 0 {
		if err := h.MapPhysicalMemory(cfg.PhysicalMemoryOffset, maxPhys, frames); err != nil {
			return nil, err
		}
	}

	l.log.Printf("mapped %d segments and %d stack pages with %d frames",
		len(segs), stack.Pages, len(frames.Allocated()))

	at, final, err := l.exitBootServices(bs)
	if err != nil {
		return nil, err
	}

	info.MemoryMap = bootinfo.MemoryMap{
		Addr:     uint64(at) + uint64(bootinfo.Size),
		Len:      uint64(final.Len()),
		DescSize: uint64(final.DescriptorSize),
	}

	if err := l.writeBootInfo(at, &info); err != nil {
		return nil, err
	}

	return &Prepared{
		Config:    cfg,
		Image:     img,
		Segments:  segs,
		Stack:     stack,
		Hierarchy: h,
		Frames:    frames,
		Map:       final,
		Info:      info,
		Plan: handoff.Plan{
			Root:     h.Root(),
			Entry:    img.Entry,
			Stack:    cfg.StackTop(),
			BootInfo: at,
		},
	}, nil
}

// exitBootServices allocates room for the boot info and the final memory
// map, takes the map into that room and leaves boot services with its key.
// Nothing may allocate between the snapshot and the exit.
func (l *Loader) exitBootServices(bs efi.BootServices) (addr.PhysAddr, *memmap.Map, error) {
	mapSize, err := memmap.BufferSize(bs)
	if err != nil {
		return 0, nil, err
	}

	total := uint64(bootinfo.Size + mapSize)
	pages := int((total + addr.PageSize - 1) / addr.PageSize)

	at, err := bs.AllocatePages(efi.AllocateAnyPages, efi.EfiLoaderData, pages)
	if err != nil {
		return 0, nil, fmt.Errorf("boot info: %w", err)
	}

	buf, err := l.mem.Slice(at+addr.PhysAddr(bootinfo.Size), uint64(mapSize))
	if err != nil {
		return 0, nil, err
	}

	final, err := memmap.SnapshotInto(bs, buf)
	if err != nil {
		return 0, nil, err
	}

	l.log.Printf("exiting boot services with %d regions", final.Len())

	if err := bs.ExitBootServices(final.MapKey); err != nil {
		return 0, nil, fmt.Errorf("exit boot services: %w", err)
	}

	return at, final, nil
}

func (l *Loader) writeBootInfo(at addr.PhysAddr, info *bootinfo.BootInfo) error {
	b, err := info.Bytes()
	if err != nil {
		return err
	}

	dst, err := l.mem.Slice(at, uint64(len(b)))
	if err != nil {
		return err
	}

	copy(dst, b)

	return nil
}

// logSMBIOS prints the entry point found at p. A table that does not parse is
// reported but not fatal; the kernel gets the address either way.
func (l *Loader) logSMBIOS(p addr.PhysAddr) {
	raw, err := l.mem.Slice(p, 0x20)
	if err != nil {
		l.log.Printf("smbios: %v: %v", p, err)

		return
	}

	e32, e64, err := smbios.ParseEntry(raw)
	if err != nil {
		l.log.Printf("smbios: %v: %v", p, err)

		return
	}

	if e64 != nil {
		l.log.Printf("smbios: %v: %v", p, e64)

		return
	}

	l.log.Printf("smbios: %v: %v", p, e32)
}
