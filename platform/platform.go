// Package platform is an in-process pre-boot firmware. It owns guest physical
// memory, keeps a UEFI memory map, publishes ACPI and SMBIOS tables, starts the
// core in long mode on an identity-mapped, write-protected page-table
// hierarchy and serves boot services until ExitBootServices.
package platform

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/bobuhiro11/goboot/acpi"
	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/efi"
	"github.com/bobuhiro11/goboot/memory"
)

// Guest physical layout.
const (
	PageTableBase   = 0x1000
	LowMemoryEnd    = 0xa_0000
	ACPIBase        = 0xe_0000
	SMBIOSBase      = 0xf_0000
	HighMemoryStart = 0x10_0000

	// FrameBufferBase sits in the 32-bit MMIO hole, above any RAM.
	FrameBufferBase = 0xc000_0000

	MinMemSize = 16 << 20
	MaxMemSize = FrameBufferBase
)

var (
	ErrMemSize  = errors.New("unsupported guest memory size")
	ErrNoVolume = errors.New("no boot volume")
)

// DefaultRevision is reported when Config.Revision is zero.
var DefaultRevision = efi.NewRevision(2, 70)

// DefaultModes are reported when Config.Modes is empty.
var DefaultModes = []efi.ModeInfo{
	mode(640, 480),
	mode(800, 600),
	mode(1024, 768),
	mode(1280, 720),
}

func mode(w, h uint32) efi.ModeInfo {
	return efi.ModeInfo{
		HorizontalResolution: w,
		VerticalResolution:   h,
		PixelFormat:          efi.PixelBlueGreenRedReserved8BitPerColor,
		PixelsPerScanLine:    w,
	}
}

type Config struct {
	Vendor   string
	Revision efi.Revision
	CPUs     int
	Modes    []efi.ModeInfo
	Volume   fs.FS
}

// Firmware implements efi.SystemTable and efi.BootServices over a guest
// memory.
type Firmware struct {
	cfg    Config
	mem    *memory.Physical
	cpu    *CPU
	gop    *GOP
	tables []efi.ConfigTable

	descs  []efi.MemoryDescriptor
	mapKey uint64
	exited bool
}

// New lays out guest memory and brings the firmware up. Everything that is
// not in use by the firmware is reported as conventional memory and filled
// with memory.Poison.
func New(mem *memory.Physical, cfg Config) (*Firmware, error) {
	size := mem.Size()
	if size < MinMemSize || size > MaxMemSize || size%addr.PageSize != 0 {
		return nil, fmt.Errorf("%d bytes: %w", size, ErrMemSize)
	}

	if cfg.Vendor == "" {
		cfg.Vendor = "goboot"
	}

	if cfg.Revision == 0 {
		cfg.Revision = DefaultRevision
	}

	if cfg.CPUs == 0 {
		cfg.CPUs = 1
	}

	if len(cfg.Modes) == 0 {
		cfg.Modes = DefaultModes
	}

	f := &Firmware{
		cfg: cfg,
		mem: mem,
		gop: newGOP(cfg.Modes, FrameBufferBase),
	}

	tablePages, err := f.buildPageTables()
	if err != nil {
		return nil, err
	}

	f.cpu = newCPU(PageTableBase)

	tablesEnd := addr.PhysAddr(PageTableBase + tablePages*addr.PageSize)
	f.descs = []efi.MemoryDescriptor{
		region(efi.EfiReservedMemoryType, 0, PageTableBase),
		region(efi.EfiBootServicesData, PageTableBase, tablesEnd),
		region(efi.EfiConventionalMemory, tablesEnd, LowMemoryEnd),
		region(efi.EfiReservedMemoryType, LowMemoryEnd, ACPIBase),
		region(efi.EfiACPIReclaimMemory, ACPIBase, ACPIBase+addr.PageSize),
		region(efi.EfiReservedMemoryType, ACPIBase+addr.PageSize, SMBIOSBase),
		region(efi.EfiRuntimeServicesData, SMBIOSBase, SMBIOSBase+addr.PageSize),
		region(efi.EfiReservedMemoryType, SMBIOSBase+addr.PageSize, HighMemoryStart),
		region(efi.EfiConventionalMemory, HighMemoryStart, addr.PhysAddr(size)),
		region(efi.EfiMemoryMappedIO, FrameBufferBase, FrameBufferBase+addr.PhysAddr(f.gop.size()).AlignUp()),
	}

	for i := range f.descs {
		d := &f.descs[i]
		if d.Type != efi.EfiConventionalMemory {
			continue
		}

		if err := mem.Fill(d.PhysicalStart, d.NumberOfPages*addr.PageSize); err != nil {
			return nil, err
		}
	}

	if err := f.publishTables(); err != nil {
		return nil, err
	}

	return f, nil
}

func region(t efi.MemoryType, start, end addr.PhysAddr) efi.MemoryDescriptor {
	return efi.MemoryDescriptor{
		Type:          t,
		PhysicalStart: start,
		NumberOfPages: uint64(end-start) / addr.PageSize,
	}
}

func (f *Firmware) publishTables() error {
	img, err := acpi.Build(ACPIBase, f.cfg.CPUs)
	if err != nil {
		return fmt.Errorf("acpi: %w", err)
	}

	if _, err := f.mem.WriteAt(img, ACPIBase); err != nil {
		return fmt.Errorf("acpi: %w", err)
	}

	smbios, err := buildSMBIOS(SMBIOSBase, f.cfg.Vendor)
	if err != nil {
		return fmt.Errorf("smbios: %w", err)
	}

	if _, err := f.mem.WriteAt(smbios, SMBIOSBase); err != nil {
		return fmt.Errorf("smbios: %w", err)
	}

	f.tables = []efi.ConfigTable{
		{GUID: efi.ACPI2GUID, Address: ACPIBase},
		{GUID: efi.SMBIOSGUID, Address: SMBIOSBase},
	}

	return nil
}

func (f *Firmware) FirmwareVendor() string { return f.cfg.Vendor }

func (f *Firmware) Revision() efi.Revision { return f.cfg.Revision }

func (f *Firmware) BootServices() efi.BootServices { return f }

func (f *Firmware) ConfigurationTable() []efi.ConfigTable { return f.tables }

func (f *Firmware) Volume() (fs.FS, error) {
	if f.cfg.Volume == nil {
		return nil, ErrNoVolume
	}

	return f.cfg.Volume, nil
}

func (f *Firmware) GraphicsOutput() (efi.GraphicsOutput, error) { return f.gop, nil }

// CPU returns the core the loader runs on.
func (f *Firmware) CPU() *CPU { return f.cpu }

// Memory returns guest physical memory.
func (f *Firmware) Memory() *memory.Physical { return f.mem }

// Exited reports whether ExitBootServices succeeded.
func (f *Firmware) Exited() bool { return f.exited }
