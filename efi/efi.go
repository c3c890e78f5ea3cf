// Package efi describes the pre-boot platform services the loader consumes.
// The contracts follow the UEFI boot services the loader relies on; backends
// implement them either in-process (package platform) or on top of a KVM
// guest (package vmm).
package efi

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/bobuhiro11/goboot/addr"
)

// Status errors. Every one of them is fatal for the boot attempt.
var (
	ErrOutOfResources     = errors.New("EFI_OUT_OF_RESOURCES")
	ErrBufferTooSmall     = errors.New("EFI_BUFFER_TOO_SMALL")
	ErrNotFound           = errors.New("EFI_NOT_FOUND")
	ErrInvalidParameter   = errors.New("EFI_INVALID_PARAMETER")
	ErrUnsupported        = errors.New("EFI_UNSUPPORTED")
	ErrBootServicesExited = errors.New("boot services already exited")
	ErrTableNotFound      = errors.New("configuration table not found")
)

// EFI_ALLOCATE_TYPE
const (
	AllocateAnyPages = iota
	AllocateMaxAddress
	AllocateAddress
)

// Revision is EFI_TABLE_HEADER.Revision: major in the upper 16 bits, minor
// (times ten) in the lower 16.
type Revision uint32

func NewRevision(major, minor uint16) Revision {
	return Revision(uint32(major)<<16 | uint32(minor))
}

func (r Revision) Major() uint16 { return uint16(r >> 16) }

func (r Revision) Minor() uint16 { return uint16(r) }

func (r Revision) String() string {
	return fmt.Sprintf("%d.%d", r.Major(), r.Minor()/10)
}

// BootServices is the subset of EFI_BOOT_SERVICES used before handoff.
type BootServices interface {
	// AllocatePages returns the physical address of pages contiguous,
	// page-aligned bytes tagged with memType.
	AllocatePages(allocateType int, memType MemoryType, pages int) (addr.PhysAddr, error)

	// MemoryMapSize returns the buffer size the next GetMemoryMap call
	// needs and the size of one descriptor.
	MemoryMapSize() (size int, descriptorSize int, err error)

	// GetMemoryMap writes the current memory map into buf. It fails with
	// ErrBufferTooSmall when buf cannot hold every descriptor.
	GetMemoryMap(buf []byte) (n int, mapKey uint64, descriptorSize int, err error)

	// ExitBootServices ends the boot services phase. mapKey must come
	// from the latest GetMemoryMap call.
	ExitBootServices(mapKey uint64) error
}

// SystemTable is what the loader receives at its entry point.
type SystemTable interface {
	FirmwareVendor() string
	Revision() Revision
	BootServices() BootServices
	ConfigurationTable() []ConfigTable
	// Volume is the file system the loader image was started from.
	Volume() (fs.FS, error)
	GraphicsOutput() (GraphicsOutput, error)
}
