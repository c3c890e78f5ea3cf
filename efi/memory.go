package efi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/u-root/u-root/pkg/boot/bzimage"
)

// MemoryType is EFI_MEMORY_TYPE.
type MemoryType uint32

const (
	EfiReservedMemoryType MemoryType = iota
	EfiLoaderCode
	EfiLoaderData
	EfiBootServicesCode
	EfiBootServicesData
	EfiRuntimeServicesCode
	EfiRuntimeServicesData
	EfiConventionalMemory
	EfiUnusableMemory
	EfiACPIReclaimMemory
	EfiACPIMemoryNVS
	EfiMemoryMappedIO
	EfiMemoryMappedIOPortSpace
	EfiPalCode
	EfiPersistentMemory
	EfiMaxMemoryType
)

var memoryTypeNames = [...]string{
	"Reserved", "LoaderCode", "LoaderData", "BootServicesCode",
	"BootServicesData", "RuntimeServicesCode", "RuntimeServicesData",
	"Conventional", "Unusable", "ACPIReclaim", "ACPINVS", "MMIO",
	"MMIOPortSpace", "PalCode", "Persistent",
}

func (t MemoryType) String() string {
	if int(t) < len(memoryTypeNames) {
		return memoryTypeNames[t]
	}

	return fmt.Sprintf("MemoryType(%d)", uint32(t))
}

// Advanced Configuration and Power Interface Specification (ACPI)
// Version 6.0 - Table 15-312 Address Range Types
const AddressRangePersistentMemory = 7

// MemoryDescriptorSize is the size of an encoded MemoryDescriptor.
const MemoryDescriptorSize = 48

// MemoryDescriptor is EFI_MEMORY_DESCRIPTOR, padded to the 48-byte stride
// firmware commonly reports.
type MemoryDescriptor struct {
	Type          MemoryType
	_             uint32
	PhysicalStart addr.PhysAddr
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
	_             uint64
}

// PhysicalEnd returns the first address past the region.
func (d *MemoryDescriptor) PhysicalEnd() addr.PhysAddr {
	return d.PhysicalStart + addr.PhysAddr(d.NumberOfPages*addr.PageSize)
}

// Bytes encodes d in its firmware layout.
func (d *MemoryDescriptor) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, d); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}

// DecodeMemoryDescriptor reads one descriptor from b.
func DecodeMemoryDescriptor(b []byte) (MemoryDescriptor, error) {
	d := MemoryDescriptor{}

	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &d); err != nil {
		return d, err
	}

	return d, nil
}

// E820 converts an EFI Memory Map entry to an x86 E820 one suitable for use
// after exiting EFI Boot Services.
func (d *MemoryDescriptor) E820() bzimage.E820Entry {
	e := bzimage.E820Entry{
		Addr: uint64(d.PhysicalStart),
		Size: d.NumberOfPages * addr.PageSize,
	}

	// Unified Extensible Firmware Interface (UEFI) Specification
	// Version 2.10 - Table 7.10: Memory Type Usage after ExitBootServices()
	switch d.Type {
	case EfiLoaderCode, EfiLoaderData, EfiBootServicesCode, EfiBootServicesData, EfiConventionalMemory:
		e.MemType = bzimage.RAM
	case EfiPersistentMemory:
		e.MemType = AddressRangePersistentMemory
	case EfiACPIReclaimMemory:
		e.MemType = bzimage.ACPI
	case EfiACPIMemoryNVS:
		e.MemType = bzimage.NVS
	default:
		e.MemType = bzimage.Reserved
	}

	return e
}
