// Package bootinfo defines the record the kernel receives at its entry point.
package bootinfo

import (
	"bytes"
	"encoding/binary"

	"github.com/bobuhiro11/goboot/efi"
)

// Mode mirrors efi.ModeInfo in the layout the kernel reads.
type Mode struct {
	Version     uint32
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Masks       [4]uint32
	Stride      uint32
}

// GraphicInfo describes the display the kernel inherits.
type GraphicInfo struct {
	Mode   Mode
	_      uint32
	FBAddr uint64
	FBSize uint64
}

// MemoryMap locates the final firmware memory map in physical memory.
type MemoryMap struct {
	Addr     uint64
	Len      uint64
	DescSize uint64
}

// BootInfo is written little endian, fields in declaration order. Its physical
// address is the kernel's first argument.
type BootInfo struct {
	Graphic              GraphicInfo
	MemoryMap            MemoryMap
	ACPI                 uint64
	SMBIOS               uint64
	Initramfs            uint64
	InitramfsLen         uint64
	PhysicalMemoryOffset uint64
}

// Size is the encoded size of a BootInfo.
var Size = binary.Size(BootInfo{})

// ModeFrom converts the firmware's mode information.
func ModeFrom(m efi.ModeInfo) Mode {
	return Mode{
		Version:     m.Version,
		Width:       m.HorizontalResolution,
		Height:      m.VerticalResolution,
		PixelFormat: m.PixelFormat,
		Masks: [4]uint32{
			m.PixelInformation.RedMask,
			m.PixelInformation.GreenMask,
			m.PixelInformation.BlueMask,
			m.PixelInformation.ReservedMask,
		},
		Stride: m.PixelsPerScanLine,
	}
}

func (b *BootInfo) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.LittleEndian, b); err != nil {
		return []byte{}, err
	}

	return buf.Bytes(), nil
}

// Decode reads a BootInfo back, as the kernel would.
func Decode(b []byte) (*BootInfo, error) {
	info := &BootInfo{}

	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, info); err != nil {
		return nil, err
	}

	return info, nil
}
