package efi

import "github.com/bobuhiro11/goboot/addr"

// EFI_GRAPHICS_PIXEL_FORMAT
const (
	PixelRedGreenBlueReserved8BitPerColor = iota
	PixelBlueGreenRedReserved8BitPerColor
	PixelBitMask
	PixelBltOnly
)

// PixelBitmask is EFI_PIXEL_BITMASK.
type PixelBitmask struct {
	RedMask      uint32
	GreenMask    uint32
	BlueMask     uint32
	ReservedMask uint32
}

// ModeInfo is EFI_GRAPHICS_OUTPUT_MODE_INFORMATION.
type ModeInfo struct {
	Version              uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          uint32
	PixelInformation     PixelBitmask
	PixelsPerScanLine    uint32
}

// Resolution returns the mode size in pixels.
func (m ModeInfo) Resolution() (int, int) {
	return int(m.HorizontalResolution), int(m.VerticalResolution)
}

// GraphicsOutput is the subset of EFI_GRAPHICS_OUTPUT_PROTOCOL used to pick a
// display mode and describe the frame buffer to the kernel.
type GraphicsOutput interface {
	Modes() []ModeInfo
	SetMode(mode int) error
	CurrentMode() ModeInfo
	FrameBuffer() (base addr.PhysAddr, size uint64)
}
