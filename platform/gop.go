package platform

import (
	"fmt"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/efi"
)

// GOP is a graphics output device with a linear 32 bpp frame buffer.
type GOP struct {
	modes   []efi.ModeInfo
	current int
	base    addr.PhysAddr
}

func newGOP(modes []efi.ModeInfo, base addr.PhysAddr) *GOP {
	return &GOP{modes: modes, base: base}
}

// size returns the frame buffer size of the largest mode.
func (g *GOP) size() uint64 {
	largest := uint64(0)

	for _, m := range g.modes {
		if s := modeSize(m); s > largest {
			largest = s
		}
	}

	return largest
}

func modeSize(m efi.ModeInfo) uint64 {
	return uint64(m.PixelsPerScanLine) * uint64(m.VerticalResolution) * 4
}

func (g *GOP) Modes() []efi.ModeInfo { return g.modes }

func (g *GOP) SetMode(mode int) error {
	if mode < 0 || mode >= len(g.modes) {
		return fmt.Errorf("mode %d: %w", mode, efi.ErrUnsupported)
	}

	g.current = mode

	return nil
}

func (g *GOP) CurrentMode() efi.ModeInfo { return g.modes[g.current] }

func (g *GOP) FrameBuffer() (addr.PhysAddr, uint64) {
	return g.base, modeSize(g.CurrentMode())
}
