// Package graphics selects the display mode handed over to the kernel.
package graphics

import (
	"errors"
	"fmt"
	"log"

	"github.com/bobuhiro11/goboot/bootinfo"
	"github.com/bobuhiro11/goboot/config"
	"github.com/bobuhiro11/goboot/efi"
)

var ErrModeNotFound = errors.New("graphic mode not found")

// Init switches gop to the requested resolution, if any, and describes the
// resulting mode and frame buffer.
func Init(gop efi.GraphicsOutput, res *config.Resolution, logger *log.Logger) (bootinfo.GraphicInfo, error) {
	if res != nil {
		mode := -1

		for i, m := range gop.Modes() {
			if w, h := m.Resolution(); w == res.Width && h == res.Height {
				mode = i

				break
			}
		}

		if mode < 0 {
			return bootinfo.GraphicInfo{}, fmt.Errorf("%v: %w", res, ErrModeNotFound)
		}

		logger.Printf("switching graphic mode to %v (mode %d)\n", res, mode)

		if err := gop.SetMode(mode); err != nil {
			return bootinfo.GraphicInfo{}, fmt.Errorf("set mode %d: %w", mode, err)
		}
	}

	base, size := gop.FrameBuffer()

	return bootinfo.GraphicInfo{
		Mode:   bootinfo.ModeFrom(gop.CurrentMode()),
		FBAddr: uint64(base),
		FBSize: size,
	}, nil
}
