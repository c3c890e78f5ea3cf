// Package config parses the loader configuration file found on the boot
// volume.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bobuhiro11/goboot/addr"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Path is where the configuration lives on the volume.
const Path = `\EFI\Boot\config.conf`

const (
	DefaultKernelPath         = `\EFI\Boot\kernel.elf`
	DefaultKernelStackAddress = addr.VirtAddr(0xFFFF_FF80_0000_0000)
	DefaultKernelStackSize    = 512
)

// Resolution is a display size in pixels.
type Resolution struct {
	Width, Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

type Config struct {
	KernelPath string
	// Initramfs is empty when no initramfs is loaded.
	Initramfs string
	// Resolution is nil when the current display mode is kept.
	Resolution         *Resolution
	KernelStackAddress addr.VirtAddr
	// KernelStackSize is in pages.
	KernelStackSize int
	// PhysicalMemoryOffset is zero when physical memory is not mapped for
	// the kernel.
	PhysicalMemoryOffset addr.VirtAddr
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		KernelPath:         DefaultKernelPath,
		KernelStackAddress: DefaultKernelStackAddress,
		KernelStackSize:    DefaultKernelStackSize,
	}
}

// Parse reads key=value lines. Blank lines and lines starting with # are
// ignored.
func Parse(text string) (*Config, error) {
	c := Default()
	s := bufio.NewScanner(strings.NewReader(text))

	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '=': %w", n, ErrInvalidConfig)
		}

		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if err := c.set(key, value); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w: %w", n, key, ErrInvalidConfig, err)
		}
	}

	if err := s.Err(); err != nil {
		return nil, err
	}

	if err := addr.CheckRange(c.KernelStackAddress, uint64(c.KernelStackSize)*addr.PageSize); err != nil {
		return nil, fmt.Errorf("kernel stack: %w: %w", ErrInvalidConfig, err)
	}

	return c, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "kernel_path":
		if value == "" {
			return errors.New("empty path")
		}

		c.KernelPath = value
	case "initramfs":
		c.Initramfs = value
	case "resolution":
		r, err := parseResolution(value)
		if err != nil {
			return err
		}

		c.Resolution = r
	case "kernel_stack_address":
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}

		if _, err := addr.PageOf(addr.VirtAddr(v)); err != nil {
			return err
		}

		c.KernelStackAddress = addr.VirtAddr(v)
	case "kernel_stack_size":
		v, err := strconv.ParseUint(value, 0, 32)
		if err != nil {
			return err
		}

		if v == 0 {
			return errors.New("stack must have at least one page")
		}

		c.KernelStackSize = int(v)
	case "physical_memory_offset":
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}

		if v&(addr.HugePageSize-1) != 0 || !addr.VirtAddr(v).Canonical() {
			return errors.New("offset must be canonical and 2 MiB aligned")
		}

		c.PhysicalMemoryOffset = addr.VirtAddr(v)
	default:
		return errors.New("unknown key")
	}

	return nil
}

func parseResolution(s string) (*Resolution, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return nil, fmt.Errorf("%q is not WxH", s)
	}

	width, err := strconv.Atoi(w)
	if err != nil {
		return nil, err
	}

	height, err := strconv.Atoi(h)
	if err != nil {
		return nil, err
	}

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%q is not WxH", s)
	}

	return &Resolution{Width: width, Height: height}, nil
}

// StackTop returns the initial stack pointer: the end of the stack region.
func (c *Config) StackTop() addr.VirtAddr {
	return c.KernelStackAddress + addr.VirtAddr(c.KernelStackSize)*addr.PageSize
}

// FSPath converts a UEFI path such as \EFI\Boot\kernel.elf into an io/fs path.
func FSPath(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, `\`, "/"), "/")
}
