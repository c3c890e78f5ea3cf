// Package vmm boots the loader inside a KVM guest: guest memory is laid out
// by the platform firmware, and the kernel runs on a real vCPU with its COM1
// output copied to a console.
package vmm

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"

	"github.com/bobuhiro11/goboot/device"
	"github.com/bobuhiro11/goboot/iodev"
	"github.com/bobuhiro11/goboot/loader"
	"github.com/bobuhiro11/goboot/platform"
	"github.com/bobuhiro11/goboot/serial"
	"golang.org/x/sync/errgroup"
)

// consoleBuffer is how many bytes COM1 holds before the vCPU waits for the
// console.
const consoleBuffer = 4096

type Config struct {
	MemSize int
	Volume  fs.FS
	Console io.Writer
	Logger  *log.Logger
}

type VMM struct {
	*Machine
	Config

	fw  *platform.Firmware
	out chan byte
}

func New(c Config) *VMM {
	return &VMM{
		Machine: nil,
		Config:  c,
	}
}

// Init instantiates the machine and the firmware in its memory.
func (v *VMM) Init() error {
	m, err := NewMachine(v.MemSize, v.Logger)
	if err != nil {
		return err
	}

	v.Machine = m

	v.fw, err = platform.New(m.Memory(), platform.Config{Volume: v.Volume})
	if err != nil {
		return err
	}

	v.out = make(chan byte, consoleBuffer)

	devs := []device.IODevice{
		serial.New(v.out),
		iodev.NewACPIShutDownEvent(v.Logger),
		&device.PostCodeDevice{Log: v.Logger},
	}
	for _, d := range iodev.Legacy() {
		devs = append(devs, d)
	}

	for _, d := range devs {
		if err := m.AddDevice(d); err != nil {
			return err
		}
	}

	return nil
}

// Boot runs the loader on the vCPU. The kernel halting or powering off is a
// clean end and returns nil.
func (v *VMM) Boot(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(v.out)

		cpu := v.CPU(ctx)
		if err := cpu.Reset(v.fw.CPU()); err != nil {
			return err
		}

		err := loader.New(v.fw, cpu, v.Memory(), v.Logger).Boot()

		switch {
		case errors.Is(err, ErrHalted):
			v.Logger.Printf("kernel halted")

			return nil
		case errors.Is(err, iodev.ErrShutdown):
			v.Logger.Printf("kernel powered off")

			return nil
		}

		return err
	})

	g.Go(func() error {
		return pump(v.Console, v.out)
	})

	return g.Wait()
}

// pump copies console bytes until the channel closes. After a write error it
// keeps draining so that the vCPU never blocks on a full UART.
func pump(w io.Writer, in <-chan byte) error {
	var err error

	for b := range in {
		if err != nil {
			continue
		}

		_, err = w.Write([]byte{b})
	}

	return err
}
