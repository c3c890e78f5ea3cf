package flag

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/goboot/probe"
	"github.com/bobuhiro11/goboot/vmm"
	tty "github.com/mattn/go-tty"
	"github.com/pkg/profile"
)

const (
	programName = "goboot"
	programDesc = "goboot loads an ELF kernel from an EFI volume into a fresh address space and hands over to it"
)

func options() []kong.Option {
	return []kong.Option{
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	}
}

// New returns the parser for c.
func New(c *CLI) (*kong.Kong, error) {
	return kong.New(c, options()...)
}

func Parse() error {
	c := CLI{}

	ctx := kong.Parse(&c, options()...)

	err := ctx.Run()

	return err
}

func (d *ProbeCMD) Run() error {
	return probe.Host(os.Stdout)
}

func (s *InspectCMD) Run() error {
	kernel, err := os.ReadFile(s.Kernel)
	if err != nil {
		return err
	}

	if err := Inspect(os.Stdout, kernel); err != nil {
		return err
	}

	if !s.MemMap {
		return nil
	}

	memSize, err := ParseSize(s.MemSize, "g")
	if err != nil {
		return err
	}

	return PrintMemoryMap(os.Stdout, memSize)
}

func (s *DisasmCMD) Run() error {
	memSize, err := ParseSize(s.MemSize, "g")
	if err != nil {
		return err
	}

	return Disasm(os.Stdout, os.DirFS(s.Volume), memSize, s.Count, log.Default())
}

func (s *BootCMD) Run() error {
	memSize, err := ParseSize(s.MemSize, "g")
	if err != nil {
		return err
	}

	if s.Profile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(s.Profile), profile.Quiet).Stop()
	}

	vol := os.DirFS(s.Volume)

	if s.DryRun {
		return DryRun(os.Stdout, vol, memSize, log.Default())
	}

	var console io.Writer = os.Stdout

	if s.Console != "" {
		t, err := tty.OpenDevice(s.Console)
		if err != nil {
			return err
		}
		defer t.Close()

		restore := t.MustRaw()
		defer restore()

		console = t.Output()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	v := vmm.New(vmm.Config{
		MemSize: memSize,
		Volume:  vol,
		Console: console,
		Logger:  log.Default(),
	})

	if err := v.Init(); err != nil {
		if v.Machine != nil {
			v.Close()
		}

		return err
	}

	defer v.Close()

	err = v.Boot(ctx)
	if errors.Is(err, context.Canceled) {
		log.Printf("interrupted")

		return nil
	}

	return err
}
