package flag

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"

	"github.com/bobuhiro11/goboot/disasm"
	"github.com/bobuhiro11/goboot/elfload"
	"github.com/bobuhiro11/goboot/handoff"
	"github.com/bobuhiro11/goboot/loader"
	"github.com/bobuhiro11/goboot/memmap"
	"github.com/bobuhiro11/goboot/memory"
	"github.com/bobuhiro11/goboot/platform"
)

// Inspect prints the entry point and the loadable segments of kernel.
func Inspect(w io.Writer, kernel []byte) error {
	img, err := elfload.Parse(kernel)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "entry %v\n", img.Entry)

	for i := range img.Segments {
		s := &img.Segments[i]
		fmt.Fprintf(w, "segment %d: %v+%#x (file %#x) %v, %d pages from %v\n",
			s.Index, s.Virt, s.MemSize, s.FileSize, s.Perm, s.Pages(), s.Start())
	}

	return nil
}

// PrintMemoryMap prints the E820 view of the map a freshly started simulated
// platform with memSize bytes reports.
func PrintMemoryMap(w io.Writer, memSize int) error {
	fw, err := platform.New(memory.NewPhysical(make([]byte, memSize)), platform.Config{})
	if err != nil {
		return err
	}

	m, err := memmap.Snapshot(fw)
	if err != nil {
		return err
	}

	printE820(w, m)

	return nil
}

func printE820(w io.Writer, m *memmap.Map) {
	for _, e := range m.E820() {
		fmt.Fprintf(w, "%#x-%#x %v\n", e.Addr, e.Addr+e.Size-1, e.MemType)
	}
}

// prepare runs the boot sequence on a simulated platform up to the jump.
func prepare(vol fs.FS, memSize int, logger *log.Logger) (*platform.Firmware, *loader.Prepared, error) {
	fw, err := platform.New(memory.NewPhysical(make([]byte, memSize)), platform.Config{Volume: vol})
	if err != nil {
		return nil, nil, err
	}

	p, err := loader.New(fw, fw.CPU(), fw.Memory(), logger).Prepare()
	if err != nil {
		return nil, nil, err
	}

	return fw, p, nil
}

// DryRun boots on the simulated platform and prints what the kernel would
// start with.
func DryRun(w io.Writer, vol fs.FS, memSize int, logger *log.Logger) error {
	fw, p, err := prepare(vol, memSize, logger)
	if err != nil {
		return err
	}

	// the simulated core records the jump and returns
	if err := handoff.Finalize(fw.CPU(), p.Plan); !errors.Is(err, handoff.ErrKernelReturned) {
		return err
	}

	fmt.Fprintf(w, "plan: %v\n", p.Plan)

	for _, s := range p.Segments {
		fmt.Fprintf(w, "mapped %v: %d pages %v\n", s.Virt, s.Pages, s.Perm)
	}

	fmt.Fprintf(w, "stack %v: %d pages\n", p.Stack.Virt, p.Stack.Pages)
	fmt.Fprintf(w, "%d frames allocated, %d memory map entries handed over\n",
		len(p.Frames.Allocated()), p.Map.Len())
	printE820(w, p.Map)

	return nil
}

// Disasm boots on the simulated platform and disassembles n instructions at
// the kernel entry through the installed page tables.
func Disasm(w io.Writer, vol fs.FS, memSize, n int, logger *log.Logger) error {
	fw, p, err := prepare(vol, memSize, logger)
	if err != nil {
		return err
	}

	lines, err := disasm.Disassemble(p.Hierarchy, fw.Memory(), p.Image.Entry, n)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}

	return err
}
