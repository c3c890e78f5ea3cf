package flag

// CLI is the command line of goboot.
type CLI struct {
	Boot    BootCMD    `cmd:"" help:"Load a kernel from an EFI volume directory and run it."`
	Inspect InspectCMD `cmd:"" help:"Print the loadable segments of a kernel image."`
	Disasm  DisasmCMD  `cmd:"" help:"Disassemble the kernel entry through the page tables the loader installs."`
	Probe   ProbeCMD   `cmd:"" help:"Check that KVM can run a long-mode guest."`
}

type BootCMD struct {
	Volume  string `short:"v" required:"" type:"existingdir" help:"directory used as the EFI system partition"`
	MemSize string `short:"m" default:"1G" help:"memory size: as number[gGmM], optional units, defaults to G"`
	DryRun  bool   `short:"n" help:"run on the simulated platform instead of KVM and print the boot plan"`
	Console string `short:"c" help:"terminal device for the guest COM1 output, stdout if empty"`
	Profile string `help:"write a CPU profile into this directory"`
}

type InspectCMD struct {
	Kernel  string `arg:"" type:"existingfile" help:"ELF kernel image"`
	MemMap  bool   `help:"also print the memory map the simulated platform starts with"`
	MemSize string `short:"m" default:"1G" help:"memory size of the simulated platform"`
}

type DisasmCMD struct {
	Volume  string `short:"v" required:"" type:"existingdir" help:"directory used as the EFI system partition"`
	MemSize string `short:"m" default:"1G" help:"memory size: as number[gGmM], optional units, defaults to G"`
	Count   int    `short:"n" default:"16" help:"number of instructions"`
}

type ProbeCMD struct{}
