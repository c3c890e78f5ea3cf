package flag_test

import (
	"bytes"
	"debug/elf"
	"errors"
	"io"
	"log"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/bobuhiro11/goboot/elfload"
	"github.com/bobuhiro11/goboot/elfload/elftest"
	"github.com/bobuhiro11/goboot/flag"
)

const (
	memSize  = 32 << 20
	textBase = 0xffffffff80000000
)

func kernel() []byte {
	text := []byte{0xf4, 0xeb, 0xfd} // 1: hlt; jmp 1b

	return elftest.Build(textBase, []elftest.Prog{
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: textBase, Data: text, Memsz: uint64(len(text))},
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: textBase + 0x1000, Memsz: 0x2000},
	})
}

func volume() fstest.MapFS {
	return fstest.MapFS{
		"EFI/Boot/config.conf": {Data: []byte("kernel_stack_size=8\n")},
		"EFI/Boot/kernel.elf":  {Data: kernel()},
	}
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		in, unit string
		want     int
		expErr   error
	}{
		{"1G", "", 1 << 30, nil},
		{"64m", "g", 64 << 20, nil},
		{"2", "g", 2 << 30, nil},
		{"0x10", "k", 16 << 10, nil},
		{"512", "", 512, nil},
		{"G", "", -1, strconv.ErrSyntax},
		{"1T", "", -1, strconv.ErrSyntax},
	} {
		got, err := flag.ParseSize(tt.in, tt.unit)
		if tt.expErr != nil {
			if !errors.Is(err, tt.expErr) {
				t.Errorf("%q: expected %v, got %v", tt.in, tt.expErr, err)
			}

			continue
		}

		if err != nil || got != tt.want {
			t.Errorf("%q: %d %v, want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestParseArg(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	c := flag.CLI{}

	k, err := flag.New(&c)
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := k.Parse([]string{"boot", "-v", dir, "-m", "64M", "--dry-run", "--profile", dir})
	if err != nil {
		t.Fatal(err)
	}

	if ctx.Command() != "boot" {
		t.Fatalf("command %q", ctx.Command())
	}

	if c.Boot.Volume != dir || c.Boot.MemSize != "64M" || !c.Boot.DryRun || c.Boot.Console != "" || c.Boot.Profile != dir {
		t.Fatalf("boot flags %+v", c.Boot)
	}

	c = flag.CLI{}

	k, err = flag.New(&c)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := k.Parse([]string{"disasm", "-v", dir}); err != nil {
		t.Fatal(err)
	}

	if c.Disasm.Count != 16 || c.Disasm.MemSize != "1G" {
		t.Fatalf("disasm defaults %+v", c.Disasm)
	}

	if _, err := k.Parse([]string{"boot"}); err == nil {
		t.Fatal("boot without a volume accepted")
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := flag.Inspect(&buf, kernel()); err != nil {
		t.Fatal(err)
	}

	want := "entry virt:0xffffffff80000000\n" +
		"segment 0: virt:0xffffffff80000000+0x3 (file 0x3) r-x, 1 pages from virt:0xffffffff80000000\n" +
		"segment 1: virt:0xffffffff80001000+0x2000 (file 0x0) rw-, 2 pages from virt:0xffffffff80001000\n"
	if buf.String() != want {
		t.Fatalf("got\n%s\nwant\n%s", buf.String(), want)
	}

	if err := flag.Inspect(&buf, []byte("not an elf")); !errors.Is(err, elfload.ErrMalformedImage) {
		t.Fatalf("expected ErrMalformedImage, got %v", err)
	}
}

func TestPrintMemoryMap(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := flag.PrintMemoryMap(&buf, memSize); err != nil {
		t.Fatal(err)
	}

	// usable RAM runs from 1MiB to the end of memory
	if !strings.Contains(buf.String(), "0x100000-0x1ffffff ") {
		t.Fatalf("memory map:\n%s", buf.String())
	}
}

func TestDryRun(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := flag.DryRun(&buf, volume(), memSize, discard()); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"plan: root=phys:0x1000 entry=virt:0xffffffff80000000 stack=virt:0xffffff8000008000",
		"mapped virt:0xffffffff80000000: 1 pages r-x",
		"mapped virt:0xffffffff80001000: 2 pages rw-",
		"stack virt:0xffffff8000000000: 8 pages",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("missing %q in\n%s", want, buf.String())
		}
	}
}

func TestDisasm(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := flag.Disasm(&buf, volume(), memSize, 2, discard()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], ": hlt") || !strings.Contains(lines[1], "jmp") {
		t.Fatalf("disassembly:\n%s", buf.String())
	}

	if err := flag.Disasm(&buf, fstest.MapFS{}, memSize, 2, discard()); err == nil {
		t.Fatal("disassembled without a volume")
	}
}
