package elfload_test

import (
	"bytes"
	"debug/elf"
	"errors"
	"testing"

	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/elfload"
	"github.com/bobuhiro11/goboot/elfload/elftest"
	"github.com/bobuhiro11/goboot/frame"
	"github.com/bobuhiro11/goboot/memory"
)

// bumpSource hands out frames from a fixed pool, starting at frame 0x10.
type bumpSource struct {
	next  addr.Frame
	limit addr.Frame
	count int
}

func newBumpSource(n int) *bumpSource {
	return &bumpSource{next: 0x10, limit: 0x10 + addr.Frame(n)}
}

func (b *bumpSource) AllocateFrame() (addr.Frame, error) {
	if b.next >= b.limit {
		return 0, frame.ErrExhausted
	}

	f := b.next
	b.next++
	b.count++

	return f, nil
}

func poisoned(t *testing.T, size uint64) *memory.Physical {
	t.Helper()

	m := memory.NewPhysical(make([]byte, size))
	if err := m.Fill(0, size); err != nil {
		t.Fatal(err)
	}

	return m
}

func TestLoadSingleSegment(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	img, err := elfload.Parse(elftest.Build(0x1000, []elftest.Prog{
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x1000, Data: data, Memsz: 0x2000},
	}))
	if err != nil {
		t.Fatal(err)
	}

	src := newBumpSource(16)
	mem := poisoned(t, 0x40000)

	segs, err := img.Load(src, mem)
	if err != nil {
		t.Fatal(err)
	}

	if src.count != 2 || len(segs) != 1 || segs[0].Pages != 2 || len(segs[0].Frames) != 2 {
		t.Fatalf("unexpected allocation: %d frames, %+v", src.count, segs)
	}

	if segs[0].Perm != elfload.PermRead|elfload.PermExecute {
		t.Fatalf("permissions %v", segs[0].Perm)
	}

	first, _ := mem.Slice(segs[0].Frames[0].Address(), addr.PageSize)
	second, _ := mem.Slice(segs[0].Frames[1].Address(), addr.PageSize)
	loaded := append(append([]byte{}, first...), second...)

	if !bytes.Equal(loaded[:len(data)], data) {
		t.Fatalf("file bytes: %q", loaded[:len(data)])
	}

	for i, b := range loaded[len(data):] {
		if b != 0 {
			t.Fatalf("byte %#x not zero", len(data)+i)
		}
	}
}

func TestLoadUnalignedSegment(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xaa}, 0x1100)
	img, err := elfload.Parse(elftest.Build(0x400f80, []elftest.Prog{
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0x400f80, Data: data, Memsz: 0x1200},
	}))
	if err != nil {
		t.Fatal(err)
	}

	mem := poisoned(t, 0x40000)

	segs, err := img.Load(newBumpSource(8), mem)
	if err != nil {
		t.Fatal(err)
	}

	// [0x400f80, 0x402180) touches three pages
	if segs[0].Virt != 0x400000 || segs[0].Pages != 3 {
		t.Fatalf("unexpected layout %+v", segs[0])
	}

	var loaded []byte

	for _, f := range segs[0].Frames {
		b, _ := mem.Slice(f.Address(), addr.PageSize)
		loaded = append(loaded, b...)
	}

	for i, b := range loaded {
		want := byte(0)
		if i >= 0xf80 && i < 0xf80+len(data) {
			want = 0xaa
		}

		if b != want {
			t.Fatalf("offset %#x: got %#x, want %#x", i, b, want)
		}
	}
}

func TestLoadFramesAreDistinct(t *testing.T) {
	t.Parallel()

	img, err := elfload.Parse(elftest.Build(0xffffffff80000000, []elftest.Prog{
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0xffffffff80000000, Data: []byte{0x90}, Memsz: 0x3000},
		{Type: elf.PT_NOTE, Vaddr: 0, Data: []byte{1, 2, 3}},
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0xffffffff80003000, Memsz: 0},
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0xffffffff80004000, Data: []byte{1}, Memsz: 0x1800},
	}))
	if err != nil {
		t.Fatal(err)
	}

	if len(img.Segments) != 2 {
		t.Fatalf("empty and non-load segments must be skipped, got %d", len(img.Segments))
	}

	src := newBumpSource(16)

	segs, err := img.Load(src, poisoned(t, 0x40000))
	if err != nil {
		t.Fatal(err)
	}

	seen := map[addr.Frame]bool{}
	pages := map[addr.Page]bool{}

	for _, s := range segs {
		for i, f := range s.Frames {
			if seen[f] {
				t.Fatalf("frame %#x aliased", uint64(f))
			}

			seen[f] = true
			pages[s.Page(i)] = true
		}
	}

	if src.count != 5 || len(pages) != 5 {
		t.Fatalf("expected 5 frames covering 5 pages, got %d/%d", src.count, len(pages))
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	good := []elftest.Prog{{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x1000, Data: []byte{1}, Memsz: 0x1000}}

	for _, tt := range []struct {
		name  string
		image []byte
		err   error
	}{
		{
			name:  "bad magic",
			image: []byte("MZ\x90\x00 this is a PE file"),
			err:   elfload.ErrMalformedImage,
		},
		{
			name:  "wrong machine",
			image: elftest.BuildWithOptions(0x1000, good, elftest.Options{Machine: elf.EM_AARCH64}),
			err:   elfload.ErrUnsupportedArch,
		},
		{
			name:  "relocatable object",
			image: elftest.BuildWithOptions(0x1000, good, elftest.Options{Type: elf.ET_REL}),
			err:   elfload.ErrMalformedImage,
		},
		{
			name: "overlapping segments",
			image: elftest.Build(0x1000, []elftest.Prog{
				{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x1000, Data: []byte{1}, Memsz: 0x1000},
				{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0x1800, Data: []byte{2}, Memsz: 0x1000},
			}),
			err: elfload.ErrOverlappingSegments,
		},
		{
			name: "file size beyond memory size",
			image: elftest.Build(0x1000, []elftest.Prog{
				{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x1000, Data: make([]byte, 0x20), Memsz: 0x10},
			}),
			err: elfload.ErrMalformedImage,
		},
		{
			name:  "entry outside image",
			image: elftest.Build(0x9000, good),
			err:   elfload.ErrMalformedImage,
		},
		{
			name:  "entry in page padding",
			image: elftest.Build(0x1800, []elftest.Prog{{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x1000, Data: []byte{1}, Memsz: 0x10}}),
			err:   elfload.ErrMalformedImage,
		},
		{
			name:  "segment crosses canonical hole",
			image: elftest.Build(0x7ffffffff000, []elftest.Prog{{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x7ffffffff000, Data: []byte{1}, Memsz: 0x2000}}),
			err:   addr.ErrNonCanonical,
		},
		{
			name:  "no loadable segments",
			image: elftest.Build(0x1000, nil),
			err:   elfload.ErrMalformedImage,
		},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := elfload.Parse(tt.image); !errors.Is(err, tt.err) {
				t.Fatalf("got %v, want %v", err, tt.err)
			}
		})
	}
}

func TestOverlapRejectedBeforeAllocation(t *testing.T) {
	t.Parallel()

	src := newBumpSource(16)

	img, err := elfload.Parse(elftest.Build(0x1000, []elftest.Prog{
		{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x1000, Data: []byte{1}, Memsz: 0x1000},
		{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x1800, Data: []byte{1}, Memsz: 0x1000},
	}))
	if err == nil {
		_, _ = img.Load(src, poisoned(t, 0x40000))
		t.Fatal("overlapping image accepted")
	}

	if src.count != 0 {
		t.Fatalf("%d frames allocated before detection", src.count)
	}
}

func TestLoadExhausted(t *testing.T) {
	t.Parallel()

	img, err := elfload.Parse(elftest.Build(0x1000, []elftest.Prog{
		{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x1000, Data: []byte{1}, Memsz: 0x3000},
	}))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := img.Load(newBumpSource(2), poisoned(t, 0x40000)); !errors.Is(err, frame.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestLoadHugeSegmentExhausts(t *testing.T) {
	t.Parallel()

	img, err := elfload.Parse(elftest.Build(0x1000, []elftest.Prog{
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0x1000, Data: []byte{1}, Memsz: 0x7fff_0000_0000},
	}))
	if err != nil {
		t.Fatal(err)
	}

	src := newBumpSource(4)

	if _, err := img.Load(src, poisoned(t, 0x40000)); !errors.Is(err, frame.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	if src.count != 4 {
		t.Fatalf("%d frames allocated", src.count)
	}
}

func TestAnonymous(t *testing.T) {
	t.Parallel()

	mem := poisoned(t, 0x40000)

	seg, err := elfload.Anonymous(0xffffff8000000000, 4, elfload.PermRead|elfload.PermWrite, newBumpSource(8), mem)
	if err != nil {
		t.Fatal(err)
	}

	if seg.Pages != 4 || len(seg.Frames) != 4 {
		t.Fatalf("unexpected segment %+v", seg)
	}

	for _, f := range seg.Frames {
		b, _ := mem.Slice(f.Address(), addr.PageSize)
		if !bytes.Equal(b, make([]byte, addr.PageSize)) {
			t.Fatalf("frame %#x not zeroed", uint64(f))
		}
	}

	if _, err := elfload.Anonymous(0x1234, 1, elfload.PermRead, newBumpSource(1), mem); !errors.Is(err, addr.ErrUnaligned) {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}

	src := newBumpSource(8)

	if _, err := elfload.Anonymous(0x7ffffffff000, 2, elfload.PermRead|elfload.PermWrite, src, mem); !errors.Is(err, addr.ErrNonCanonical) {
		t.Fatalf("expected ErrNonCanonical, got %v", err)
	}

	if src.count != 0 {
		t.Fatalf("%d frames allocated for a rejected stack", src.count)
	}
}
