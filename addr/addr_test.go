package addr_test

import (
	"errors"
	"testing"

	"github.com/bobuhiro11/goboot/addr"
)

func TestFrameOf(t *testing.T) {
	t.Parallel()

	f, err := addr.FrameOf(0x5000)
	if err != nil {
		t.Fatal(err)
	}

	if f != 5 || f.Address() != 0x5000 {
		t.Fatalf("got frame %d at %v", f, f.Address())
	}

	if _, err := addr.FrameOf(0x5008); !errors.Is(err, addr.ErrUnaligned) {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
}

func TestPageOf(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		virt addr.VirtAddr
		err  error
	}{
		{name: "low half", virt: 0x1000},
		{name: "high half", virt: 0xffffff8000000000},
		{name: "unaligned", virt: 0x1001, err: addr.ErrUnaligned},
		{name: "non canonical", virt: 0x0000800000000000, err: addr.ErrNonCanonical},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := addr.PageOf(tt.virt)
			if !errors.Is(err, tt.err) {
				t.Fatalf("got %v, want %v", err, tt.err)
			}

			if err == nil && p.Address() != tt.virt {
				t.Fatalf("round trip: got %v, want %v", p.Address(), tt.virt)
			}
		})
	}
}

func TestCheckRange(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name  string
		start addr.VirtAddr
		size  uint64
		ok    bool
	}{
		{name: "low half", start: 0x1000, size: 0x2000, ok: true},
		{name: "end of low half", start: 0x7ffffffff000, size: 0x1000, ok: true},
		{name: "top page", start: 0xfffffffffffff000, size: 0x1000, ok: true},
		{name: "crosses into hole", start: 0x7ffffffff000, size: 0x2000},
		{name: "starts in hole", start: 0x0000900000000000, size: 0x1000},
		{name: "wraps", start: 0xfffffffffffff000, size: 0x2000},
		{name: "empty", start: 0x1000},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := addr.CheckRange(tt.start, tt.size)
			if tt.ok != (err == nil) || (err != nil && !errors.Is(err, addr.ErrNonCanonical)) {
				t.Fatalf("got %v", err)
			}
		})
	}
}

func TestPagesFor(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		start addr.VirtAddr
		size  uint64
		exp   int
	}{
		{0x1000, 0, 0},
		{0x1000, 0x10, 1},
		{0x1000, 0x2000, 2},
		{0x1800, 0x1000, 2},
		{0x1fff, 2, 2},
	} {
		if got := addr.PagesFor(tt.start, tt.size); got != tt.exp {
			t.Errorf("PagesFor(%#x, %#x) = %d, want %d", uint64(tt.start), tt.size, got, tt.exp)
		}
	}
}

func TestAlign(t *testing.T) {
	t.Parallel()

	if got := addr.PhysAddr(0x1234).AlignUp(); got != 0x2000 {
		t.Fatalf("AlignUp: %v", got)
	}

	if got := addr.VirtAddr(0x1234).AlignDown(); got != 0x1000 {
		t.Fatalf("AlignDown: %v", got)
	}

	if addr.ContainingFrame(0x1fff) != 1 || addr.ContainingPage(0x2000) != 2 {
		t.Fatal("containing frame/page")
	}
}
