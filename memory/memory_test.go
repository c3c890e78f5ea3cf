package memory_test

import (
	"errors"
	"testing"

	"github.com/bobuhiro11/goboot/memory"
)

func TestPhysicalReadWrite(t *testing.T) {
	t.Parallel()

	m := memory.NewPhysical(make([]byte, 0x2000))

	if err := m.PutUint64(0x1ff8, 0xdeadbeefcafebabe); err != nil {
		t.Fatal(err)
	}

	v, err := m.Uint64(0x1ff8)
	if err != nil {
		t.Fatal(err)
	}

	if v != 0xdeadbeefcafebabe {
		t.Fatalf("got %#x", v)
	}

	if err := m.PutUint64(0x1ffc, 0); !errors.Is(err, memory.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}

	if _, err := m.Slice(0x2000, 1); !errors.Is(err, memory.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestPhysicalFillAndZero(t *testing.T) {
	t.Parallel()

	m := memory.NewPhysical(make([]byte, 0x1000))

	if err := m.Fill(0, 0x1000); err != nil {
		t.Fatal(err)
	}

	b, _ := m.Slice(0, 8)
	if string(b) != memory.Poison {
		t.Fatalf("poison not written: %x", b)
	}

	if err := m.Zero(0x10, 0x20); err != nil {
		t.Fatal(err)
	}

	b, _ = m.Slice(0x10, 0x20)
	for i, c := range b {
		if c != 0 {
			t.Fatalf("byte %d not zero", i)
		}
	}
}

func TestAddressSpace(t *testing.T) {
	t.Parallel()

	as := memory.NewAddressSpace("kernel", 0, 1<<48)

	for _, tt := range []struct {
		name  string
		start uint64
		size  uint64
		err   error
	}{
		{"text", 0x1000, 0x1000, nil},
		{"data", 0x3000, 0x1000, nil},
		{"adjacent", 0x2000, 0x1000, nil},
		{"overlap", 0x1800, 0x1000, memory.ErrAddrSpaceOccupied},
		{"outside", 1 << 48, 0x1000, memory.ErrAddrSpaceRange},
	} {
		err := as.AddAddress(memory.NewAddressSpace(tt.name, tt.start, tt.size))
		if !errors.Is(err, tt.err) {
			t.Fatalf("%s: got %v, want %v", tt.name, err, tt.err)
		}
	}

	if len(as.Addresses) != 3 {
		t.Fatalf("expected 3 ranges, got %d", len(as.Addresses))
	}

	for i := 1; i < len(as.Addresses); i++ {
		if as.Addresses[i-1].Start > as.Addresses[i].Start {
			t.Fatal("ranges not sorted")
		}
	}
}
