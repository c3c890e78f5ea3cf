package acpi

const (
	oemID      = "GOBOOT"
	oemTableID = "GOBOOTPC"

	tableAlign = 16
)

func align(n int) int {
	return (n + tableAlign - 1) &^ (tableAlign - 1)
}

// Build lays out an RSDP, an XSDT and a MADT for cpus processors and returns
// the image to copy to base. The RSDP is at base itself.
func Build(base uint64, cpus int) ([]byte, error) {
	madt := NewMADT(oemID, oemTableID)
	for i := 0; i < cpus; i++ {
		madt.AddAPIC(NewLocalAPIC(uint8(i)))
	}

	madt.AddAPIC(NewIOAPIC(uint8(cpus), IOAPICAddress))

	xsdtOff := align(36)
	madtOff := xsdtOff + align(headerSize+8)

	xsdt := NewXSDT(oemID, oemTableID)
	xsdt.AddEntry(base + uint64(madtOff))

	rsdp := NewRSDP(oemID, base+uint64(xsdtOff))

	out := make([]byte, madtOff+madt.Size())

	for _, t := range []struct {
		off int
		enc func() ([]byte, error)
	}{
		{0, rsdp.ToBytes},
		{xsdtOff, xsdt.ToBytes},
		{madtOff, madt.ToBytes},
	} {
		data, err := t.enc()
		if err != nil {
			return nil, err
		}

		copy(out[t.off:], data)
	}

	return out, nil
}
