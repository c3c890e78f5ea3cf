package iodev

// NoopDevice claims ports whose writes are ignored and whose reads are zero,
// such as the legacy interrupt controllers a kernel masks during early boot.
type NoopDevice struct {
	Port  uint64
	Psize uint64
}

func (n *NoopDevice) Read(port uint64, data []byte) error {
	for i := range data {
		data[i] = 0
	}

	return nil
}

func (n *NoopDevice) Write(port uint64, data []byte) error {
	return nil
}

func (n *NoopDevice) IOPort() uint64 {
	return n.Port
}

func (n *NoopDevice) Size() uint64 {
	return n.Psize
}

// Legacy returns the PIC, PIT and keyboard controller ranges.
func Legacy() []*NoopDevice {
	return []*NoopDevice{
		{Port: 0x20, Psize: 2},
		{Port: 0x40, Psize: 4},
		{Port: 0x60, Psize: 5},
		{Port: 0xa0, Psize: 2},
	}
}
