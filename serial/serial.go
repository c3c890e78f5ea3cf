// Package serial emulates the transmit side of a 16550 UART at COM1, which
// is where the kernel writes its early console.
package serial

const (
	COM1Addr = 0x03f8
	// Ports is the number of I/O ports the UART decodes.
	Ports = 8

	lsrTHRE = 0x20 // transmit holding register empty
	lsrTEMT = 0x40 // transmitter empty
)

type Serial struct {
	IER byte
	LCR byte
	MCR byte
	SCR byte
	DLL byte
	DLM byte

	out chan<- byte
}

// New returns a UART that sends every transmitted byte to out.
func New(out chan<- byte) *Serial {
	return &Serial{
		DLL: 0xc, // 9600 baud
		out: out,
	}
}

func (s *Serial) dlab() bool {
	return s.LCR&0x80 != 0
}

func (s *Serial) In(port uint64, values []byte) error {
	port -= COM1Addr

	switch {
	case port == 0 && s.dlab():
		values[0] = s.DLL
	case port == 0:
		// RBR: nothing is ever received
		values[0] = 0
	case port == 1 && s.dlab():
		values[0] = s.DLM
	case port == 1:
		values[0] = s.IER
	case port == 2:
		// IIR: no interrupt pending
		values[0] = 0x1
	case port == 3:
		values[0] = s.LCR
	case port == 4:
		values[0] = s.MCR
	case port == 5:
		// LSR: output never backs up
		values[0] = lsrTHRE | lsrTEMT
	case port == 6:
		values[0] = 0
	case port == 7:
		values[0] = s.SCR
	}

	return nil
}

func (s *Serial) Out(port uint64, values []byte) error {
	port -= COM1Addr

	switch {
	case port == 0 && s.dlab():
		s.DLL = values[0]
	case port == 0:
		// THR
		s.out <- values[0]
	case port == 1 && s.dlab():
		s.DLM = values[0]
	case port == 1:
		s.IER = values[0]
	case port == 3:
		s.LCR = values[0]
	case port == 4:
		s.MCR = values[0]
	case port == 7:
		s.SCR = values[0]
	}

	return nil
}

// Read and Write make the UART a port I/O device.
func (s *Serial) Read(port uint64, data []byte) error { return s.In(port, data) }

func (s *Serial) Write(port uint64, data []byte) error { return s.Out(port, data) }

func (s *Serial) IOPort() uint64 { return COM1Addr }

func (s *Serial) Size() uint64 { return Ports }
