package acpi

import (
	"bytes"
	"encoding/binary"
)

// RSDP is the ACPI 2.0 root system description pointer. Its physical address
// is what the ACPI 2.0 configuration table publishes.
type RSDP struct {
	Signature        [8]byte
	Checksum         uint8
	OEMId            [6]byte
	Revision         uint8
	RSDTAddress      uint32
	Length           uint32
	XSDTAddress      uint64
	ExtendedChecksum uint8
	_                [3]uint8
}

// rsdpV1Size is the part covered by Checksum.
const rsdpV1Size = 20

func NewRSDP(oemid string, xsdt uint64) RSDP {
	r := RSDP{
		Revision:    2,
		Length:      36,
		XSDTAddress: xsdt,
	}

	copy(r.Signature[:], RSDPSignature)
	copy(r.OEMId[:], oemid)

	return r
}

func (r *RSDP) ToBytes() ([]byte, error) {
	var buf bytes.Buffer

	r.Checksum, r.ExtendedChecksum = 0, 0

	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	r.Checksum = checksum(data[:rsdpV1Size])
	data[8] = r.Checksum
	r.ExtendedChecksum = checksum(data)
	data[32] = r.ExtendedChecksum

	return data, nil
}
