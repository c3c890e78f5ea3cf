// Package acpi builds the ACPI tables the firmware publishes through the
// ACPI 2.0 configuration table.
package acpi

import (
	"bytes"
	"encoding/binary"
)

const headerSize = 36

// Header is the common header of every system description table.
type Header struct {
	Signature  [4]byte
	Length     uint32
	Rev        uint8
	Checksum   uint8
	OEMId      [6]byte
	OEMTableID [8]byte
	OEMRev     uint32
	CreatorID  [4]byte
	CreatorRev uint32
}

func newHeader(sig Signature, rev uint8, oemID, oemTableID string) Header {
	h := Header{
		Signature:  sig.ToBytes(),
		Length:     headerSize,
		Rev:        rev,
		CreatorRev: 1,
	}

	// shorter IDs are padded with NUL
	copy(h.OEMId[:], oemID)
	copy(h.OEMTableID[:], oemTableID)
	copy(h.CreatorID[:], "GBOT")

	return h
}

// checksum returns the byte that makes the sum of data and itself zero.
func checksum(data []byte) uint8 {
	sum := uint8(0)

	for _, b := range data {
		sum += b
	}

	return -sum
}

// encode writes h followed by body, then patches the total length and the
// checksum into both the output and h.
func encode(h *Header, body ...interface{}) ([]byte, error) {
	var buf bytes.Buffer

	h.Checksum = 0

	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}

	for _, b := range body {
		if raw, ok := b.([]byte); ok {
			buf.Write(raw)

			continue
		}

		if err := binary.Write(&buf, binary.LittleEndian, b); err != nil {
			return nil, err
		}
	}

	data := buf.Bytes()
	h.Length = uint32(len(data))
	binary.LittleEndian.PutUint32(data[4:], h.Length)
	h.Checksum = checksum(data)
	data[9] = h.Checksum

	return data, nil
}
