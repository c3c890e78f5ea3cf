package platform

import (
	"bytes"
	"encoding/binary"
)

// smbiosEntry is the SMBIOS 2.x (32-bit) entry point structure.
type smbiosEntry struct {
	Anchor             [4]byte
	Checksum           uint8
	Length             uint8
	MajorVersion       uint8
	MinorVersion       uint8
	MaxStructSize      uint16
	EntryPointRevision uint8
	FormattedArea      [5]byte
	IntAnchor          [5]byte
	IntChecksum        uint8
	TableLength        uint16
	TableAddress       uint32
	NumberOfStructs    uint16
	BCDRevision        uint8
}

const (
	smbiosEntrySize = 0x1f
	// the intermediate checksum covers the bytes from IntAnchor on
	smbiosIntOffset = 0x10
)

type smbiosHeader struct {
	Type   uint8
	Length uint8
	Handle uint16
}

// smbiosBIOSInfo is the type 0 structure without its trailing strings.
type smbiosBIOSInfo struct {
	smbiosHeader
	Vendor          uint8
	Version         uint8
	StartSegment    uint16
	ReleaseDate     uint8
	ROMSize         uint8
	Characteristics uint64
}

func sum8(b []byte) uint8 {
	s := uint8(0)
	for _, c := range b {
		s += c
	}

	return s
}

// buildSMBIOS returns an entry point followed by a structure table holding
// BIOS information and the end-of-table marker, to be placed at base.
func buildSMBIOS(base uint64, vendor string) ([]byte, error) {
	var table bytes.Buffer

	bios := smbiosBIOSInfo{
		smbiosHeader:    smbiosHeader{Type: 0, Length: 0x12, Handle: 0},
		Vendor:          1,
		Version:         2,
		StartSegment:    0xe800,
		ReleaseDate:     3,
		Characteristics: 1 << 3,
	}
	if err := binary.Write(&table, binary.LittleEndian, &bios); err != nil {
		return nil, err
	}

	for _, s := range []string{vendor, "0.1", "10/15/2026"} {
		table.WriteString(s)
		table.WriteByte(0)
	}

	table.WriteByte(0)

	largest := table.Len()

	end := smbiosHeader{Type: 127, Length: 4, Handle: 1}
	if err := binary.Write(&table, binary.LittleEndian, &end); err != nil {
		return nil, err
	}

	table.Write([]byte{0, 0})

	entry := smbiosEntry{
		Length:          smbiosEntrySize,
		MajorVersion:    2,
		MinorVersion:    8,
		MaxStructSize:   uint16(largest),
		TableLength:     uint16(table.Len()),
		TableAddress:    uint32(base + 0x20),
		NumberOfStructs: 2,
		BCDRevision:     0x28,
	}
	copy(entry.Anchor[:], "_SM_")
	copy(entry.IntAnchor[:], "_DMI_")

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, &entry); err != nil {
		return nil, err
	}

	b := out.Bytes()
	b[21] = -sum8(b[smbiosIntOffset:smbiosEntrySize])
	b[4] = -sum8(b[:smbiosEntrySize])

	img := make([]byte, 0x20+table.Len())
	copy(img, b)
	copy(img[0x20:], table.Bytes())

	return img, nil
}
