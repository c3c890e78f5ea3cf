package acpi

// XSDT lists the 64-bit physical addresses of the other tables.
type XSDT struct {
	Header
	Entries []uint64
}

func NewXSDT(oemid, oemtableid string) XSDT {
	return XSDT{Header: newHeader(SigXSDT, 1, oemid, oemtableid)}
}

func (x *XSDT) AddEntry(entry uint64) {
	x.Entries = append(x.Entries, entry)
}

// Size returns the encoded length.
func (x *XSDT) Size() int {
	return headerSize + 8*len(x.Entries)
}

// ToBytes encodes the table with its length and checksum filled in.
func (x *XSDT) ToBytes() ([]byte, error) {
	return encode(&x.Header, x.Entries)
}
