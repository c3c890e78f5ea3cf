package acpi

import (
	"bytes"
	"encoding/binary"
)

const (
	TypeLocalAPIC uint8 = 0 + iota
	TypeIOAPIC
	TypeInterruptSourceOverride
)

// Default interrupt controller addresses.
const (
	LocalAPICAddress = 0xfee0_0000
	IOAPICAddress    = 0xfec0_0000
)

// MADT flag: the platform also has dual 8259 PICs.
const PCATCompat = 1

type APIC interface {
	Len() uint8
	ToBytes() ([]byte, error)
}

func apicBytes(a APIC) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, a); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

type LocalAPIC struct {
	Type        uint8
	Length      uint8
	ProcessorID uint8
	APICId      uint8
	Flags       uint32
}

// NewLocalAPIC describes an enabled processor.
func NewLocalAPIC(id uint8) *LocalAPIC {
	return &LocalAPIC{Type: TypeLocalAPIC, Length: 8, ProcessorID: id, APICId: id, Flags: 1}
}

func (l *LocalAPIC) Len() uint8 {
	return l.Length
}

func (l *LocalAPIC) ToBytes() ([]byte, error) {
	return apicBytes(l)
}

type IOAPIC struct {
	Type        uint8
	Length      uint8
	IOAPICID    uint8
	_           uint8
	APICAddress uint32
	GSIBase     uint32
}

func NewIOAPIC(id uint8, address uint32) *IOAPIC {
	return &IOAPIC{Type: TypeIOAPIC, Length: 12, IOAPICID: id, APICAddress: address}
}

func (i *IOAPIC) Len() uint8 {
	return i.Length
}

func (i *IOAPIC) ToBytes() ([]byte, error) {
	return apicBytes(i)
}

// MADT describes the interrupt controllers, one LocalAPIC per processor.
type MADT struct {
	Header
	LocalAPICAddress uint32
	Flags            uint32
	APICS            []APIC
}

func NewMADT(oemid, oemtableid string) MADT {
	return MADT{
		Header:           newHeader(SigAPIC, 4, oemid, oemtableid),
		LocalAPICAddress: LocalAPICAddress,
		Flags:            PCATCompat,
	}
}

func (m *MADT) AddAPIC(apic APIC) {
	m.APICS = append(m.APICS, apic)
}

// Size returns the encoded length.
func (m *MADT) Size() int {
	n := headerSize + 8

	for _, a := range m.APICS {
		n += int(a.Len())
	}

	return n
}

// ToBytes encodes the table with its length and checksum filled in.
func (m *MADT) ToBytes() ([]byte, error) {
	var entries bytes.Buffer

	for _, apic := range m.APICS {
		data, err := apic.ToBytes()
		if err != nil {
			return nil, err
		}

		entries.Write(data)
	}

	return encode(&m.Header, m.LocalAPICAddress, m.Flags, entries.Bytes())
}
