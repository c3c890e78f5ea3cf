package acpi

type Signature string

func (s Signature) ToBytes() [4]byte {
	var ret [4]byte

	copy(ret[:], s)

	return ret
}

const (
	SigAPIC Signature = "APIC"
	SigXSDT Signature = "XSDT"

	// RSDPSignature opens the root system description pointer. It is not a
	// table signature and is eight bytes long.
	RSDPSignature = "RSD PTR "
)
