// Package cpuid names the CPUID feature bits a long-mode guest relies on and
// looks them up in the entries KVM reports.
package cpuid

import (
	"errors"
	"fmt"

	"github.com/bobuhiro11/goboot/kvm"
)

// The offsets in the registers are defined in
// arch/x86/include/asm/cpufeatures.h in Linux.

var ErrUnsupported = errors.New("CPU feature not available to guests")

// Reg is the output register a feature bit is reported in.
type Reg int

const (
	EAX Reg = iota
	EBX
	ECX
	EDX
)

const (
	leafBasic    = 0x1
	leafExtended = 0x80000001
)

// Feature is one bit of one CPUID leaf.
type Feature struct {
	Name     string
	Function uint32
	Index    uint32
	Reg      Reg
	Bit      uint8
}

func (f Feature) String() string {
	return f.Name
}

var (
	PSE     = Feature{Name: "PSE", Function: leafBasic, Reg: EDX, Bit: 3}
	MSR     = Feature{Name: "MSR", Function: leafBasic, Reg: EDX, Bit: 5}
	PAE     = Feature{Name: "PAE", Function: leafBasic, Reg: EDX, Bit: 6}
	APIC    = Feature{Name: "APIC", Function: leafBasic, Reg: EDX, Bit: 9}
	PGE     = Feature{Name: "PGE", Function: leafBasic, Reg: EDX, Bit: 13}
	NX      = Feature{Name: "NX", Function: leafExtended, Reg: EDX, Bit: 20}
	PDPE1GB = Feature{Name: "PDPE1GB", Function: leafExtended, Reg: EDX, Bit: 26}
	LM      = Feature{Name: "LM", Function: leafExtended, Reg: EDX, Bit: 29}
)

// Required are the features without which the firmware page tables or the
// kernel mappings cannot be used.
var Required = []Feature{PSE, PAE, NX, LM}

// Optional are reported but not needed.
var Optional = []Feature{MSR, PGE, APIC, PDPE1GB}

func reg(e *kvm.CPUIDEntry2, r Reg) uint32 {
	switch r {
	case EAX:
		return e.Eax
	case EBX:
		return e.Ebx
	case ECX:
		return e.Ecx
	default:
		return e.Edx
	}
}

// Has reports whether c advertises f.
func Has(c *kvm.CPUID, f Feature) bool {
	for i := 0; i < int(c.Nent) && i < len(c.Entries); i++ {
		e := &c.Entries[i]
		if e.Function == f.Function && e.Index == f.Index {
			return reg(e, f.Reg)&(1<<f.Bit) != 0
		}
	}

	return false
}

// Missing returns the features of fs that c does not advertise.
func Missing(c *kvm.CPUID, fs []Feature) []Feature {
	missing := []Feature{}

	for _, f := range fs {
		if !Has(c, f) {
			missing = append(missing, f)
		}
	}

	return missing
}

// Check fails when a required feature is missing.
func Check(c *kvm.CPUID) error {
	if m := Missing(c, Required); len(m) > 0 {
		return fmt.Errorf("%w: %v", ErrUnsupported, m)
	}

	return nil
}
