package paging

// golangci-lint is completely wrong about these names.
// Control Register Paging Enable for example:
// golang style requires all letters in an acronym to be caps.
const (
	// CR0 bits.
	CR0xPE = 1
	CR0xMP = (1 << 1)
	CR0xET = (1 << 4)
	CR0xNE = (1 << 5)
	CR0xWP = (1 << 16)
	CR0xAM = (1 << 18)
	CR0xPG = (1 << 31)

	// CR4 bits.
	CR4xPSE = (1 << 4)
	CR4xPAE = (1 << 5)
	CR4xPGE = (1 << 7)

	EFERxSCE = 1
	EFERxLME = (1 << 8)
	EFERxLMA = (1 << 10)
	EFERxNXE = (1 << 11)
)

// Flags are the permission and caching bits of a 64-bit paging entry.
type Flags uint64

// 64-bit page * entry bits.
const (
	PDE64xPRESENT  Flags = 1
	PDE64xRW       Flags = (1 << 1)
	PDE64xUSER     Flags = (1 << 2)
	PDE64xPWT      Flags = (1 << 3)
	PDE64xPCD      Flags = (1 << 4)
	PDE64xACCESSED Flags = (1 << 5)
	PDE64xDIRTY    Flags = (1 << 6)
	PDE64xPS       Flags = (1 << 7)
	PDE64xG        Flags = (1 << 8)
	PDE64xNX       Flags = (1 << 63)
)

const (
	levels         = 4
	entriesPerPage = 512
	entrySize      = 8

	// bits 51..12 of an entry hold the physical address
	addrMask = 0x000f_ffff_ffff_f000
)

// levelShift returns the virtual address bit where the index for level
// starts: 39 for the PML4, 30 for the PDPT, 21 for the PD and 12 for the PT.
func levelShift(level int) uint {
	return uint(12 + 9*(level-1))
}
