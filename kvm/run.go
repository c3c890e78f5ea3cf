package kvm

// RunData is the head of the kvm_run region shared with the vCPU.
type RunData struct {
	RequestInterruptWindow     uint8
	ImmediateExit              uint8
	_                          [6]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	Flags                      uint16
	CR8                        uint64
	ApicBase                   uint64
	Data                       [32]uint64
}

// Exit returns why the last Run returned.
func (r *RunData) Exit() ExitType {
	return ExitType(r.ExitReason)
}

// IO decodes an EXITIO. The data sits offset bytes into the shared region.
func (r *RunData) IO() (direction, size, port, count, offset uint64) {
	direction = r.Data[0] & 0xFF
	size = (r.Data[0] >> 8) & 0xFF
	port = (r.Data[0] >> 16) & 0xFFFF
	count = (r.Data[0] >> 32) & 0xFFFFFFFF
	offset = r.Data[1]

	return direction, size, port, count, offset
}

// FailEntry returns the hardware reason of an EXITFAILENTRY.
func (r *RunData) FailEntry() uint64 {
	return r.Data[0]
}
