package kvm

import "unsafe"

// CPUID is a kvm_cpuid2 with room for 100 entries.
type CPUID struct {
	Nent    uint32
	Padding uint32
	Entries [100]CPUIDEntry2
}

// CPUIDEntry2 is one leaf and subleaf.
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	Eax      uint32
	Ebx      uint32
	Ecx      uint32
	Edx      uint32
	Padding  [3]uint32
}

// cpuidHeader is the size the ioctl numbers encode; the entries trail it.
const cpuidHeader = unsafe.Sizeof(uint64(0))

// GetSupportedCPUID fills c with what the host can give a guest. Nent must
// hold the capacity on entry.
func GetSupportedCPUID(kvmFd uintptr, c *CPUID) error {
	_, err := Ioctl(kvmFd, IIOWR(kvmGetSupportedCPUID, cpuidHeader), uintptr(unsafe.Pointer(c)))

	return err
}

// SetCPUID2 sets the entries a vCPU reports. Long mode and no-execute can
// only be enabled in EFER once they are advertised here.
func SetCPUID2(vcpuFd uintptr, c *CPUID) error {
	_, err := Ioctl(vcpuFd, IIOW(kvmSetCPUID2, cpuidHeader), uintptr(unsafe.Pointer(c)))

	return err
}
