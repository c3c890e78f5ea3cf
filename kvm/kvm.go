// Package kvm wraps the /dev/kvm ioctls a single-vCPU x86-64 guest needs.
package kvm

import (
	"errors"

	"golang.org/x/sys/unix"
)

const (
	kvmio = 0xAE

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	kvmGetAPIVersion       = 0x00
	kvmCreateVM            = 0x01
	kvmGetVCPUMMapSize     = 0x04
	kvmGetSupportedCPUID   = 0x05
	kvmCreateVCPU          = 0x41
	kvmSetUserMemoryRegion = 0x46
	kvmSetTSSAddr          = 0x47
	kvmRun                 = 0x80
	kvmGetRegs             = 0x81
	kvmSetRegs             = 0x82
	kvmGetSregs            = 0x83
	kvmSetSregs            = 0x84
	kvmSetCPUID2           = 0x90

	// APIVersion is the only version KVM has ever reported.
	APIVersion = 12

	// TSSAddr is three pages below 4GiB, where other VMMs put it.
	TSSAddr = 0xfffbd000
)

var ErrAPIVersion = errors.New("unexpected KVM API version")

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | kvmio<<8 | nr
}

// IIO is _IO(KVMIO, nr).
func IIO(nr uintptr) uintptr { return ioc(iocNone, nr, 0) }

// IIOR is _IOR(KVMIO, nr, size).
func IIOR(nr, size uintptr) uintptr { return ioc(iocRead, nr, size) }

// IIOW is _IOW(KVMIO, nr, size).
func IIOW(nr, size uintptr) uintptr { return ioc(iocWrite, nr, size) }

// IIOWR is _IOWR(KVMIO, nr, size).
func IIOWR(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, nr, size) }

// Ioctl issues an ioctl, retrying while it is interrupted.
func Ioctl(fd, op, arg uintptr) (uintptr, error) {
	for {
		res, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, op, arg)

		switch errno {
		case 0:
			return res, nil
		case unix.EINTR:
			continue
		default:
			return res, errno
		}
	}
}

func GetAPIVersion(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmGetAPIVersion), 0)
}

// CheckAPIVersion fails unless the KVM API is the stable one.
func CheckAPIVersion(kvmFd uintptr) error {
	v, err := GetAPIVersion(kvmFd)
	if err != nil {
		return err
	}

	if v != APIVersion {
		return ErrAPIVersion
	}

	return nil
}

func CreateVM(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmCreateVM), 0)
}

func CreateVCPU(vmFd uintptr, vcpuID int) (uintptr, error) {
	return Ioctl(vmFd, IIO(kvmCreateVCPU), uintptr(vcpuID))
}

// SetTSSAddr places the three pages Intel hosts need for the TSS.
func SetTSSAddr(vmFd uintptr) error {
	_, err := Ioctl(vmFd, IIO(kvmSetTSSAddr), TSSAddr)

	return err
}

// GetVCPUMMmapSize returns the size of the shared kvm_run region.
func GetVCPUMMmapSize(kvmFd uintptr) (uintptr, error) {
	return Ioctl(kvmFd, IIO(kvmGetVCPUMMapSize), 0)
}

// Run runs the vCPU until the next exit. It is not retried on EINTR, which is
// how a run cut short by RunData.ImmediateExit comes back.
func Run(vcpuFd uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, vcpuFd, IIO(kvmRun), 0)
	if errno != 0 {
		return errno
	}

	return nil
}
