package iodev

import (
	"errors"
	"log"
)

// ACPIShutDownDevPort is the sleep control register EDK2 on Cloud Hypervisor
// uses. A kernel powers off by writing SLP_TYP=5 with SLP_EN set.
// See: https://github.com/cloud-hypervisor/edk2/blob/ch/OvmfPkg/Include/IndustryStandard/CloudHv.h
const (
	ACPIShutDownDevPort = uint64(0x600)

	s5SleepVal       = 5
	sleepValBit      = 2
	sleepStatusENBit = 5
)

var (
	ErrShutdown = errors.New("guest requested shutdown")
	ErrReboot   = errors.New("guest requested reboot")
)

type ACPIShutDownDevice struct {
	Port uint64
	Log  *log.Logger
}

func NewACPIShutDownEvent(logger *log.Logger) *ACPIShutDownDevice {
	return &ACPIShutDownDevice{
		Port: ACPIShutDownDevPort,
		Log:  logger,
	}
}

func (a *ACPIShutDownDevice) Read(base uint64, data []byte) error {
	data[0] = 0

	return nil
}

// Write stops the vCPU loop with ErrShutdown or ErrReboot.
func (a *ACPIShutDownDevice) Write(base uint64, data []byte) error {
	switch data[0] {
	case 1:
		a.Log.Println("ACPI Reboot signaled")

		return ErrReboot
	case s5SleepVal<<sleepValBit | 1<<sleepStatusENBit:
		a.Log.Println("ACPI Shutdown signalled")

		return ErrShutdown
	}

	return nil
}

func (a *ACPIShutDownDevice) IOPort() uint64 {
	return a.Port
}

func (a *ACPIShutDownDevice) Size() uint64 {
	return 0x8
}
