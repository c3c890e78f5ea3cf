// Package device dispatches port I/O from the vCPU to emulated devices.
package device

import (
	"errors"
	"fmt"
	"sort"
)

var (
	errDataLenInvalid = errors.New("invalid data size on port")

	ErrPortConflict = errors.New("port range already claimed")
)

// IODevice describes the interface an I/O port device must implement.
type IODevice interface {
	Read(uint64, []byte) error
	Write(uint64, []byte) error
	IOPort() uint64
	Size() uint64
}

// Bus routes a port to the device claiming it. Reads from unclaimed ports
// float high and writes to them are dropped, as on real hardware.
type Bus struct {
	devs []IODevice
}

func (b *Bus) Register(d IODevice) error {
	for _, o := range b.devs {
		if d.IOPort() < o.IOPort()+o.Size() && o.IOPort() < d.IOPort()+d.Size() {
			return fmt.Errorf("%#x+%d overlaps %#x+%d: %w", d.IOPort(), d.Size(), o.IOPort(), o.Size(), ErrPortConflict)
		}
	}

	b.devs = append(b.devs, d)
	sort.Slice(b.devs, func(i, j int) bool { return b.devs[i].IOPort() < b.devs[j].IOPort() })

	return nil
}

func (b *Bus) lookup(port uint64) IODevice {
	i := sort.Search(len(b.devs), func(i int) bool { return b.devs[i].IOPort()+b.devs[i].Size() > port })
	if i < len(b.devs) && b.devs[i].IOPort() <= port {
		return b.devs[i]
	}

	return nil
}

func (b *Bus) In(port uint64, data []byte) error {
	d := b.lookup(port)
	if d == nil {
		for i := range data {
			data[i] = 0xff
		}

		return nil
	}

	return d.Read(port, data)
}

func (b *Bus) Out(port uint64, data []byte) error {
	d := b.lookup(port)
	if d == nil {
		return nil
	}

	return d.Write(port, data)
}
