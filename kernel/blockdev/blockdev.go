// Package blockdev defines the block-device interface higher layers consume
// and a process-wide registry that drivers (e.g. kernel/driver/ide) publish
// themselves into.
package blockdev

import "corvid/kernel/sync"

// Device is the interface a storage driver implements to be usable as a
// generic block device.
type Device interface {
	// Read reads count sectors starting at sector into buf and returns the
	// number of sectors actually read.
	Read(sector uint64, count uint16, buf []byte) (uint16, error)

	// Write writes count sectors starting at sector from buf and returns
	// the number of sectors actually written.
	Write(sector uint64, count uint16, buf []byte) (uint16, error)

	// SectorCount returns the total number of addressable sectors.
	SectorCount() uint64

	// SectorSize returns the size, in bytes, of one sector.
	SectorSize() uint16
}

var (
	lock sync.Spinlock
	devs = make(map[string]map[string]Device)
)

// Register publishes dev under the given family (e.g. "ide") and name
// (e.g. "hda") so it can be looked up by higher layers.
func Register(family, name string, dev Device) {
	lock.Acquire()
	defer lock.Release()

	if devs[family] == nil {
		devs[family] = make(map[string]Device)
	}
	devs[family][name] = dev
}

// Lookup returns the device registered under family/name, or false if none
// is registered there.
func Lookup(family, name string) (Device, bool) {
	lock.Acquire()
	defer lock.Release()

	byName, ok := devs[family]
	if !ok {
		return nil, false
	}
	dev, ok := byName[name]
	return dev, ok
}

// Family returns a snapshot of every device name registered under family.
func Family(family string) []string {
	lock.Acquire()
	defer lock.Release()

	byName := devs[family]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	return names
}
