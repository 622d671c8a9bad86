// Package pci implements a minimal enumerator for the legacy 0xCF8/0xCFC
// configuration-space mechanism, enough for a driver like kernel/driver/ide
// to find the controllers it needs and read their BARs, interrupt line and
// command register.
package pci

import "corvid/kernel/cpu"

const (
	configAddrPort = 0xCF8
	configDataPort = 0xCFC

	maxBus    = 256
	maxDevice = 32
	maxFunc   = 8
)

var (
	// inl/outl are substituted by tests so the enumerator can be exercised
	// without real port I/O.
	inl  = cpu.Inl
	outl = cpu.Outl
)

// Device identifies one function of one device on the bus and caches the
// class/vendor fields callers filter on.
type Device struct {
	Bus, Slot, Func uint8

	VendorID, DeviceID   uint16
	Class, Subclass, ProgIF uint8
	InterruptLine           uint8
}

func configAddress(bus, slot, fn uint8, offset uint8) uint32 {
	return uint32(1)<<31 |
		uint32(bus)<<16 |
		uint32(slot)<<11 |
		uint32(fn)<<8 |
		uint32(offset&0xFC)
}

// ReadConfig reads a 32-bit configuration-space dword at the given
// byte offset (rounded down to a dword boundary).
func ReadConfig(dev Device, offset uint8) uint32 {
	outl(configAddrPort, configAddress(dev.Bus, dev.Slot, dev.Func, offset))
	return inl(configDataPort)
}

// WriteConfig writes a 32-bit configuration-space dword at the given
// byte offset (rounded down to a dword boundary).
func WriteConfig(dev Device, offset uint8, value uint32) {
	outl(configAddrPort, configAddress(dev.Bus, dev.Slot, dev.Func, offset))
	outl(configDataPort, value)
}

// BAR returns the raw value of base-address-register index (0-5).
func BAR(dev Device, index uint8) uint32 {
	return ReadConfig(dev, 0x10+index*4)
}

func probe(bus, slot, fn uint8) (Device, bool) {
	idWord := func() uint32 {
		outl(configAddrPort, configAddress(bus, slot, fn, 0x00))
		return inl(configDataPort)
	}()

	vendorID := uint16(idWord & 0xFFFF)
	if vendorID == 0xFFFF {
		return Device{}, false
	}

	classWord := func() uint32 {
		outl(configAddrPort, configAddress(bus, slot, fn, 0x08))
		return inl(configDataPort)
	}()

	intrWord := func() uint32 {
		outl(configAddrPort, configAddress(bus, slot, fn, 0x3C))
		return inl(configDataPort)
	}()

	return Device{
		Bus:           bus,
		Slot:          slot,
		Func:          fn,
		VendorID:      vendorID,
		DeviceID:      uint16(idWord >> 16),
		ProgIF:        uint8(classWord >> 8),
		Subclass:      uint8(classWord >> 16),
		Class:         uint8(classWord >> 24),
		InterruptLine: uint8(intrWord & 0xFF),
	}, true
}

func isMultiFunction(bus, slot uint8) bool {
	outl(configAddrPort, configAddress(bus, slot, 0, 0x0C))
	return inl(configDataPort)&0x00800000 != 0
}

// Enumerate scans every bus/device/function and returns every present
// device.
func Enumerate() []Device {
	var devs []Device

	for bus := 0; bus < maxBus; bus++ {
		for slot := 0; slot < maxDevice; slot++ {
			dev, ok := probe(uint8(bus), uint8(slot), 0)
			if !ok {
				continue
			}
			devs = append(devs, dev)

			if !isMultiFunction(uint8(bus), uint8(slot)) {
				continue
			}
			for fn := 1; fn < maxFunc; fn++ {
				if dev, ok := probe(uint8(bus), uint8(slot), uint8(fn)); ok {
					devs = append(devs, dev)
				}
			}
		}
	}

	return devs
}

// EnumerateClass returns every present device matching the given
// class/subclass pair.
func EnumerateClass(class, subclass uint8) []Device {
	var matches []Device
	for _, dev := range Enumerate() {
		if dev.Class == class && dev.Subclass == subclass {
			matches = append(matches, dev)
		}
	}
	return matches
}

// EnumerateVendorDevice returns every present device matching the given
// vendor/device ID pair.
func EnumerateVendorDevice(vendorID, deviceID uint16) []Device {
	var matches []Device
	for _, dev := range Enumerate() {
		if dev.VendorID == vendorID && dev.DeviceID == deviceID {
			matches = append(matches, dev)
		}
	}
	return matches
}
