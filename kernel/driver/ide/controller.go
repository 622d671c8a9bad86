package ide

import (
	"corvid/kernel/blockdev"
	"corvid/kernel/driver/pci"
)

const (
	classMassStorage = 0x01
	subclassIDE      = 0x01

	progIFPrimaryNative   = 1 << 0
	progIFPrimarySwitch   = 1 << 1
	progIFSecondaryNative = 1 << 2
	progIFSecondarySwitch = 1 << 3
	progIFBusMaster       = 1 << 7
)

const (
	legacyPrimaryCommand   = 0x1F0
	legacyPrimaryControl   = 0x3F4
	legacyPrimaryIRQ       = 14
	legacySecondaryCommand = 0x170
	legacySecondaryControl = 0x374
	legacySecondaryIRQ     = 15
)

// Controller owns the two channels of one discovered IDE controller.
type Controller struct {
	Channels [2]*Channel
}

// readConfigFn/writeConfigFn/barFn are substituted by tests; they default
// to the real kernel/driver/pci enumerator.
var (
	readConfigFn  = pci.ReadConfig
	writeConfigFn = pci.WriteConfig
	barFn         = pci.BAR
)

// Discover scans the PCI bus for mass-storage/IDE controllers, brings each
// one up with both channels reset and identified, and registers every ATA
// drive found as a kernel/blockdev.Device under the "ata" family (hda, hdb,
// ...). ATAPI drives are identified but not registered: block-device access
// assumes the plain ATA read/write command set, not the ATAPI packet
// protocol.
func Discover(enumFn func(class, subclass uint8) []pci.Device) []*Controller {
	var controllers []*Controller
	letter := 0

	for _, dev := range enumFn(classMassStorage, subclassIDE) {
		ctrl := bringUp(dev)
		controllers = append(controllers, ctrl)

		for _, ch := range ctrl.Channels {
			for slot := 0; slot < 2; slot++ {
				if ch.Drives[slot].Type != ATA {
					continue
				}
				blockdev.Register("ata", driveName(letter), NewDrive(ch, slot))
				letter++
			}
		}
	}

	return controllers
}

// driveName returns the conventional "hda", "hdb", ... name for the i-th
// drive found, wrapping into "hdaa", "hdab", ... past the 26th.
func driveName(i int) string {
	suffix := string(rune('a' + i%26))
	for i >= 26 {
		i = i/26 - 1
		suffix = string(rune('a'+i%26)) + suffix
	}
	return "hd" + suffix
}

func bringUp(dev pci.Device) *Controller {
	progIF := dev.ProgIF
	dmaCapable := progIF&progIFBusMaster != 0

	if dmaCapable {
		cmdReg := readConfigFn(dev, 0x04)
		writeConfigFn(dev, 0x04, cmdReg|0x05) // I/O space + bus mastering
	}

	ctrl := &Controller{}
	ctrl.Channels[0] = bringUpChannel(dev, 0, progIF, progIFPrimaryNative, progIFPrimarySwitch, legacyPrimaryCommand, legacyPrimaryControl, legacyPrimaryIRQ, dmaCapable)
	ctrl.Channels[1] = bringUpChannel(dev, 1, progIF, progIFSecondaryNative, progIFSecondarySwitch, legacySecondaryCommand, legacySecondaryControl, legacySecondaryIRQ, dmaCapable)

	for _, ch := range ctrl.Channels {
		for drive := 0; drive < 2; drive++ {
			if err := ch.Reset(drive); err != nil {
				continue
			}
			ch.Identify(drive)
		}
	}

	return ctrl
}

func bringUpChannel(dev pci.Device, index int, progIF, nativeBit, switchBit uint8, legacyCommand, legacyControl uint16, legacyIRQ uint8, dmaCapable bool) *Channel {
	native := progIF&nativeBit != 0
	switchable := progIF&switchBit != 0

	if switchable && !native {
		writeConfigFn(dev, 0x09, uint32(progIF|nativeBit))
		native = true
	}

	var commandBase, controlBase uint16
	var irq uint8

	if native {
		commandBase = uint16(barFn(dev, uint8(index*2)) &^ 0x3)
		controlBase = uint16(barFn(dev, uint8(index*2+1)) &^ 0x3)
		irq = dev.InterruptLine
	} else {
		commandBase, controlBase, irq = legacyCommand, legacyControl, legacyIRQ
	}

	var busMasterBase uint16
	if dmaCapable {
		busMasterBase = uint16(barFn(dev, 4)&^0x3) + uint16(index)*8
	}

	return newChannel(commandBase, controlBase, busMasterBase, irq)
}
