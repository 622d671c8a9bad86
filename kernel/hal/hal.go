package hal

import (
	"corvid/kernel/driver/tty"
	"corvid/kernel/driver/video/console"
	"corvid/kernel/hal/multiboot"
)

// Terminal is the surface hal.ActiveTerminal exposes to the rest of the
// kernel: kfmt/early and panic handling only ever write bytes to it and
// clear it, regardless of which console is actually driving the screen.
type Terminal interface {
	Write(data []byte) (int, error)
	WriteByte(b byte) error
	Clear()
}

var (
	egaConsole = &console.Ega{}
	fbConsole  = &console.Framebuffer{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal Terminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some
// output till everything is properly setup. The bootloader tells us via
// multiboot what kind of framebuffer it set up: a direct RGB/LFB mode gets
// the full ANSI-capable tty.Terminal running on console.Framebuffer, while
// anything else (EGA text mode, or an indexed mode we don't special-case)
// falls back to the minimal tty.Vt on console.Ega that every mode supports.
func InitTerminal() {
	fbInfo := multiboot.GetFramebufferInfo()

	if fbInfo.Type == multiboot.FramebufferTypeRGB {
		fbConsole.Init(uint16(fbInfo.Width), uint16(fbInfo.Height), uintptr(fbInfo.PhysAddr))
		term := &tty.Terminal{}
		term.AttachTo(fbConsole)
		ActiveTerminal = term
		return
	}

	egaConsole.Init(uint16(fbInfo.Width), uint16(fbInfo.Height), uintptr(fbInfo.PhysAddr))
	vt := &tty.Vt{}
	vt.AttachTo(egaConsole)
	ActiveTerminal = vt
}

// AttachEgaTerminal wires an already-initialized EGA console as the active
// terminal, bypassing multiboot. Tests use it to mock out the boot console.
func AttachEgaTerminal(cons *console.Ega) {
	vt := &tty.Vt{}
	vt.AttachTo(cons)
	ActiveTerminal = vt
}
