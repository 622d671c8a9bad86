package console

import (
	"reflect"
	"unsafe"
)

// RGBA is a 32-bit packed color value (0xRRGGBBAA), used by the terminal's
// color state. The framebuffer console itself only has 16 physical colors
// available, so RGBA values are quantized to the nearest Attr via
// nearestAttr when a cell is actually written.
type RGBA uint32

// cell mirrors the hardware's packed (attr<<8 | ch) word. It is the unit
// that both the physical framebuffer and its shadow copy are made of.
type cell uint16

func makeCell(ch byte, attr Attr) cell {
	return cell(uint16(attr)<<8 | uint16(ch))
}

// Framebuffer implements a double-buffered text-mode console: writes land in
// an in-memory shadow buffer first and are only copied to the physical
// framebuffer address by Flush. This lets the terminal perform a whole
// scroll/erase/redraw pass without the physical screen showing intermediate,
// half-updated frames, and lets Scroll reconstruct the shifted screen from
// the shadow copy instead of re-rasterizing every cell.
type Framebuffer struct {
	width  uint16
	height uint16

	// physFb is mapped directly onto the video card's memory-mapped I/O
	// window; writes to it are immediately visible on screen.
	physFb []cell

	// shadowFb mirrors physFb but lives in ordinary RAM so scroll/clear
	// can be computed without repeatedly touching MMIO.
	shadowFb []cell
}

// Init sets up the framebuffer console to use the given dimensions and
// physical framebuffer address.
func (fb *Framebuffer) Init(width, height uint16, fbPhysAddr uintptr) {
	fb.width = width
	fb.height = height

	count := int(width) * int(height)
	fb.physFb = *(*[]cell)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  count,
		Cap:  count,
		Data: fbPhysAddr,
	}))
	fb.shadowFb = make([]cell, count)
}

// Dimensions returns the console width and height in characters.
func (fb *Framebuffer) Dimensions() (uint16, uint16) {
	return fb.width, fb.height
}

// Clear clears the specified rectangular region in the shadow buffer.
func (fb *Framebuffer) Clear(x, y, width, height uint16) {
	c := makeCell(clearChar, Attr((clearColor<<4)|clearColor))

	if x >= fb.width {
		x = fb.width
	}
	if y >= fb.height {
		y = fb.height
	}
	if x+width > fb.width {
		width = fb.width - x
	}
	if y+height > fb.height {
		height = fb.height - y
	}

	rowOffset := (y * fb.width) + x
	for ; height > 0; height, rowOffset = height-1, rowOffset+fb.width {
		for colOffset := rowOffset; colOffset < rowOffset+width; colOffset++ {
			fb.shadowFb[colOffset] = c
		}
	}
}

// Scroll shifts the shadow buffer content by the given number of lines.
func (fb *Framebuffer) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > fb.height {
		return
	}

	offset := lines * fb.width
	switch dir {
	case Up:
		var i uint16
		for ; i < (fb.height-lines)*fb.width; i++ {
			fb.shadowFb[i] = fb.shadowFb[i+offset]
		}
	case Down:
		for i := fb.height*fb.width - 1; i >= lines*fb.width; i-- {
			fb.shadowFb[i] = fb.shadowFb[i-offset]
		}
	}
}

// Write sets a single character cell in the shadow buffer.
func (fb *Framebuffer) Write(ch byte, attr Attr, x, y uint16) {
	if x >= fb.width || y >= fb.height {
		return
	}

	fb.shadowFb[(y*fb.width)+x] = makeCell(ch, attr)
}

// Flush copies the shadow buffer to the physical framebuffer, making all
// pending writes visible on screen in one pass.
func (fb *Framebuffer) Flush() {
	copy(fb.physFb, fb.shadowFb)
}

// WriteRGBA sets a single cell using RGBA foreground/background colors,
// quantizing them to the nearest 16-color text-mode attribute.
func (fb *Framebuffer) WriteRGBA(ch byte, fg, bg RGBA, x, y uint16) {
	fb.Write(ch, makeAttrFromRGBA(fg, bg), x, y)
}

// palette holds the RGBA values of the 16 text-mode colors, in Attr order.
var palette = [16]RGBA{
	Black:        0x000000ff,
	Blue:         0x0000aaff,
	Green:        0x00aa00ff,
	Cyan:         0x00aaaaff,
	Red:          0xaa0000ff,
	Magenta:      0xaa00aaff,
	Brown:        0xaa5500ff,
	LightGrey:    0xaaaaaaff,
	Grey:         0x555555ff,
	LightBlue:    0x5555ffff,
	LightGreen:   0x55ff55ff,
	LightCyan:    0x55ffffff,
	LightRed:     0xff5555ff,
	LightMagenta: 0xff55ffff,
	LightBrown:   0xffff55ff,
	White:        0xffffffff,
}

func makeAttrFromRGBA(fg, bg RGBA) Attr {
	return Attr((nearestAttr(bg) << 4) | (nearestAttr(fg) & 0xF))
}

// NearestAttr exposes nearestAttr to callers (such as the terminal's SGR
// handling) that need to fold a 24-bit or 8-bit color request down onto the
// 16-color palette without going through a Framebuffer value.
func NearestAttr(c RGBA) Attr {
	return nearestAttr(c)
}

// nearestAttr quantizes an RGBA color to the 16-color text-mode palette
// entry with the smallest per-channel distance.
func nearestAttr(c RGBA) Attr {
	r := byte(c >> 24)
	g := byte(c >> 16)
	b := byte(c >> 8)

	best := Attr(0)
	bestDist := ^uint32(0)
	for i, p := range palette {
		pr := byte(p >> 24)
		pg := byte(p >> 16)
		pb := byte(p >> 8)

		dist := sqDiff(r, pr) + sqDiff(g, pg) + sqDiff(b, pb)
		if dist < bestDist {
			bestDist = dist
			best = Attr(i)
		}
	}
	return best
}

func sqDiff(a, b byte) uint32 {
	var d int32
	if a > b {
		d = int32(a - b)
	} else {
		d = int32(b - a)
	}
	return uint32(d * d)
}
