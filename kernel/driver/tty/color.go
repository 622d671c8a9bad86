package tty

import (
	"corvid/kernel/driver/video/console"
	"corvid/kernel/sync"
)

// brightVariant maps a base color to its "light"/bright counterpart, mirroring
// the console package's Light-prefixed Attr constants.
var brightVariant = [...]console.Attr{
	console.Black:        console.Grey,
	console.Blue:         console.LightBlue,
	console.Green:        console.LightGreen,
	console.Cyan:         console.LightCyan,
	console.Red:          console.LightRed,
	console.Magenta:      console.LightMagenta,
	console.Brown:        console.LightBrown,
	console.LightGrey:    console.White,
	console.Grey:         console.Grey,
	console.LightBlue:    console.LightBlue,
	console.LightGreen:   console.LightGreen,
	console.LightCyan:    console.LightCyan,
	console.LightRed:     console.LightRed,
	console.LightMagenta: console.LightMagenta,
	console.LightBrown:   console.LightBrown,
	console.White:        console.White,
}

// ColorState holds the active SGR state: the base fg/bg colors plus the
// modifier bits that get folded together when effective() computes what
// actually gets painted.
type ColorState struct {
	mu sync.Spinlock

	fgBase, bgBase                   console.Attr
	invert, bright, dim              bool
	fgBright, bgBright                bool
}

func (c *ColorState) reset() {
	c.mu.Acquire()
	defer c.mu.Release()
	c.fgBase, c.bgBase = console.White, console.Black
	c.invert, c.bright, c.dim = false, false, false
	c.fgBright, c.bgBright = false, false
}

// effective computes the fg/bg pair that should actually be painted,
// folding in invert/bright/dim per the documented left-to-right precedence.
func (c *ColorState) effective() (fg, bg console.Attr) {
	c.mu.Acquire()
	defer c.mu.Release()

	fg, bg = c.fgBase, c.bgBase
	if c.invert {
		fg, bg = bg, fg
	}
	if c.bright || c.fgBright {
		fg = brightVariant[fg&0xF]
	}
	if c.dim {
		fg = dimVariant(fg)
	}
	if c.bgBright {
		bg = brightVariant[bg&0xF]
	}
	return fg, bg
}

// dimVariant maps a bright color back down to its base shade; anything
// already a base shade is left alone.
func dimVariant(a console.Attr) console.Attr {
	for base, bright := range brightVariant {
		if console.Attr(base) != bright && bright == a {
			return console.Attr(base)
		}
	}
	return a
}

// applySGR processes one `m`-terminated CSI parameter list left to right,
// consuming extra params for the 38/48 extended-color forms.
func (c *ColorState) applySGR(params []int) {
	c.mu.Acquire()
	defer c.mu.Release()

	if len(params) == 0 {
		params = []int{0}
	}

	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			c.fgBase, c.bgBase = console.White, console.Black
			c.invert, c.bright, c.dim = false, false, false
			c.fgBright, c.bgBright = false, false
		case p == 1:
			c.bright = true
		case p == 2:
			c.dim = true
		case p == 22:
			c.bright, c.dim = false, false
		case p == 7:
			c.invert = true
		case p == 27:
			c.invert = false
		case p >= 30 && p <= 37:
			c.fgBase, c.fgBright = ansiColorAt(p-30), false
		case p >= 90 && p <= 97:
			c.fgBase, c.fgBright = ansiColorAt(p-90), true
		case p >= 40 && p <= 47:
			c.bgBase, c.bgBright = ansiColorAt(p-40), false
		case p >= 100 && p <= 107:
			c.bgBase, c.bgBright = ansiColorAt(p-100), true
		case p == 38 || p == 48:
			consumed, clr := extendedColor(params[i+1:])
			i += consumed
			if p == 38 {
				c.fgBase, c.fgBright = clr, false
			} else {
				c.bgBase, c.bgBright = clr, false
			}
		}
	}
}

// ansiColor maps the standard 0-7 SGR color index to the console palette,
// whose EGA ordering differs from ANSI's: red/blue and brown(yellow)/cyan
// swap places, so this table is not the identity.
var ansiColor = []console.Attr{
	console.Black, console.Red, console.Green, console.Brown,
	console.Blue, console.Magenta, console.Cyan, console.LightGrey,
}

func ansiColorAt(i int) console.Attr {
	if i < 0 || i >= len(ansiColor) {
		return console.LightGrey
	}
	return ansiColor[i]
}

// extendedColor parses the tail of a 38/48 SGR sequence (`5;n` or
// `2;r;g;b`), returning how many extra params it consumed and the nearest
// palette color for the requested RGB/8-bit value.
func extendedColor(rest []int) (consumed int, clr console.Attr) {
	if len(rest) == 0 {
		return 0, console.LightGrey
	}
	switch rest[0] {
	case 5:
		if len(rest) < 2 {
			return 1, console.LightGrey
		}
		return 2, palette256(rest[1])
	case 2:
		if len(rest) < 4 {
			return len(rest), console.LightGrey
		}
		r, g, b := byte(rest[1]), byte(rest[2]), byte(rest[3])
		return 4, console.NearestAttr(console.RGBA(uint32(r)<<24 | uint32(g)<<16 | uint32(b)<<8 | 0xff))
	}
	return 1, console.LightGrey
}

// palette256 folds the 256-color xterm palette down onto the 16-color
// console palette: entries 0-7 map to the base colors and 8-15 to their
// bright variants. Entries 16-255 (and out-of-range values) all yield
// LightGrey; they are not matched to a palette color by RGB value.
func palette256(n int) console.Attr {
	if n >= 0 && n < 8 {
		return ansiColorAt(n)
	}
	if n >= 8 && n < 16 {
		return brightVariant[ansiColorAt(n-8)]
	}
	return console.LightGrey
}
