package tty

import (
	"testing"

	"corvid/kernel/driver/video/console"
)

func TestColorStateDefaultsToWhiteOnBlack(t *testing.T) {
	var c ColorState
	c.reset()

	fg, bg := c.effective()
	if fg != console.White || bg != console.Black {
		t.Fatalf("effective() = (%v, %v), want (White, Black)", fg, bg)
	}
}

func TestColorStateInvertSwapsFgBg(t *testing.T) {
	var c ColorState
	c.reset()
	c.applySGR([]int{31, 44, 7})

	fg, bg := c.effective()
	if fg != console.Blue || bg != console.Red {
		t.Fatalf("effective() = (%v, %v), want (Blue, Red) after invert", fg, bg)
	}
}

func TestColorStateBrightBrightensForeground(t *testing.T) {
	var c ColorState
	c.reset()
	c.applySGR([]int{1, 34})

	fg, _ := c.effective()
	if fg != console.LightBlue {
		t.Fatalf("fg = %v, want LightBlue", fg)
	}
}

func TestColorStateExtended8BitPalette(t *testing.T) {
	var c ColorState
	c.reset()
	c.applySGR([]int{38, 5, 2})

	fg, _ := c.effective()
	if fg != console.Green {
		t.Fatalf("fg = %v, want Green", fg)
	}
}

func TestColorStateExtended24BitNearestMatch(t *testing.T) {
	var c ColorState
	c.reset()
	// Pure red.
	c.applySGR([]int{38, 2, 255, 0, 0})

	fg, _ := c.effective()
	if fg != console.LightRed && fg != console.Red {
		t.Fatalf("fg = %v, want a red-family palette entry", fg)
	}
}

func TestColorStateResetAfterModifiers(t *testing.T) {
	var c ColorState
	c.reset()
	c.applySGR([]int{1, 7, 31, 0})

	fg, bg := c.effective()
	if fg != console.White || bg != console.Black {
		t.Fatalf("effective() = (%v, %v), want (White, Black) after SGR 0", fg, bg)
	}
}
