package tty

import (
	"corvid/kernel/driver/video/console"
	"corvid/kernel/sync"
)

const charWidth = 8 // tab stop width in columns, the standard VT100 value

// DisplayState holds the terminal's screen geometry and the framebuffer
// device it renders to, behind its own lock so a concurrent cursor-blink
// task can read dimensions without contending with the writer.
type DisplayState struct {
	mu sync.Spinlock

	fb         *console.Framebuffer
	cols, rows uint16
}

func (d *DisplayState) dimensions() (uint16, uint16) {
	d.mu.Acquire()
	defer d.mu.Release()
	return d.cols, d.rows
}

// Terminal is a framebuffer-backed ANSI/VT terminal: a UTF-8/VT500 parser
// drives independently-locked cursor, color and display state, following
// the teacher's Vt in shape (concrete console handle, Write/WriteByte as
// the io surface) but with the parser and locking entirely new.
type Terminal struct {
	display *DisplayState
	cursor  CursorState
	color   ColorState
	parser  ansiParser

	// parserLock serializes the write path; it is distinct from display's
	// lock so a blink task can still read cursor/display state mid-write.
	parserLock sync.Spinlock
}

// AttachTo links the terminal to a framebuffer console and resets cursor
// and color state to their defaults.
func (t *Terminal) AttachTo(fb *console.Framebuffer) {
	cols, rows := fb.Dimensions()
	t.display = &DisplayState{fb: fb, cols: cols, rows: rows}
	t.cursor.setPosition(0, 0)
	t.color.reset()
}

// Clear clears the whole screen and homes the cursor.
func (t *Terminal) Clear() {
	cols, rows := t.display.dimensions()
	t.display.fb.Clear(0, 0, cols, rows)
	t.display.fb.Flush()
	t.cursor.setPosition(0, 0)
}

// Position returns the current cursor position (col, row).
func (t *Terminal) Position() (uint16, uint16) {
	return t.cursor.position()
}

// Write implements io.Writer, feeding every byte through the ANSI parser.
func (t *Terminal) Write(data []byte) (int, error) {
	t.parserLock.Acquire()
	defer t.parserLock.Release()

	for _, b := range data {
		t.parser.feed(b, t)
	}
	t.display.fb.Flush()
	return len(data), nil
}

// WriteByte implements io.ByteWriter.
func (t *Terminal) WriteByte(b byte) error {
	t.parserLock.Acquire()
	t.parser.feed(b, t)
	t.display.fb.Flush()
	t.parserLock.Release()
	return nil
}

// print renders a single codepoint at the cursor, advances it, and scrolls
// if the advance runs past the last column.
func (t *Terminal) print(ch rune) {
	col, row := t.cursor.position()
	cols, _ := t.display.dimensions()

	width := glyphColumns(ch)
	if col+width > cols {
		col = 0
		row = t.advanceLine(row)
	}

	fg, bg := t.color.effective()
	t.printCharAt(col, row, ch, fg, bg)
	col += width
	if col >= cols {
		col = 0
		row = t.advanceLine(row)
	}
	t.cursor.setPosition(col, row)
}

// printCharAt draws ch at (col,row) with the given colors, padding any
// extra columns a wide glyph occupies with invisible filler cells.
func (t *Terminal) printCharAt(col, row uint16, ch rune, fg, bg console.Attr) {
	b := byte(ch)
	if ch > 0xFF {
		b = '?'
	}
	t.display.fb.Write(b, makeAttr(fg, bg), col, row)

	for i := uint16(1); i < glyphColumns(ch); i++ {
		if col+i >= mustCols(t.display) {
			break
		}
		t.display.fb.Write(0, console.Attr(0), col+i, row)
	}
}

func mustCols(d *DisplayState) uint16 {
	cols, _ := d.dimensions()
	return cols
}

// glyphColumns returns how many character cells ch occupies. Combining
// forms and double-width CJK glyphs are out of scope; every codepoint here
// occupies exactly one cell.
func glyphColumns(ch rune) uint16 {
	return 1
}

// execute handles a C0 control character.
func (t *Terminal) execute(b byte) {
	switch b {
	case '\t':
		t.tab()
	case '\n':
		t.newline()
	case 0x07:
		// Bell: no speaker driver in this port: intentionally a no-op.
	}
}

func (t *Terminal) tab() {
	col, row := t.cursor.position()
	cols, _ := t.display.dimensions()

	next := (col/charWidth + 1) * charWidth
	if next >= cols {
		col = 0
		row = t.advanceLine(row)
	} else {
		col = next
	}
	t.cursor.setPosition(col, row)
}

func (t *Terminal) newline() {
	_, row := t.cursor.position()
	cols, _ := t.display.dimensions()

	t.display.fb.Clear(0, row, cols, 1)
	row = t.advanceLine(row)
	t.cursor.setPosition(0, row)
}

// advanceLine moves to the next row, scrolling the display up by one line
// whenever the cursor would move past the last row.
func (t *Terminal) advanceLine(row uint16) uint16 {
	_, rows := t.display.dimensions()
	if row+1 < rows {
		return row + 1
	}

	t.display.mu.Acquire()
	t.display.fb.Scroll(console.Up, 1)
	t.display.fb.Clear(0, rows-1, t.display.cols, 1)
	t.display.mu.Release()
	return rows - 1
}

// csiDispatch handles a completed CSI sequence, routed by its final byte.
func (t *Terminal) csiDispatch(params []int, final byte) {
	switch final {
	case 'A':
		t.moveCursor(0, -int16(param1(params)))
	case 'B':
		t.moveCursor(0, int16(param1(params)))
	case 'C':
		t.moveCursor(int16(param1(params)), 0)
	case 'D':
		t.moveCursor(-int16(param1(params)), 0)
	case 'E':
		t.moveCursorLine(int16(param1(params)))
	case 'F':
		t.moveCursorLine(-int16(param1(params)))
	case 'G':
		t.setColumn(param1(params) - 1)
	case 'H', 'f':
		t.setPosition(params)
	case 's':
		t.cursor.save()
	case 'u':
		t.cursor.restore()
	case 'J':
		t.eraseDisplay(param0(params))
	case 'K':
		t.eraseLine(param0(params))
	case 'm':
		t.color.applySGR(params)
	}
}

// param1 returns the first CSI parameter, defaulting 0 to 1 (standard VT
// behavior for relative-movement counts).
func param1(params []int) uint16 {
	if len(params) == 0 || params[0] == 0 {
		return 1
	}
	return uint16(params[0])
}

// param0 returns the first CSI parameter, defaulting to 0 (erase-code
// semantics, where 0 is itself a meaningful value).
func param0(params []int) int {
	if len(params) == 0 {
		return 0
	}
	return params[0]
}

func (t *Terminal) moveCursor(dCol, dRow int16) {
	col, row := t.cursor.position()
	cols, rows := t.display.dimensions()

	nCol := clamp(int(col)+int(dCol), 0, int(cols)-1)
	nRow := clamp(int(row)+int(dRow), 0, int(rows)-1)
	t.cursor.setPosition(uint16(nCol), uint16(nRow))
}

func (t *Terminal) moveCursorLine(n int16) {
	_, row := t.cursor.position()
	_, rows := t.display.dimensions()
	nRow := clamp(int(row)+int(n), 0, int(rows)-1)
	t.cursor.setPosition(0, uint16(nRow))
}

func (t *Terminal) setColumn(col uint16) {
	_, row := t.cursor.position()
	cols, _ := t.display.dimensions()
	t.cursor.setPosition(clampU16(col, 0, cols-1), row)
}

// setPosition implements CSI H/f. With no parameters it homes to (0,0);
// otherwise params are row;col, both 1-based, each defaulting to 1.
func (t *Terminal) setPosition(params []int) {
	cols, rows := t.display.dimensions()
	if len(params) == 0 {
		t.cursor.setPosition(0, 0)
		return
	}
	row := param1(params) - 1
	var col uint16 = 1
	if len(params) > 1 && params[1] != 0 {
		col = uint16(params[1])
	}
	col--
	t.cursor.setPosition(clampU16(col, 0, cols-1), clampU16(row, 0, rows-1))
}

// eraseDisplay implements CSI J: 0 cursor-to-end, 1 start-to-cursor, 2 whole
// screen (and homes the cursor).
func (t *Terminal) eraseDisplay(mode int) {
	cols, rows := t.display.dimensions()
	col, row := t.cursor.position()

	switch mode {
	case 0:
		t.display.fb.Clear(col, row, cols-col, 1)
		if row+1 < rows {
			t.display.fb.Clear(0, row+1, cols, rows-row-1)
		}
	case 1:
		t.display.fb.Clear(0, row, col+1, 1)
		if row > 0 {
			t.display.fb.Clear(0, 0, cols, row)
		}
	case 2:
		t.display.fb.Clear(0, 0, cols, rows)
		t.cursor.setPosition(0, 0)
	}
}

// eraseLine implements CSI K: 0 cursor-to-EOL, 1 start-of-line-to-cursor, 2
// whole line.
func (t *Terminal) eraseLine(mode int) {
	cols, _ := t.display.dimensions()
	col, row := t.cursor.position()

	switch mode {
	case 0:
		t.display.fb.Clear(col, row, cols-col, 1)
	case 1:
		t.display.fb.Clear(0, row, col+1, 1)
	case 2:
		t.display.fb.Clear(0, row, cols, 1)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU16(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
