package tty

import "corvid/kernel/sync"

// CursorState holds the terminal cursor's current and saved position behind
// its own lock, so a blink task can read it without contending with a
// concurrent writer touching color or display state.
type CursorState struct {
	mu sync.Spinlock

	col, row           uint16
	savedCol, savedRow uint16
}

func (c *CursorState) position() (uint16, uint16) {
	c.mu.Acquire()
	defer c.mu.Release()
	return c.col, c.row
}

func (c *CursorState) setPosition(col, row uint16) {
	c.mu.Acquire()
	defer c.mu.Release()
	c.col, c.row = col, row
}

func (c *CursorState) save() {
	c.mu.Acquire()
	defer c.mu.Release()
	c.savedCol, c.savedRow = c.col, c.row
}

func (c *CursorState) restore() (uint16, uint16) {
	c.mu.Acquire()
	defer c.mu.Release()
	c.col, c.row = c.savedCol, c.savedRow
	return c.col, c.row
}
