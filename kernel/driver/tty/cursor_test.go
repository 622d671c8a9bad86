package tty

import "testing"

func TestCursorStateSetAndGetPosition(t *testing.T) {
	var c CursorState
	c.setPosition(4, 2)

	col, row := c.position()
	if col != 4 || row != 2 {
		t.Fatalf("position() = (%d, %d), want (4, 2)", col, row)
	}
}

func TestCursorStateSaveRestore(t *testing.T) {
	var c CursorState
	c.setPosition(3, 3)
	c.save()
	c.setPosition(9, 9)

	col, row := c.restore()
	if col != 3 || row != 3 {
		t.Fatalf("restore() = (%d, %d), want (3, 3)", col, row)
	}
}
