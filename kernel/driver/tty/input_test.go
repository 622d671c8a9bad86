package tty

import (
	"testing"
	"unsafe"

	"corvid/kernel/driver/video/console"
)

func TestReadRawFiltersNegativeSentinels(t *testing.T) {
	values := []int16{-1, -1, 65}
	i := 0
	readFn := func() int16 {
		v := values[i]
		i++
		return v
	}

	if got := ReadRaw(readFn); got != 'A' {
		t.Fatalf("ReadRaw() = %q, want 'A'", got)
	}
	if i != 3 {
		t.Fatalf("expected 3 reads (2 filtered + 1 real), got %d", i)
	}
}

func TestReadMixedDecodesUnicode(t *testing.T) {
	readFn := func() int16 { return 30 }
	decodeFn := func(v int16) (rune, bool) { return 'a', true }

	ev := ReadMixed(readFn, decodeFn)
	if ev.Kind != Unicode || ev.Value != 'a' {
		t.Fatalf("ReadMixed() = %+v, want {Unicode 'a'}", ev)
	}
}

func TestReadMixedFallsBackToRawKey(t *testing.T) {
	readFn := func() int16 { return 72 }
	decodeFn := func(v int16) (rune, bool) { return 0, false }

	ev := ReadMixed(readFn, decodeFn)
	if ev.Kind != RawKey || ev.Value != 72 {
		t.Fatalf("ReadMixed() = %+v, want {RawKey 72}", ev)
	}
}

func TestReadCookedReturnsOnNewline(t *testing.T) {
	phys := make([]uint16, 10*2)
	fb := &console.Framebuffer{}
	fb.Init(10, 2, uintptr(unsafe.Pointer(&phys[0])))
	term := &Terminal{}
	term.AttachTo(fb)

	input := []rune{'h', 'i', '\n'}
	i := 0
	readFn := func() int16 {
		v := int16(input[i])
		i++
		return v
	}
	decodeFn := func(v int16) (rune, bool) { return rune(v), true }

	got := ReadCooked(term, readFn, decodeFn)
	if got != "hi" {
		t.Fatalf("ReadCooked() = %q, want %q", got, "hi")
	}
}

func TestReadCookedBackspacePopsBuffer(t *testing.T) {
	phys := make([]uint16, 10*2)
	fb := &console.Framebuffer{}
	fb.Init(10, 2, uintptr(unsafe.Pointer(&phys[0])))
	term := &Terminal{}
	term.AttachTo(fb)

	input := []rune{'h', 'i', '\b', '\n'}
	i := 0
	readFn := func() int16 {
		v := int16(input[i])
		i++
		return v
	}
	decodeFn := func(v int16) (rune, bool) { return rune(v), true }

	got := ReadCooked(term, readFn, decodeFn)
	if got != "h" {
		t.Fatalf("ReadCooked() = %q, want %q", got, "h")
	}
}
