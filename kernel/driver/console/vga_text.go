// Package console provides the VGA text-mode terminal that kernel log output
// is written to once the physical memory mapping is available.
package console

import (
	"unsafe"

	"nucleus/kernel/mem"
	"nucleus/kernel/sync"
)

// Attr defines a color attribute.
type Attr uint8

// The set of colors supported by VGA text mode.
const (
	Black Attr = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGrey
	Grey
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	LightBrown
	White
)

const (
	// framebufferAddr is the physical address of the text-mode buffer.
	framebufferAddr = mem.PhysAddr(0xb8000)

	defaultWidth  = 80
	defaultHeight = 25
	tabWidth      = 4

	clearChar = byte(' ')
)

var (
	// Default is the terminal backed by the VGA text buffer.
	Default Terminal

	// framebufferFn is mocked by tests and is automatically inlined by the
	// compiler.
	framebufferFn = func(cells int) []uint16 {
		return unsafe.Slice((*uint16)(unsafe.Pointer(uintptr(framebufferAddr.Virtual()))), cells)
	}
)

// Terminal renders text into a VGA text-mode framebuffer. It handles CR, LF,
// TAB and BS and scrolls once the cursor moves past the last line. It is
// safe to write to it from interrupt handlers.
type Terminal struct {
	lock sync.IRQSpinlock

	fb     []uint16
	width  uint16
	height uint16

	curX, curY uint16
	attr       Attr
}

// Init attaches the terminal to the text-mode framebuffer and clears it. The
// physical memory offset must be configured before calling Init.
func (t *Terminal) Init() {
	t.lock.Acquire()
	defer t.lock.Release()

	t.width, t.height = defaultWidth, defaultHeight
	t.fb = framebufferFn(defaultWidth * defaultHeight)
	t.attr = makeAttr(LightGrey, Black)
	t.curX, t.curY = 0, 0
	t.clear(0, 0, t.width, t.height)
}

// Dimensions returns the terminal width and height in characters.
func (t *Terminal) Dimensions() (uint16, uint16) {
	return t.width, t.height
}

// Position returns the current cursor position (x, y).
func (t *Terminal) Position() (uint16, uint16) {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.curX, t.curY
}

// SetPosition moves the cursor to (x, y), clipping it to the screen.
func (t *Terminal) SetPosition(x, y uint16) {
	t.lock.Acquire()
	defer t.lock.Release()

	if x >= t.width {
		x = t.width - 1
	}
	if y >= t.height {
		y = t.height - 1
	}
	t.curX, t.curY = x, y
}

// SetColors sets the colors used for subsequent writes.
func (t *Terminal) SetColors(fg, bg Attr) {
	t.lock.Acquire()
	t.attr = makeAttr(fg, bg)
	t.lock.Release()
}

// Write implements io.Writer.
func (t *Terminal) Write(data []byte) (int, error) {
	t.lock.Acquire()
	defer t.lock.Release()

	if t.fb == nil {
		return len(data), nil
	}

	for _, b := range data {
		t.writeByte(b)
	}
	return len(data), nil
}

func (t *Terminal) writeByte(b byte) {
	switch b {
	case '\r':
		t.curX = 0
	case '\n':
		t.curX = 0
		t.lf()
	case '\b':
		if t.curX > 0 {
			t.curX--
		}
	case '\t':
		for i := 0; i < tabWidth; i++ {
			t.put(clearChar)
		}
	default:
		t.put(b)
	}
}

// put writes ch at the cursor and advances it, wrapping to the next line.
func (t *Terminal) put(ch byte) {
	t.fb[t.curY*t.width+t.curX] = uint16(t.attr)<<8 | uint16(ch)
	t.curX++
	if t.curX == t.width {
		t.curX = 0
		t.lf()
	}
}

// lf advances the cursor by one line scrolling the contents up if the last
// line is reached.
func (t *Terminal) lf() {
	if t.curY+1 < t.height {
		t.curY++
		return
	}

	copy(t.fb, t.fb[t.width:])
	t.clear(0, t.height-1, t.width, 1)
}

// clear blanks the rectangle at (x, y), clipped to the screen.
func (t *Terminal) clear(x, y, width, height uint16) {
	if x >= t.width || y >= t.height {
		return
	}
	if x+width > t.width {
		width = t.width - x
	}
	if y+height > t.height {
		height = t.height - y
	}

	blank := uint16(makeAttr(LightGrey, Black))<<8 | uint16(clearChar)
	for row := y; row < y+height; row++ {
		offset := row*t.width + x
		for col := offset; col < offset+width; col++ {
			t.fb[col] = blank
		}
	}
}

func makeAttr(fg, bg Attr) Attr {
	return (bg << 4) | (fg & 0xf)
}
