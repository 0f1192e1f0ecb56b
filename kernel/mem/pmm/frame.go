// Package pmm contains the types that describe physical memory: frames, the
// memory map handed over by the boot code and the regions carved out of it.
package pmm

import (
	"math"

	"nucleus/kernel"
	"nucleus/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// FrameFromAddress returns the Frame starting at physAddr. It fails with
// mem.ErrUnaligned if physAddr is not page-aligned.
func FrameFromAddress(physAddr mem.PhysAddr) (Frame, *kernel.Error) {
	if !physAddr.IsAligned(mem.PageSize) {
		return InvalidFrame, mem.ErrUnaligned
	}

	return Frame(physAddr >> mem.PageShift), nil
}

// FrameContaining returns the Frame that contains physAddr.
func FrameContaining(physAddr mem.PhysAddr) Frame {
	return Frame(physAddr >> mem.PageShift)
}

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() mem.PhysAddr {
	return mem.PhysAddr(f << mem.PageShift)
}
