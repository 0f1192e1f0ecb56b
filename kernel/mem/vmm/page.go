package vmm

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
)

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() mem.VirtAddr {
	return mem.VirtAddr(p << mem.PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr mem.VirtAddr) Page {
	return Page(virtAddr.AlignDown(mem.PageSize) >> mem.PageShift)
}

// PageStartingAt returns the Page that begins at virtAddr, failing with
// mem.ErrUnaligned if virtAddr is not page-aligned.
func PageStartingAt(virtAddr mem.VirtAddr) (Page, *kernel.Error) {
	if !virtAddr.IsAligned(mem.PageSize) {
		return 0, mem.ErrUnaligned
	}
	return Page(virtAddr >> mem.PageShift), nil
}
