package vmm

import (
	"unsafe"

	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
)

var (
	// tableFn returns a pointer to the page table stored in the supplied
	// frame. Tables are reached through the physical memory window set up
	// by the boot code. Tests override it to back tables with regular
	// memory. When compiling the kernel this function will be
	// automatically inlined.
	tableFn = func(frame pmm.Frame) *pageTable {
		return (*pageTable)(unsafe.Pointer(uintptr(frame.Address().Virtual())))
	}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the table stored in root. It calls the supplied walkFn with the page table
// entry that corresponds to each page table level. Once walkFn returns for a
// non-leaf entry, the entry must point to the next table.
func walk(root pmm.Frame, virtAddr mem.VirtAddr, walkFn pageTableWalker) {
	table := tableFn(root)
	for level := uint8(0); level < pageLevels; level++ {
		pte := &table[virtAddr.TableIndex(level)]
		if !walkFn(level, pte) {
			return
		}

		if level < pageLevels-1 {
			table = tableFn(pte.Frame())
		}
	}
}
