package vmm

import (
	"nucleus/kernel"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
)

const (
	// KernelHeapStart is the virtual address where the kernel heap begins.
	KernelHeapStart = mem.VirtAddr(0x4444_4444_0000)

	// KernelHeapSize is the initial size of the kernel heap.
	KernelHeapSize = 100 * mem.Kb
)

var (
	// zeroFrameFn clears the contents of a frame through the physical
	// memory window. It is mocked by tests.
	zeroFrameFn = func(frame pmm.Frame) {
		mem.Memset(uintptr(frame.Address().Virtual()), 0, mem.PageSize)
	}
)

// MapKernelHeap backs the virtual range [start, start+size) with freshly
// allocated, zeroed frames mapped as writable and non-executable. size is
// rounded up to a page multiple and start must be page-aligned. If any page
// fails, every page mapped so far is unmapped and its frame released.
func (pt *PageTable) MapKernelHeap(start mem.VirtAddr, size mem.Size) *kernel.Error {
	if pt.alloc == nil {
		return errNoAllocator
	}

	startPage, err := PageStartingAt(start)
	if err != nil {
		return err
	}

	pageCount := size.Pages()
	for i := uint64(0); i < pageCount; i++ {
		frame, err := pt.alloc.AllocFrame()
		if err == nil {
			zeroFrameFn(frame)
			if err = pt.Map(startPage+Page(i), frame, FlagPresent|FlagRW|FlagNoExecute); err != nil {
				pt.alloc.FreeFrame(frame)
			}
		}

		if err != nil {
			pt.releaseHeapPages(startPage, i)
			return err
		}
	}

	return nil
}

// releaseHeapPages unmaps count pages starting at startPage and returns
// their frames to the allocator.
func (pt *PageTable) releaseHeapPages(startPage Page, count uint64) {
	for i := uint64(0); i < count; i++ {
		if frame, err := pt.Unmap(startPage + Page(i)); err == nil {
			pt.alloc.FreeFrame(frame)
		}
	}
}
