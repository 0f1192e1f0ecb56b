package vmm

import (
	"nucleus/kernel"
	"nucleus/kernel/cpu"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/sync"
)

var (
	// ErrAlreadyMapped is returned by Map when the target page already
	// has a mapping. The existing mapping is left untouched.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	// ErrNotMapped is returned when trying to lookup or unmap a virtual
	// memory address that is not yet mapped.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrHugePage is returned by Unmap when the page is part of a huge
	// page mapping.
	ErrHugePage = &kernel.Error{Module: "vmm", Message: "page is covered by a huge page mapping"}

	errNoAllocator = &kernel.Error{Module: "vmm", Message: "page table has no frame allocator"}

	// The following functions are used by tests to override calls that
	// will cause a fault if called in user-mode. They are automatically
	// inlined by the compiler.
	flushTLBEntryFn = cpu.FlushTLBEntry
	switchPDTFn     = cpu.SwitchPDT
	activePDTFn     = cpu.ActivePDT
)

// FrameAllocator is implemented by physical frame allocators that can
// provide frames for page tables and mapped pages.
type FrameAllocator interface {
	AllocFrame() (pmm.Frame, *kernel.Error)
	FreeFrame(pmm.Frame)
}

// PageTable manages a 4-level page table hierarchy rooted at a single frame.
// All walks run while holding the table lock so concurrent callers never
// observe a partially built hierarchy.
//
// Every frame installed by Map stays leased to whoever supplied it; Unmap
// hands it back to the caller instead of freeing it.
type PageTable struct {
	lock  sync.IRQSpinlock
	root  pmm.Frame
	alloc FrameAllocator
}

// Init allocates and clears a new root table. Intermediate tables created by
// Map are allocated from alloc as well.
func (pt *PageTable) Init(alloc FrameAllocator) *kernel.Error {
	if alloc == nil {
		return errNoAllocator
	}

	root, err := alloc.AllocFrame()
	if err != nil {
		return err
	}

	*tableFn(root) = pageTable{}

	pt.lock.Acquire()
	pt.root, pt.alloc = root, alloc
	pt.lock.Release()
	return nil
}

// Adopt takes over management of the page table hierarchy rooted at root,
// such as the one set up by the boot code.
func (pt *PageTable) Adopt(root pmm.Frame, alloc FrameAllocator) *kernel.Error {
	if alloc == nil {
		return errNoAllocator
	}

	pt.lock.Acquire()
	pt.root, pt.alloc = root, alloc
	pt.lock.Release()
	return nil
}

// AdoptActive takes over management of the page table currently loaded in
// the CPU.
func (pt *PageTable) AdoptActive(alloc FrameAllocator) *kernel.Error {
	return pt.Adopt(pmm.FrameContaining(mem.PhysAddr(activePDTFn())), alloc)
}

// Root returns the frame holding the top-level table.
func (pt *PageTable) Root() pmm.Frame {
	pt.lock.Acquire()
	defer pt.lock.Release()
	return pt.root
}

// Activate loads this table into the CPU, flushing all non-global TLB
// entries.
func (pt *PageTable) Activate() {
	switchPDTFn(uintptr(pt.Root().Address()))
}

// isActive returns true if the CPU is currently using this table. It must be
// called with the lock held.
func (pt *PageTable) isActive() bool {
	return pmm.FrameContaining(mem.PhysAddr(activePDTFn())) == pt.root
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate tables are allocated and cleared on demand;
// they are flagged as user-accessible only when the requested mapping is.
// FlagPresent is always set on the new entry.
//
// Map fails with ErrAlreadyMapped if the page is already mapped, either by
// a regular entry or by a huge page, and leaves the existing mapping as it
// was.
func (pt *PageTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		err        *kernel.Error
		tableFlags = FlagPresent | FlagRW | (flags & FlagUserAccessible)
	)

	pt.lock.Acquire()
	defer pt.lock.Release()

	if pt.alloc == nil {
		return errNoAllocator
	}

	walk(pt.root, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = ErrAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | FlagPresent)
			if pt.isActive() {
				flushTLBEntryFn(uintptr(page.Address()))
			}
			return true
		}

		if pte.HasFlags(FlagPresent) {
			if pte.HasFlags(FlagHugePage) {
				err = ErrAlreadyMapped
				return false
			}

			if flags&FlagUserAccessible != 0 {
				pte.SetFlags(FlagUserAccessible)
			}
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		var newTableFrame pmm.Frame
		if newTableFrame, err = pt.alloc.AllocFrame(); err != nil {
			return false
		}
		*tableFn(newTableFrame) = pageTable{}

		*pte = 0
		pte.SetFrame(newTableFrame)
		pte.SetFlags(tableFlags)
		return true
	})

	return err
}

// Unmap removes the mapping for page and returns the frame it pointed to.
// The frame is not released; the caller decides what to do with it. Tables
// that become empty are not reclaimed.
func (pt *PageTable) Unmap(page Page) (pmm.Frame, *kernel.Error) {
	var (
		err   = ErrNotMapped
		frame = pmm.InvalidFrame
	)

	pt.lock.Acquire()
	defer pt.lock.Release()

	walk(pt.root, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			frame, err = pte.Frame(), nil
			*pte = 0
			if pt.isActive() {
				flushTLBEntryFn(uintptr(page.Address()))
			}
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrHugePage
			return false
		}

		return true
	})

	return frame, err
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrNotMapped if the address is not mapped. 1G and 2M
// huge page entries terminate the walk.
func (pt *PageTable) Translate(virtAddr mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	var (
		err      = ErrNotMapped
		physAddr mem.PhysAddr
	)

	pt.lock.Acquire()
	defer pt.lock.Release()

	walk(pt.root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		// The huge page bit is reserved in the top-level table.
		if pteLevel == pageLevels-1 || (pteLevel > 0 && pte.HasFlags(FlagHugePage)) {
			size := levelSize(pteLevel)
			base := (uintptr(*pte) & ptePhysPageMask) &^ (size - 1)
			physAddr, err = mem.PhysAddr(base|uintptr(virtAddr)&(size-1)), nil
			return false
		}

		return true
	})

	return physAddr, err
}

// MapRegion maps count consecutive pages starting at startPage to count
// consecutive frames starting at startFrame. If any page cannot be mapped,
// the mappings installed by this call are removed before returning the
// error.
func (pt *PageTable) MapRegion(startPage Page, startFrame pmm.Frame, count uint64, flags PageTableEntryFlag) *kernel.Error {
	for i := uint64(0); i < count; i++ {
		if err := pt.Map(startPage+Page(i), startFrame+pmm.Frame(i), flags); err != nil {
			for ; i > 0; i-- {
				pt.Unmap(startPage + Page(i-1))
			}
			return err
		}
	}

	return nil
}

// IdentityMap maps count frames starting at startFrame to the pages with the
// same addresses.
func (pt *PageTable) IdentityMap(startFrame pmm.Frame, count uint64, flags PageTableEntryFlag) *kernel.Error {
	return pt.MapRegion(Page(startFrame), startFrame, count, flags)
}
