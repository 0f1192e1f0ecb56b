package mem

import "nucleus/kernel"

var (
	// ErrUnaligned is returned by the checked address constructors when
	// the supplied value is not a multiple of the requested alignment.
	ErrUnaligned = &kernel.Error{Module: "mem", Message: "address is not aligned"}

	// ErrNonCanonical is returned by NewVirtAddr for addresses whose upper
	// bits are not a sign extension of bit 47.
	ErrNonCanonical = &kernel.Error{Module: "mem", Message: "virtual address is not canonical"}

	// ErrPhysAddrRange is returned by NewPhysAddr for addresses beyond the
	// architectural physical address width.
	ErrPhysAddrRange = &kernel.Error{Module: "mem", Message: "physical address exceeds the supported address width"}

	// physMemOffset is the virtual address at which the boot code mapped
	// the whole physical address space.
	physMemOffset VirtAddr
)

// PhysAddr is a location in physical memory. It must never be dereferenced
// directly; use Virtual to obtain an address inside the physical memory
// window.
type PhysAddr uintptr

// VirtAddr is a location in the virtual address space of the currently
// active page table.
type VirtAddr uintptr

// NewPhysAddr returns addr as a PhysAddr after checking that it is a multiple
// of align. An align value of 0 or 1 disables the alignment check. align must
// be a power of two.
func NewPhysAddr(addr uintptr, align Size) (PhysAddr, *kernel.Error) {
	if uint64(addr)>>physAddrBits != 0 {
		return 0, ErrPhysAddrRange
	}

	if !isAligned(addr, align) {
		return 0, ErrUnaligned
	}

	return PhysAddr(addr), nil
}

// NewVirtAddr returns addr as a VirtAddr after checking that it is canonical
// and a multiple of align. An align value of 0 or 1 disables the alignment
// check. align must be a power of two.
func NewVirtAddr(addr uintptr, align Size) (VirtAddr, *kernel.Error) {
	if !isCanonical(addr) {
		return 0, ErrNonCanonical
	}

	if !isAligned(addr, align) {
		return 0, ErrUnaligned
	}

	return VirtAddr(addr), nil
}

// IsAligned returns true if the address is a multiple of align.
func (a PhysAddr) IsAligned(align Size) bool { return isAligned(uintptr(a), align) }

// AlignDown rounds the address down to a multiple of align.
func (a PhysAddr) AlignDown(align Size) PhysAddr { return PhysAddr(alignDown(uintptr(a), align)) }

// AlignUp rounds the address up to a multiple of align.
func (a PhysAddr) AlignUp(align Size) PhysAddr { return PhysAddr(alignUp(uintptr(a), align)) }

// Virtual returns the address inside the physical memory window through
// which this physical address can be accessed.
func (a PhysAddr) Virtual() VirtAddr { return physMemOffset + VirtAddr(a) }

// IsAligned returns true if the address is a multiple of align.
func (a VirtAddr) IsAligned(align Size) bool { return isAligned(uintptr(a), align) }

// AlignDown rounds the address down to a multiple of align.
func (a VirtAddr) AlignDown(align Size) VirtAddr { return VirtAddr(alignDown(uintptr(a), align)) }

// AlignUp rounds the address up to a multiple of align.
func (a VirtAddr) AlignUp(align Size) VirtAddr { return VirtAddr(alignUp(uintptr(a), align)) }

// PageOffset returns the offset of the address within its page.
func (a VirtAddr) PageOffset() uintptr { return uintptr(a) & uintptr(PageSize-1) }

// TableIndex returns the 9-bit index selected by this address in the page
// table at the given level. Level 0 is the top-most (PML4) table.
func (a VirtAddr) TableIndex(level uint8) uint16 {
	shift := PageShift + 9*(3-uint(level))
	return uint16((uintptr(a) >> shift) & 511)
}

// SetPhysMemOffset records the virtual address at which the boot code mapped
// all of physical memory. It must be called before any PhysAddr is converted
// with Virtual.
func SetPhysMemOffset(offset VirtAddr) {
	physMemOffset = offset
}

// PhysMemOffset returns the value installed by SetPhysMemOffset.
func PhysMemOffset() VirtAddr {
	return physMemOffset
}

func isAligned(addr uintptr, align Size) bool {
	if align <= 1 {
		return true
	}
	return addr&uintptr(align-1) == 0
}

func alignDown(addr uintptr, align Size) uintptr {
	if align <= 1 {
		return addr
	}
	return addr &^ uintptr(align-1)
}

func alignUp(addr uintptr, align Size) uintptr {
	if align <= 1 {
		return addr
	}
	return (addr + uintptr(align-1)) &^ uintptr(align-1)
}

func isCanonical(addr uintptr) bool {
	upper := uint64(addr) >> (virtAddrBits - 1)
	return upper == 0 || upper == (1<<(64-virtAddrBits+1))-1
}
