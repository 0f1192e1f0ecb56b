package pmm

import "nucleus/kernel/mem"

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemMMIO indicates a region that is backed by device registers.
	MemMMIO

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

var (
	memoryEntryTypeNames = []string{
		"available",
		"reserved",
		"ACPI (reclaimable)",
		"NVS",
		"MMIO",
	}
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	if t == 0 || t >= memUnknown {
		return memoryEntryTypeNames[MemReserved-1]
	}
	return memoryEntryTypeNames[t-1]
}

// MemoryMapEntry describes a region of physical memory as reported by the
// boot code.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress mem.PhysAddr

	// The length of the memory region.
	Length mem.Size

	// The type of this entry.
	Type MemoryEntryType
}

// Region returns the page-aligned frame range fully contained in this entry.
// Partial pages at either end are dropped.
func (e MemoryMapEntry) Region() Region {
	start := e.PhysAddress.AlignUp(mem.PageSize)
	end := (e.PhysAddress + mem.PhysAddr(e.Length)).AlignDown(mem.PageSize)
	if end <= start {
		return Region{}
	}

	return Region{Start: FrameContaining(start), End: FrameContaining(end)}
}

// MemoryMap is the ordered list of memory regions handed over by the boot
// code.
type MemoryMap []MemoryMapEntry

// Visit invokes visitor for each entry of the map until visitor returns false.
func (m MemoryMap) Visit(visitor func(*MemoryMapEntry) bool) {
	for i := range m {
		if !visitor(&m[i]) {
			return
		}
	}
}

// Region is a half-open range [Start, End) of physical frames.
type Region struct {
	Start Frame
	End   Frame
}

// RegionFromAddresses returns the smallest frame range that covers the
// physical address range [start, end).
func RegionFromAddresses(start, end mem.PhysAddr) Region {
	if end <= start {
		return Region{}
	}

	return Region{
		Start: FrameContaining(start),
		End:   FrameContaining(end.AlignUp(mem.PageSize)),
	}
}

// Empty returns true if the region contains no frames.
func (r Region) Empty() bool {
	return r.End <= r.Start
}

// Len returns the number of frames in the region.
func (r Region) Len() uint64 {
	if r.Empty() {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Contains returns true if frame lies inside the region.
func (r Region) Contains(frame Frame) bool {
	return frame >= r.Start && frame < r.End
}

// Overlaps returns true if the two regions share at least one frame.
func (r Region) Overlaps(other Region) bool {
	return !r.Empty() && !other.Empty() && r.Start < other.End && other.Start < r.End
}
