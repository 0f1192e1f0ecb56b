//go:build !race

// The tests in this file reach Go-allocated buffers through the physical
// memory window, which the race detector's pointer checks reject.

package allocator

import (
	"testing"
	"unsafe"

	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
)

// emulatePhysMem points the physical memory window at a buffer of the given
// number of pages, filled with 0xf0, that stands in for physical address 0.
func emulatePhysMem(t *testing.T, pages int) []byte {
	t.Helper()

	origOffset := mem.PhysMemOffset()
	t.Cleanup(func() { mem.SetPhysMemOffset(origOffset) })

	physMem := make([]byte, pages*int(mem.PageSize))
	for i := range physMem {
		physMem[i] = 0xf0
	}
	mem.SetPhysMemOffset(mem.VirtAddr(uintptr(unsafe.Pointer(&physMem[0]))))
	return physMem
}

func TestFirstFitScenarioLeavesPhysicalMemoryUntouched(t *testing.T) {
	physMem := emulatePhysMem(t, 8)

	var alloc BitmapAllocator
	memMap := pmm.MemoryMap{
		{PhysAddress: 0x1000, Length: 3 * mem.PageSize, Type: pmm.MemAvailable},
	}
	if err := alloc.Init(memMap); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []mem.PhysAddr{0x1000, 0x2000, 0x3000} {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatal(err)
		}
		if got := frame.Address(); got != exp {
			t.Fatalf("expected allocated frame address 0x%x; got 0x%x", exp, got)
		}
	}

	if _, err := alloc.AllocFrame(); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}

	for i, b := range physMem {
		if b != 0xf0 {
			t.Fatalf("expected physical memory to be untouched; byte %d is 0x%x", i, b)
		}
	}
}

func TestAllocatorCarvesStorageForLargeMaps(t *testing.T) {
	physMem := emulatePhysMem(t, 4)

	// One frame more than the embedded bitmap can track. Only the storage
	// frames are ever touched so the window can be much smaller than the
	// region.
	frames := uint64(staticBitmapWords*64 + 1)

	var alloc BitmapAllocator
	memMap := pmm.MemoryMap{
		{PhysAddress: 0, Length: mem.Size(frames) * mem.PageSize, Type: pmm.MemAvailable},
	}
	kernelImage := pmm.Region{Start: 0, End: 1}
	if err := alloc.Init(memMap, kernelImage); err != nil {
		t.Fatal(err)
	}

	// 257 words fit in a single frame, placed right after the kernel image.
	if exp, got := uint64(2), alloc.ReservedFrames(); got != exp {
		t.Fatalf("expected %d reserved frames; got %d", exp, got)
	}
	if alloc.IsFree(pmm.Frame(1)) {
		t.Fatal("expected the bitmap storage frame to be reserved")
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	if frame != pmm.Frame(2) {
		t.Fatalf("expected first allocation to skip the storage frame; got %d", frame)
	}

	for i := 0; i < int(mem.PageSize); i++ {
		if physMem[i] != 0xf0 {
			t.Fatalf("expected the kernel image frame to be untouched; byte %d is 0x%x", i, physMem[i])
		}
	}

	// The storage frame was zeroed and then received the reservation bits
	// for frames 0-2.
	if physMem[mem.PageSize] != 0x07 {
		t.Fatalf("expected first bitmap byte to be 0x07; got 0x%x", physMem[mem.PageSize])
	}
}

func TestReserveStorage(t *testing.T) {
	defer func(orig mem.VirtAddr) { mem.SetPhysMemOffset(orig) }(mem.PhysMemOffset())

	// Emulate 4 pages of physical memory starting at physical address 0.
	physMem := make([]byte, 4*mem.PageSize)
	for i := range physMem {
		physMem[i] = 0xf0
	}
	mem.SetPhysMemOffset(mem.VirtAddr(uintptr(unsafe.Pointer(&physMem[0]))))

	memMap := pmm.MemoryMap{
		{PhysAddress: 0, Length: 4 * mem.PageSize, Type: pmm.MemAvailable},
	}

	t.Run("skips exclusions", func(t *testing.T) {
		storage, region, err := reserveStorage(memMap, []pmm.Region{{Start: 0, End: 2}}, 16)
		if err != nil {
			t.Fatal(err)
		}

		if exp := (pmm.Region{Start: 2, End: 3}); region != exp {
			t.Fatalf("expected storage region %+v; got %+v", exp, region)
		}

		if len(storage) != 16 {
			t.Fatalf("expected storage to hold 16 words; got %d", len(storage))
		}

		if got, exp := uintptr(unsafe.Pointer(&storage[0])), uintptr(unsafe.Pointer(&physMem[2*mem.PageSize])); got != exp {
			t.Fatalf("expected storage to start at 0x%x; got 0x%x", exp, got)
		}

		for i, b := range physMem {
			exp := byte(0xf0)
			if i >= int(2*mem.PageSize) && i < int(3*mem.PageSize) {
				exp = 0
			}
			if b != exp {
				t.Fatalf("expected byte %d to be 0x%x; got 0x%x", i, exp, b)
			}
		}
	})

	t.Run("no room", func(t *testing.T) {
		if _, _, err := reserveStorage(memMap, []pmm.Region{{Start: 1, End: 2}}, 3*uint64(mem.PageSize)/8); err != errNoBitmapStorage {
			t.Fatalf("expected errNoBitmapStorage; got %v", err)
		}
	})
}

