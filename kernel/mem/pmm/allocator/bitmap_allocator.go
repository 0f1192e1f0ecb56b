// Package allocator implements the physical frame allocator used by the rest
// of the kernel.
package allocator

import (
	"math/bits"
	"unsafe"

	"nucleus/kernel"
	"nucleus/kernel/kfmt"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/sync"

	xcpu "golang.org/x/sys/cpu"
)

const (
	// maxPools is the maximum number of available memory map regions the
	// allocator can track. Any further regions are ignored.
	maxPools = 64

	// maxExclusions bounds the number of reserved regions, including the
	// one holding the allocator bitmaps.
	maxExclusions = 16

	// staticBitmapWords is the size of the bitmap storage embedded in the
	// allocator. It covers 64M of RAM; larger memory maps get their bitmaps
	// carved out of available memory.
	staticBitmapWords = 256
)

var (
	// FrameAllocator is a BitmapAllocator instance that serves as the
	// primary allocator for reserving pages.
	FrameAllocator BitmapAllocator

	// ErrOutOfMemory is returned by AllocFrame when every managed frame is
	// in use.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errNoAvailableMemory = &kernel.Error{Module: "pmm", Message: "memory map contains no available regions"}
	errTooManyExclusions = &kernel.Error{Module: "pmm", Message: "too many reserved regions"}
	errNoBitmapStorage   = &kernel.Error{Module: "pmm", Message: "unable to find a free region for the frame bitmaps"}
	errFrameNotManaged   = &kernel.Error{Module: "pmm", Message: "frame is not managed by the allocator"}
	errFreeReserved      = &kernel.Error{Module: "pmm", Message: "attempted to free a reserved frame"}
	errDoubleFree        = &kernel.Error{Module: "pmm", Message: "frame is already free"}

	// The following functions are used by tests to mock calls that touch
	// physical memory and are automatically inlined by the compiler.
	reserveStorageFn = reserveStorage
	panicFn          = kfmt.Panic
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame pmm.Frame

	// endFrame is the first frame past the end of the pool.
	endFrame pmm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint64

	// freeBitmap tracks used/free pages in the pool. A set bit marks a
	// frame that is either allocated or reserved.
	freeBitmap []uint64
}

// poolState is the allocator bookkeeping guarded by the allocator lock.
type poolState struct {
	// totalFrames tracks the total number of frames across all pools.
	totalFrames uint64

	// reservedFrames tracks the number of reserved frames across all pools.
	reservedFrames uint64

	pools     [maxPools]framePool
	poolCount int

	exclusions     [maxExclusions]pmm.Region
	exclusionCount int

	// staticBitmap backs the pool bitmaps when they fit in it. For the
	// kernel's allocator it is part of the kernel image, which is already
	// excluded, so small machines lose no frames to bookkeeping.
	staticBitmap [staticBitmapWords]uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps. Frames are
// handed out first-fit: the lowest free frame of the first pool (in memory
// map order) that has one.
//
// A frame returned by AllocFrame is leased to the caller until it is passed
// back to FreeFrame. The allocator cannot tell who holds a lease, so callers
// must not free a frame they did not allocate.
type BitmapAllocator struct {
	_     xcpu.CacheLinePad
	state sync.Locked[poolState]
}

// Init discards any previous state and builds one pool per available region
// of memMap. The frames covered by exclusions (kernel image, boot
// structures) and any frames that end up holding the allocator bitmaps are
// marked as reserved and are never handed out.
func (alloc *BitmapAllocator) Init(memMap pmm.MemoryMap, exclusions ...pmm.Region) *kernel.Error {
	g := alloc.state.Lock()
	defer g.Unlock()
	s := g.Value()

	s.totalFrames, s.reservedFrames = 0, 0
	s.poolCount, s.exclusionCount = 0, 0

	if len(exclusions) >= maxExclusions {
		return errTooManyExclusions
	}
	for _, r := range exclusions {
		if !r.Empty() {
			s.exclusions[s.exclusionCount] = r
			s.exclusionCount++
		}
	}

	var requiredWords uint64
	memMap.Visit(func(entry *pmm.MemoryMapEntry) bool {
		if entry.Type != pmm.MemAvailable {
			return true
		}

		region := entry.Region()
		if region.Empty() {
			return true
		}

		if s.poolCount == maxPools {
			kfmt.Printf("[pmm] ignoring available regions past the first %d\n", maxPools)
			return false
		}

		s.pools[s.poolCount] = framePool{
			startFrame: region.Start,
			endFrame:   region.End,
			freeCount:  region.Len(),
		}
		s.poolCount++
		s.totalFrames += region.Len()

		// Round the bitmap up to a multiple of 64 bits
		requiredWords += (region.Len() + 63) >> 6
		return true
	})

	if s.poolCount == 0 {
		return errNoAvailableMemory
	}

	var storage []uint64
	if requiredWords <= staticBitmapWords {
		storage = s.staticBitmap[:requiredWords]
		for i := range storage {
			storage[i] = 0
		}
	} else {
		var (
			storageRegion pmm.Region
			err           *kernel.Error
		)
		if storage, storageRegion, err = reserveStorageFn(memMap, s.exclusions[:s.exclusionCount], requiredWords); err != nil {
			return err
		}

		if !storageRegion.Empty() {
			s.exclusions[s.exclusionCount] = storageRegion
			s.exclusionCount++
		}
	}

	for i := 0; i < s.poolCount; i++ {
		pool := &s.pools[i]
		words := (uint64(pool.endFrame-pool.startFrame) + 63) >> 6
		pool.freeBitmap, storage = storage[:words:words], storage[words:]

		// Padding bits past the end of the pool are marked as used so
		// the allocation scan never returns them.
		if pad := words<<6 - uint64(pool.endFrame-pool.startFrame); pad != 0 {
			pool.freeBitmap[words-1] = ^uint64(0) << (64 - pad)
		}

		for _, excl := range s.exclusions[:s.exclusionCount] {
			s.reserveRange(pool, excl)
		}
	}

	return nil
}

// reserveRange marks the frames of pool that fall inside r as reserved.
func (s *poolState) reserveRange(pool *framePool, r pmm.Region) {
	start, end := r.Start, r.End
	if start < pool.startFrame {
		start = pool.startFrame
	}
	if end > pool.endFrame {
		end = pool.endFrame
	}

	for frame := start; frame < end; frame++ {
		block, mask := bitmapIndex(pool, frame)
		if pool.freeBitmap[block]&mask != 0 {
			continue
		}

		pool.freeBitmap[block] |= mask
		pool.freeCount--
		s.reservedFrames++
	}
}

// AllocFrame reserves and returns the lowest free physical frame. It returns
// ErrOutOfMemory when no frame is available.
func (alloc *BitmapAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	g := alloc.state.Lock()
	defer g.Unlock()
	s := g.Value()

	for i := 0; i < s.poolCount; i++ {
		pool := &s.pools[i]
		if pool.freeCount == 0 {
			continue
		}

		for block, bitmap := range pool.freeBitmap {
			if bitmap == ^uint64(0) {
				continue
			}

			bit := bits.TrailingZeros64(^bitmap)
			pool.freeBitmap[block] |= 1 << uint(bit)
			pool.freeCount--

			return pool.startFrame + pmm.Frame(block<<6+bit), nil
		}
	}

	return pmm.InvalidFrame, ErrOutOfMemory
}

// FreeFrame returns a frame obtained from AllocFrame to the free set.
// Freeing a frame that the allocator does not manage, a reserved frame or a
// frame that is already free is a fatal error.
func (alloc *BitmapAllocator) FreeFrame(frame pmm.Frame) {
	// freeFrame releases the lock before returning.
	if err := alloc.freeFrame(frame); err != nil {
		panicFn(err)
	}
}

func (alloc *BitmapAllocator) freeFrame(frame pmm.Frame) *kernel.Error {
	g := alloc.state.Lock()
	defer g.Unlock()
	s := g.Value()

	pool := s.poolForFrame(frame)
	if pool == nil {
		return errFrameNotManaged
	}

	if s.isExcluded(frame) {
		return errFreeReserved
	}

	block, mask := bitmapIndex(pool, frame)
	if pool.freeBitmap[block]&mask == 0 {
		return errDoubleFree
	}

	pool.freeBitmap[block] &^= mask
	pool.freeCount++
	return nil
}

// IsFree returns true if frame is managed by the allocator and currently
// available for allocation.
func (alloc *BitmapAllocator) IsFree(frame pmm.Frame) bool {
	g := alloc.state.Lock()
	defer g.Unlock()

	pool := g.Value().poolForFrame(frame)
	if pool == nil {
		return false
	}

	block, mask := bitmapIndex(pool, frame)
	return pool.freeBitmap[block]&mask == 0
}

// FreeFrames returns the number of frames available for allocation.
func (alloc *BitmapAllocator) FreeFrames() uint64 {
	var free uint64
	alloc.state.Do(func(s *poolState) {
		for i := 0; i < s.poolCount; i++ {
			free += s.pools[i].freeCount
		}
	})
	return free
}

// TotalFrames returns the number of frames in all pools, reserved ones
// included.
func (alloc *BitmapAllocator) TotalFrames() uint64 {
	var total uint64
	alloc.state.Do(func(s *poolState) { total = s.totalFrames })
	return total
}

// ReservedFrames returns the number of frames that can never be allocated.
func (alloc *BitmapAllocator) ReservedFrames() uint64 {
	var reserved uint64
	alloc.state.Do(func(s *poolState) { reserved = s.reservedFrames })
	return reserved
}

func (s *poolState) poolForFrame(frame pmm.Frame) *framePool {
	for i := 0; i < s.poolCount; i++ {
		if frame >= s.pools[i].startFrame && frame < s.pools[i].endFrame {
			return &s.pools[i]
		}
	}
	return nil
}

func (s *poolState) isExcluded(frame pmm.Frame) bool {
	for _, r := range s.exclusions[:s.exclusionCount] {
		if r.Contains(frame) {
			return true
		}
	}
	return false
}

func bitmapIndex(pool *framePool, frame pmm.Frame) (int, uint64) {
	rel := uint64(frame - pool.startFrame)
	return int(rel >> 6), 1 << (rel & 63)
}

// reserveStorage carves the frames needed to hold words bitmap blocks out of
// the first available region that has enough room outside the exclusions.
// The storage is reached through the physical memory window and is zeroed
// before being returned.
func reserveStorage(memMap pmm.MemoryMap, exclusions []pmm.Region, words uint64) ([]uint64, pmm.Region, *kernel.Error) {
	frameCount := mem.Size(words << 3).Pages()

	var found pmm.Region
	memMap.Visit(func(entry *pmm.MemoryMapEntry) bool {
		if entry.Type != pmm.MemAvailable {
			return true
		}

		region := entry.Region()
		for candidate := region.Start; candidate+pmm.Frame(frameCount) <= region.End; {
			want := pmm.Region{Start: candidate, End: candidate + pmm.Frame(frameCount)}

			moved := false
			for _, excl := range exclusions {
				if want.Overlaps(excl) {
					candidate, moved = excl.End, true
					break
				}
			}

			if !moved {
				found = want
				return false
			}
		}
		return true
	})

	if found.Empty() {
		return nil, pmm.Region{}, errNoBitmapStorage
	}

	addr := found.Start.Address().Virtual()
	mem.Memset(uintptr(addr), 0, mem.Size(frameCount)<<mem.PageShift)

	storage := unsafe.Slice((*uint64)(unsafe.Pointer(uintptr(addr))), words)
	return storage, found, nil
}

// printMemoryMap prints out the system's memory map along with the
// allocator's frame accounting.
func (alloc *BitmapAllocator) printMemoryMap(memMap pmm.MemoryMap) {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mem.Size
	memMap.Visit(func(region *pmm.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n",
			uint64(region.PhysAddress),
			uint64(region.PhysAddress)+uint64(region.Length),
			uint64(region.Length),
			region.Type.String(),
		)

		if region.Type == pmm.MemAvailable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", uint64(totalFree/mem.Kb))
	kfmt.Printf("[pmm] frames: %d total, %d reserved, %d free\n",
		alloc.TotalFrames(), alloc.ReservedFrames(), alloc.FreeFrames(),
	)
}

// Init sets up the kernel physical memory allocation sub-system. The kernel
// image and boot information ranges are excluded from allocation.
func Init(memMap pmm.MemoryMap, exclusions ...pmm.Region) *kernel.Error {
	if err := FrameAllocator.Init(memMap, exclusions...); err != nil {
		return err
	}

	FrameAllocator.printMemoryMap(memMap)
	return nil
}
