package vmm

import (
	"testing"

	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
)

func TestMapKernelHeap(t *testing.T) {
	fm, cpu := mockVMM(t)
	pt := newTestTable(t, fm)

	if err := pt.MapKernelHeap(KernelHeapStart, KernelHeapSize); err != nil {
		t.Fatal(err)
	}

	pageCount := int(KernelHeapSize.Pages())
	if pageCount != 25 {
		t.Fatalf("expected the heap to span 25 pages; got %d", pageCount)
	}

	if got := len(cpu.zeroedFrame); got != pageCount {
		t.Fatalf("expected %d frames to be zeroed; got %d", pageCount, got)
	}

	for i := 0; i < pageCount; i++ {
		virtAddr := KernelHeapStart + mem.VirtAddr(i)*mem.VirtAddr(mem.PageSize)
		if _, err := pt.Translate(virtAddr); err != nil {
			t.Fatalf("[page %d] expected heap page to be mapped; got %v", i, err)
		}

		leaf := leafEntry(pt, virtAddr)
		if !leaf.HasFlags(FlagPresent|FlagRW|FlagNoExecute) || leaf.HasAnyFlag(FlagUserAccessible) {
			t.Errorf("[page %d] unexpected heap page flags 0x%x", i, uintptr(*leaf))
		}
	}

	if _, err := pt.Translate(KernelHeapStart + mem.VirtAddr(KernelHeapSize)); err != ErrNotMapped {
		t.Fatalf("expected the page past the heap to be unmapped; got %v", err)
	}
}

func TestMapKernelHeapErrors(t *testing.T) {
	t.Run("unaligned start", func(t *testing.T) {
		fm, _ := mockVMM(t)
		pt := newTestTable(t, fm)

		if err := pt.MapKernelHeap(KernelHeapStart+1, mem.PageSize); err != mem.ErrUnaligned {
			t.Fatalf("expected ErrUnaligned; got %v", err)
		}
	})

	t.Run("out of frames", func(t *testing.T) {
		fm, _ := mockVMM(t)
		pt := newTestTable(t, fm)

		// 3 intermediate tables plus 2 data frames
		fm.allocLimit = 5
		if err := pt.MapKernelHeap(KernelHeapStart, 4*mem.PageSize); err != errFakeOOM {
			t.Fatalf("expected the allocator error; got %v", err)
		}

		// allocation order: root, data page 0, three tables, data page 1
		dataFrames := []pmm.Frame{fm.allocated[1], fm.allocated[5]}
		if len(fm.freed) != 2 {
			t.Fatalf("expected the 2 data frames to be released; got %v", fm.freed)
		}
		for _, frame := range dataFrames {
			if !containsFrame(fm.freed, frame) {
				t.Errorf("expected frame %d to be released", frame)
			}
		}

		for i := 0; i < 4; i++ {
			if _, err := pt.Translate(KernelHeapStart + mem.VirtAddr(i)*mem.VirtAddr(mem.PageSize)); err != ErrNotMapped {
				t.Errorf("[page %d] expected heap page to be unmapped after the failure; got %v", i, err)
			}
		}
	})

	t.Run("page already in use", func(t *testing.T) {
		fm, _ := mockVMM(t)
		pt := newTestTable(t, fm)

		if err := pt.Map(PageFromAddress(KernelHeapStart)+1, pmm.Frame(0x42), FlagRW); err != nil {
			t.Fatal(err)
		}
		fm.allocated = fm.allocated[:0]

		if err := pt.MapKernelHeap(KernelHeapStart, 2*mem.PageSize); err != ErrAlreadyMapped {
			t.Fatalf("expected ErrAlreadyMapped; got %v", err)
		}

		if len(fm.freed) != 2 {
			t.Fatalf("expected both data frames to be released; got %v", fm.freed)
		}
		if containsFrame(fm.freed, pmm.Frame(0x42)) {
			t.Fatal("expected the pre-existing mapping's frame not to be released")
		}
	})

	t.Run("no allocator", func(t *testing.T) {
		var pt PageTable
		if err := pt.MapKernelHeap(KernelHeapStart, mem.PageSize); err != errNoAllocator {
			t.Fatalf("expected errNoAllocator; got %v", err)
		}
	})
}

func containsFrame(frames []pmm.Frame, frame pmm.Frame) bool {
	for _, f := range frames {
		if f == frame {
			return true
		}
	}
	return false
}
