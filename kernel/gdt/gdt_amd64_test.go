package gdt

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

func TestInit(t *testing.T) {
	defer func(origLoadGDT func(uintptr), origLoadTR func(uint16)) {
		loadGDTFn, loadTRFn = origLoadGDT, origLoadTR
		initialized = false
	}(loadGDTFn, loadTRFn)

	var (
		gdtDescAddr uintptr
		trSelector  uint16
	)
	loadGDTFn = func(addr uintptr) { gdtDescAddr = addr }
	loadTRFn = func(sel uint16) { trSelector = sel }

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	if exp := uintptr(unsafe.Pointer(&pseudoDescriptor[0])); gdtDescAddr != exp {
		t.Fatalf("expected lgdt operand at 0x%x; got 0x%x", exp, gdtDescAddr)
	}
	if got, exp := binary.LittleEndian.Uint16(pseudoDescriptor[:2]), uint16(segmentEnd*8-1); got != exp {
		t.Fatalf("expected GDT limit %d; got %d", exp, got)
	}
	if got, exp := binary.LittleEndian.Uint64(pseudoDescriptor[2:]), uint64(uintptr(unsafe.Pointer(&globalGDT))); got != exp {
		t.Fatalf("expected GDT base 0x%x; got 0x%x", exp, got)
	}

	if trSelector != TSSSelector {
		t.Fatalf("expected task register to be loaded with 0x%x; got 0x%x", TSSSelector, trSelector)
	}

	specs := []struct {
		index int
		exp   segmentDescriptor
	}{
		{0, 0},
		{segmentCode0, 0x00209a0000000000},
		{segmentData0, 0x0000920000000000},
	}
	for _, spec := range specs {
		if got := globalGDT[spec.index]; got != spec.exp {
			t.Errorf("[entry %d] expected descriptor 0x%x; got 0x%x", spec.index, uint64(spec.exp), uint64(got))
		}
	}

	if KernelCodeSelector != 0x08 || KernelDataSelector != 0x10 || TSSSelector != 0x18 {
		t.Fatalf("unexpected selector values: 0x%x 0x%x 0x%x", KernelCodeSelector, KernelDataSelector, TSSSelector)
	}

	// The double fault stack pointer must point just past the end of the
	// dedicated stack.
	stackStart := uint64(uintptr(unsafe.Pointer(&doubleFaultStack[0])))
	isp := globalTSS.isp(DoubleFaultIST)
	if isp%16 != 0 || isp <= stackStart || isp > stackStart+uint64(len(doubleFaultStack)) || isp < stackStart+uint64(len(doubleFaultStack))-16 {
		t.Fatalf("expected IST %d to point at the top of the double fault stack; got 0x%x (stack at 0x%x)", DoubleFaultIST, isp, stackStart)
	}

	if got := globalTSS[25] >> 16; got != uint32(unsafe.Sizeof(globalTSS)) {
		t.Fatalf("expected I/O bitmap offset %d; got %d", unsafe.Sizeof(globalTSS), got)
	}

	if err := Init(); err != errAlreadyInitialized {
		t.Fatalf("expected a second Init to fail with errAlreadyInitialized; got %v", err)
	}
}

func TestTSSDescriptor(t *testing.T) {
	low, high := tssDescriptor(0xffff_8000_1234_5678, 103)

	if got, exp := uint64(low), uint64(0x12008934_56780067); got != exp {
		t.Fatalf("expected low descriptor half 0x%x; got 0x%x", exp, got)
	}

	if got, exp := uint64(high), uint64(0xffff8000); got != exp {
		t.Fatalf("expected high descriptor half 0x%x; got 0x%x", exp, got)
	}

	if unsafe.Sizeof(globalTSS) != 104 {
		t.Fatalf("expected TSS to be 104 bytes; got %d", unsafe.Sizeof(globalTSS))
	}
}
