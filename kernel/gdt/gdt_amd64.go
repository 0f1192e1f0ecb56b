// Package gdt sets up the global descriptor table and the task state segment.
// Segmentation is mostly disabled in 64-bit mode but the CPU still needs a TSS
// to locate the interrupt stack table, which gives critical exception
// handlers a known-good stack.
package gdt

import (
	"encoding/binary"
	"unsafe"

	"nucleus/kernel"
	"nucleus/kernel/cpu"
	"nucleus/kernel/kfmt"
	"nucleus/kernel/mem"
)

// Segment selectors. The code and data selectors match the ones used by the
// boot code so the segment registers do not need to be reloaded.
const (
	KernelCodeSelector = uint16(segmentCode0 << 3)
	KernelDataSelector = uint16(segmentData0 << 3)
	TSSSelector        = uint16(segmentTSS0 << 3)

	// DoubleFaultIST is the interrupt stack table slot used by the double
	// fault handler.
	DoubleFaultIST = 1

	// interruptStackSize is the size of each dedicated interrupt stack.
	interruptStackSize = 4 * mem.PageSize
)

const (
	// Mandatory null selector.
	_ = iota
	// Ring 0 code (64-bit).
	segmentCode0
	// Ring 0 data.
	segmentData0
	// TSS.
	segmentTSS0
	// TSS high address.
	segmentTSS0High
	// End sentinel for determining limit.
	segmentEnd
)

const (
	segFlagRW      = 1 << 41
	segFlagCode    = 1 << 43
	segFlagSystem  = 1 << 44
	segFlagPresent = 1 << 47
	segFlagLong    = 1 << 53

	// 64-bit available TSS
	segTypeTSS = 0x9 << 40
)

// segmentDescriptor represents a 64-bit segment descriptor.
type segmentDescriptor uint64

// tss is the 104 byte task state segment used in 64-bit mode.
type tss [26]uint32

// setISP sets the address for the interrupt stack number idx (1-based).
func (t *tss) setISP(idx int, rsp uint64) {
	t[7+idx*2] = uint32(rsp)
	t[7+idx*2+1] = uint32(rsp >> 32)
}

// isp returns the address of interrupt stack idx (1-based).
func (t *tss) isp(idx int) uint64 {
	return uint64(t[7+idx*2]) | uint64(t[7+idx*2+1])<<32
}

// setIOPerm sets the offset of the I/O permission bitmap. An offset past the
// end of the segment denies all port access from ring 3.
func (t *tss) setIOPerm(offset uint16) {
	t[25] = uint32(offset) << 16
}

var (
	globalGDT [segmentEnd]segmentDescriptor
	globalTSS tss

	doubleFaultStack [interruptStackSize]byte

	// pseudoDescriptor holds the operand for lgdt.
	pseudoDescriptor [10]byte

	initialized bool

	errAlreadyInitialized = &kernel.Error{Module: "gdt", Message: "descriptor table already loaded"}
	errBadAlignment       = &kernel.Error{Module: "gdt", Message: "descriptor table is not 8-byte aligned"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	loadGDTFn = cpu.LoadGDT
	loadTRFn  = cpu.LoadTaskRegister
)

// stackTop returns the 16-byte aligned address just past the end of stack.
func stackTop(stack []byte) uint64 {
	end := uintptr(unsafe.Pointer(&stack[len(stack)-1])) + 1
	return uint64(end &^ 15)
}

func tssDescriptor(base uintptr, limit uint32) (low, high segmentDescriptor) {
	low = segmentDescriptor(uint64(limit&0xffff) |
		uint64(base&0xffffff)<<16 |
		segTypeTSS | segFlagPresent |
		uint64(limit>>16&0xf)<<48 |
		uint64(base>>24&0xff)<<56)
	high = segmentDescriptor(uint64(base) >> 32)
	return low, high
}

// Init populates the GDT and the TSS, loads them into the CPU and installs
// the double fault interrupt stack.
func Init() *kernel.Error {
	if initialized {
		return errAlreadyInitialized
	}

	gdtAddr := uintptr(unsafe.Pointer(&globalGDT))
	if gdtAddr%8 != 0 {
		return errBadAlignment
	}

	globalTSS.setISP(DoubleFaultIST, stackTop(doubleFaultStack[:]))
	tssLimit := uint32(unsafe.Sizeof(globalTSS) - 1)
	globalTSS.setIOPerm(uint16(tssLimit + 1))

	globalGDT[segmentCode0] = segmentDescriptor(segFlagPresent | segFlagSystem | segFlagCode | segFlagRW | segFlagLong)
	globalGDT[segmentData0] = segmentDescriptor(segFlagPresent | segFlagSystem | segFlagRW)
	globalGDT[segmentTSS0], globalGDT[segmentTSS0High] = tssDescriptor(uintptr(unsafe.Pointer(&globalTSS)), tssLimit)

	// The GDT register is a 10 byte value: a 16-bit limit followed by
	// the 64-bit address.
	binary.LittleEndian.PutUint16(pseudoDescriptor[:2], uint16(unsafe.Sizeof(globalGDT)-1))
	binary.LittleEndian.PutUint64(pseudoDescriptor[2:], uint64(gdtAddr))
	loadGDTFn(uintptr(unsafe.Pointer(&pseudoDescriptor[0])))
	loadTRFn(TSSSelector)

	initialized = true
	kfmt.Printf("[gdt] loaded; double fault stack at 0x%x\n", globalTSS.isp(DoubleFaultIST))
	return nil
}
