// Package kmain sequences the initialization of the kernel subsystems.
package kmain

import (
	xcpu "golang.org/x/sys/cpu"

	"nucleus/kernel"
	"nucleus/kernel/cpu"
	"nucleus/kernel/driver/console"
	"nucleus/kernel/gdt"
	"nucleus/kernel/irq"
	"nucleus/kernel/irq/pic"
	"nucleus/kernel/kfmt"
	"nucleus/kernel/mem"
	"nucleus/kernel/mem/pmm"
	"nucleus/kernel/mem/pmm/allocator"
	"nucleus/kernel/mem/vmm"
	"nucleus/kernel/sync"
)

// BootInfo is the data handed over by the boot loader. The rt0 code fills it
// in before calling Kmain.
type BootInfo struct {
	// MemoryMap lists the physical memory regions reported by firmware.
	MemoryMap pmm.MemoryMap

	// KernelStart and KernelEnd delimit the loaded kernel image.
	KernelStart, KernelEnd mem.PhysAddr

	// BootInfoStart and BootInfoEnd delimit the structures provided by the
	// boot loader, including the memory map itself.
	BootInfoStart, BootInfoEnd mem.PhysAddr

	// PhysMemOffset is the virtual address at which the boot loader has
	// mapped all of physical memory.
	PhysMemOffset mem.VirtAddr
}

// reservedRegions returns the physical ranges that must never be handed out
// by the frame allocator.
func (info *BootInfo) reservedRegions() []pmm.Region {
	return []pmm.Region{
		pmm.RegionFromAddresses(info.KernelStart, info.KernelEnd),
		pmm.RegionFromAddresses(info.BootInfoStart, info.BootInfoEnd),
	}
}

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// kernelPageTable is the page table set up by the boot loader, which
	// the kernel keeps using after init.
	kernelPageTable vmm.PageTable

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	consoleInitFn   = attachConsole
	allocatorInitFn = allocator.Init
	adoptPDTFn      = func() *kernel.Error { return kernelPageTable.AdoptActive(&allocator.FrameAllocator) }
	gdtInitFn       = gdt.Init
	idtBuildFn      = func() *kernel.Error { return irq.IDT.Build(gdt.KernelCodeSelector, gdt.DoubleFaultIST) }
	installFn       = irq.IDT.InstallDefaultHandlers
	vmmInitFn       = vmm.Init
	idtLoadFn       = irq.IDT.Load
	picRemapFn      = func() *kernel.Error { return pic.Chained.Remap(pic.MasterOffset, pic.SlaveOffset) }
	maskingFn       = sync.EnableInterruptMasking
	idtActivateFn   = irq.IDT.Activate
	mapHeapFn       = func() *kernel.Error { return kernelPageTable.MapKernelHeap(vmm.KernelHeapStart, vmm.KernelHeapSize) }
	idleFn          = idle
	panicFn         = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked by the rt0 assembly code after setting
// up a minimal g0 struct that allows Go code to use the stack allocated by
// the assembly code. Interrupts are disabled on entry.
//
// The interrupt descriptor table is loaded before the PICs are remapped and
// interrupts are only enabled once both are ready, so a hardware interrupt
// can never reach an unpopulated gate.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(info *BootInfo) {
	mem.SetPhysMemOffset(info.PhysMemOffset)
	consoleInitFn()

	kfmt.Printf("[kmain] physical memory mapped at 0x%16x\n", uint64(info.PhysMemOffset))
	kfmt.Printf("[kmain] kernel image: 0x%x - 0x%x\n", uint64(info.KernelStart), uint64(info.KernelEnd))
	printCPUFeatures()

	if err := initialize(info); err != nil {
		panicFn(err)
	} else {
		kfmt.Printf("[kmain] init complete; %d free frames\n", allocator.FrameAllocator.FreeFrames())
		idleFn()
	}

	// Use panicFn instead of panic to prevent the compiler from treating
	// kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// attachConsole redirects kernel output, including anything logged so far,
// to the VGA text console.
func attachConsole() {
	console.Default.Init()
	kfmt.SetOutputSink(&console.Default)
}

func printCPUFeatures() {
	kfmt.Printf("[kmain] cpu features: sse4.2=%t avx=%t avx2=%t aes=%t rdrand=%t\n",
		xcpu.X86.HasSSE42,
		xcpu.X86.HasAVX,
		xcpu.X86.HasAVX2,
		xcpu.X86.HasAES,
		xcpu.X86.HasRDRAND,
	)
}

// initialize brings up the memory managers and then the interrupt
// machinery. Interrupts are enabled only after the PICs have been remapped
// away from the CPU exception vectors.
func initialize(info *BootInfo) *kernel.Error {
	if err := allocatorInitFn(info.MemoryMap, info.reservedRegions()...); err != nil {
		return err
	}
	if err := adoptPDTFn(); err != nil {
		return err
	}
	if err := gdtInitFn(); err != nil {
		return err
	}

	if err := idtBuildFn(); err != nil {
		return err
	}
	installFn()
	if err := vmmInitFn(); err != nil {
		return err
	}
	if err := idtLoadFn(); err != nil {
		return err
	}
	if err := picRemapFn(); err != nil {
		return err
	}

	maskingFn()
	if err := idtActivateFn(); err != nil {
		return err
	}

	return mapHeapFn()
}

// idle halts the CPU between interrupts.
func idle() {
	for {
		cpu.Halt()
	}
}
