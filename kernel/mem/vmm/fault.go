package vmm

import (
	"nucleus/kernel"
	"nucleus/kernel/cpu"
	"nucleus/kernel/irq"
	"nucleus/kernel/kfmt"
)

const (
	faultProtection  = 1 << 0
	faultWrite       = 1 << 1
	faultUser        = 1 << 2
	faultReservedBit = 1 << 3
	faultInstrFetch  = 1 << 4
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	handleInterruptFn = irq.HandleInterrupt
	readCR2Fn         = cpu.ReadCR2
	panicFn           = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}

	registerDump = kfmt.PrefixWriter{Sink: kfmt.Writer(), Prefix: []byte("    ")}
)

func pageFaultHandler(ctx *irq.Context) {
	faultAddress := readCR2Fn()

	kfmt.Printf("\n[vmm] page fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case ctx.ErrorCode&faultReservedBit != 0:
		kfmt.Printf("page table has reserved bit set")
	case ctx.ErrorCode&faultInstrFetch != 0:
		kfmt.Printf("instruction fetch")
	case ctx.ErrorCode&(faultProtection|faultWrite) == 0:
		kfmt.Printf("read from non-present page")
	case ctx.ErrorCode&(faultProtection|faultWrite) == faultProtection:
		kfmt.Printf("page protection violation (read)")
	case ctx.ErrorCode&(faultProtection|faultWrite) == faultWrite:
		kfmt.Printf("write to non-present page")
	default:
		kfmt.Printf("page protection violation (write)")
	}

	if ctx.ErrorCode&faultUser != 0 {
		kfmt.Printf(" in user-mode")
	}

	kfmt.Printf("\n\nRegisters:\n")
	ctx.DumpTo(&registerDump)

	// TODO: Revisit this when user-mode tasks are implemented
	panicFn(errUnrecoverableFault)
}

func generalProtectionFaultHandler(ctx *irq.Context) {
	kfmt.Printf("\n[vmm] general protection fault (selector error code: 0x%x)\n", ctx.ErrorCode)
	kfmt.Printf("Registers:\n")
	ctx.DumpTo(&registerDump)

	panicFn(errUnrecoverableFault)
}

// Init installs paging-related exception handlers.
func Init() *kernel.Error {
	if err := handleInterruptFn(irq.PageFault, pageFaultHandler); err != nil {
		return err
	}

	return handleInterruptFn(irq.GeneralProtectionFault, generalProtectionFaultHandler)
}
