package irq

import (
	"nucleus/kernel"
	"nucleus/kernel/kfmt"
)

var errUnrecoverableException = &kernel.Error{Module: "irq", Message: "unrecoverable CPU exception"}

// InstallDefaultHandlers registers a handler for every CPU exception vector.
// Breakpoints are logged and execution resumes; every other exception is
// fatal. Subsystems that can recover from specific exceptions (e.g. page
// faults) override these handlers afterwards.
func (t *DescriptorTable) InstallDefaultHandlers() {
	for v := Vector(0); v < ExceptionCount; v++ {
		if v == Breakpoint {
			t.HandleInterrupt(v, breakpointHandler)
			continue
		}
		t.HandleInterrupt(v, fatalExceptionHandler)
	}
}

func breakpointHandler(ctx *Context) {
	kfmt.Printf("[irq] breakpoint at 0x%16x\n", ctx.RIP)
}

func fatalExceptionHandler(ctx *Context) {
	kfmt.Printf("\n[irq] %s exception at 0x%16x", Vector(ctx.Vector).String(), ctx.RIP)
	if Vector(ctx.Vector).HasErrorCode() {
		kfmt.Printf(", error code: 0x%x", ctx.ErrorCode)
	}
	kfmt.Printf("\nRegisters:\n")
	ctx.DumpTo(&registerDump)

	panicFn(errUnrecoverableException)
}
