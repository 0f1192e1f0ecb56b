package irq

import (
	"nucleus/kernel"
	"nucleus/kernel/kfmt"
)

var (
	errUnhandledInterrupt = &kernel.Error{Module: "irq", Message: "unhandled interrupt"}

	// registerDump indents register dumps written to the kernel log.
	registerDump = kfmt.PrefixWriter{Sink: kfmt.Writer(), Prefix: []byte("    ")}
)

// Dispatch routes an interrupt to the handler registered for ctx.Vector. An
// interrupt without a handler is fatal. Dispatch takes no locks.
func (t *DescriptorTable) Dispatch(ctx *Context) {
	var handler Handler
	if ctx.Vector < gateCount {
		handler = t.handler(Vector(ctx.Vector))
	}

	if handler == nil {
		kfmt.Printf("\n[irq] no handler for vector %d (%s)\nRegisters:\n", ctx.Vector, Vector(ctx.Vector).String())
		ctx.DumpTo(&registerDump)
		panicFn(errUnhandledInterrupt)
		return
	}

	handler(ctx)
}

// dispatchInterrupt is invoked by the gate trampolines with a pointer to the
// context they pushed on the interrupted stack.
//
//go:nosplit
func dispatchInterrupt(ctx *Context) {
	IDT.Dispatch(ctx)
}

// gateEntryAddr returns the address of the trampoline for vector. It must
// only be called for vectors below gateCount.
func gateEntryAddr(vector Vector) uintptr
