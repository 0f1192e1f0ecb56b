package irq

import (
	"io"

	"nucleus/kernel/kfmt"
)

// Context contains a snapshot of all register values when an exception or
// hardware interrupt occurs. The trampolines build it on the interrupted
// stack, so its layout must match the push order in gate_amd64.s.
//
// Handlers may only modify RIP, RSP and RFlags; the updated values take
// effect when the interrupted code resumes.
type Context struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Vector is the number of the gate that was invoked.
	Vector uint64

	// ErrorCode is the code pushed by the CPU for exceptions that
	// provide one; it is zero for every other vector.
	ErrorCode uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (c *Context) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", c.RAX, c.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", c.RCX, c.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", c.RSI, c.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", c.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", c.R8, c.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", c.R10, c.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", c.R12, c.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", c.R14, c.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "VEC = %16x ERR = %16x\n", c.Vector, c.ErrorCode)
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", c.RIP, c.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", c.RSP, c.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", c.RFlags)
}
