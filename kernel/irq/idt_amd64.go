package irq

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"nucleus/kernel"
	"nucleus/kernel/cpu"
	"nucleus/kernel/kfmt"
	"nucleus/kernel/sync"
)

const (
	// idtEntries is the number of gates in an x86-64 IDT.
	idtEntries = 256

	// gateTypeInterrupt marks a present, DPL 0, 64-bit interrupt gate.
	// The CPU clears IF when entering through it.
	gateTypeInterrupt = 0x8e
)

// TableState describes a DescriptorTable lifecycle stage.
type TableState uint8

const (
	// Uninitialized is the state of a zero-value DescriptorTable.
	Uninitialized TableState = iota

	// Built means that the gates have been populated in memory.
	Built

	// Loaded means that the CPU has been pointed at the table via lidt.
	Loaded

	// Active means that interrupts have been enabled.
	Active
)

var tableStateNames = [...]string{"uninitialized", "built", "loaded", "active"}

// String implements fmt.Stringer for TableState.
func (s TableState) String() string {
	if int(s) < len(tableStateNames) {
		return tableStateNames[s]
	}
	return "unknown"
}

var (
	// IDT is the interrupt descriptor table used by the kernel.
	IDT DescriptorTable

	// ErrInvalidTransition is returned when a DescriptorTable lifecycle
	// method is called out of order or more than once.
	ErrInvalidTransition = &kernel.Error{Module: "irq", Message: "invalid descriptor table state transition"}

	errVectorNotRouted = &kernel.Error{Module: "irq", Message: "vector has no gate entry point"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	entryAddrFn        = gateEntryAddr
	loadIDTFn          = cpu.LoadIDT
	enableInterruptsFn = cpu.EnableInterrupts
	panicFn            = kfmt.Panic
)

// Handler is a function that services an interrupt. It receives the context
// built by the trampoline for the interrupted code.
//
// Handlers must not block. Handlers for hardware interrupt lines must
// acknowledge the interrupt at the controller before returning, on every
// path, or the line stays unserviced.
type Handler func(*Context)

// gateDescriptor is the 16 byte entry format of the 64-bit IDT.
type gateDescriptor struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	_          uint32
}

func (g *gateDescriptor) set(entry uintptr, selector uint16, ist uint8) {
	g.offsetLow = uint16(entry)
	g.selector = selector
	g.ist = ist & 0x7
	g.typeAttr = gateTypeInterrupt
	g.offsetMid = uint16(entry >> 16)
	g.offsetHigh = uint32(entry >> 32)
}

func (g *gateDescriptor) present() bool {
	return g.typeAttr&0x80 != 0
}

func (g *gateDescriptor) entry() uintptr {
	return uintptr(g.offsetLow) | uintptr(g.offsetMid)<<16 | uintptr(g.offsetHigh)<<32
}

// DescriptorTable manages the interrupt gates and the handler registered for
// each vector. It moves through the Uninitialized, Built, Loaded and Active
// states exactly once per boot.
//
// Once Loaded, the gates are never modified. Handler slots are read without
// locking by Dispatch, which may run on top of any code including a
// HandleInterrupt call (NMIs and exceptions are not masked by cli). Writers
// serialize on the table lock and publish slots atomically.
type DescriptorTable struct {
	lock     sync.IRQSpinlock
	state    TableState
	gates    [idtEntries]gateDescriptor
	handlers [gateCount]atomic.Pointer[Handler]

	// pseudoDescriptor holds the operand for lidt: a 16-bit limit
	// followed by the 64-bit table address.
	pseudoDescriptor [10]byte
}

// State returns the current lifecycle state of the table.
func (t *DescriptorTable) State() TableState {
	t.lock.Acquire()
	defer t.lock.Release()
	return t.state
}

// Build populates the gates for every vector backed by a trampoline: the CPU
// exceptions and the 16 hardware interrupt lines. All gates use codeSelector
// and run at DPL 0. The double fault gate switches to the interrupt stack
// table slot doubleFaultIST so it can run even if the kernel stack is
// unusable. Every other gate stays non-present.
func (t *DescriptorTable) Build(codeSelector uint16, doubleFaultIST uint8) *kernel.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	if t.state != Uninitialized {
		return ErrInvalidTransition
	}

	for v := Vector(0); v < gateCount; v++ {
		var ist uint8
		if v == DoubleFault {
			ist = doubleFaultIST
		}
		t.gates[v].set(entryAddrFn(v), codeSelector, ist)
	}

	t.state = Built
	return nil
}

// Load points the CPU at the table.
func (t *DescriptorTable) Load() *kernel.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	if t.state != Built {
		return ErrInvalidTransition
	}

	binary.LittleEndian.PutUint16(t.pseudoDescriptor[0:], uint16(unsafe.Sizeof(t.gates)-1))
	binary.LittleEndian.PutUint64(t.pseudoDescriptor[2:], uint64(uintptr(unsafe.Pointer(&t.gates[0]))))
	loadIDTFn(uintptr(unsafe.Pointer(&t.pseudoDescriptor[0])))

	t.state = Loaded
	return nil
}

// Activate enables interrupts on the current core.
func (t *DescriptorTable) Activate() *kernel.Error {
	t.lock.Acquire()
	if t.state != Loaded {
		t.lock.Release()
		return ErrInvalidTransition
	}
	t.state = Active
	t.lock.Release()

	// Enabling interrupts while holding an IRQSpinlock would be undone
	// by Release, so this happens after the lock is dropped.
	enableInterruptsFn()
	return nil
}

// HandleInterrupt registers handler as the routine invoked when vector
// fires, replacing any previous handler. A nil handler unregisters the
// vector. Only vectors backed by a trampoline can be routed.
func (t *DescriptorTable) HandleInterrupt(vector Vector, handler Handler) *kernel.Error {
	if vector >= gateCount {
		return errVectorNotRouted
	}

	var slot *Handler
	if handler != nil {
		slot = &handler
	}

	t.lock.Acquire()
	t.handlers[vector].Store(slot)
	t.lock.Release()
	return nil
}

// handler returns the handler registered for vector or nil. It never blocks.
func (t *DescriptorTable) handler(vector Vector) Handler {
	if vector >= gateCount {
		return nil
	}

	if slot := t.handlers[vector].Load(); slot != nil {
		return *slot
	}
	return nil
}

// HandleInterrupt registers handler for vector in the kernel IDT.
func HandleInterrupt(vector Vector, handler Handler) *kernel.Error {
	return IDT.HandleInterrupt(vector, handler)
}
