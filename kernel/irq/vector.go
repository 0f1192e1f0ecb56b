package irq

// Vector describes an x86 interrupt/exception/trap slot.
type Vector uint8

const (
	// DivideError occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideError = Vector(0)

	// Debug is raised by debug register conditions and single stepping.
	Debug = Vector(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = Vector(2)

	// Breakpoint is raised by the INT3 instruction.
	Breakpoint = Vector(3)

	// Overflow occurs when the INTO instruction is executed while the
	// overflow flag is set.
	Overflow = Vector(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = Vector(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = Vector(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = Vector(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = Vector(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = Vector(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = Vector(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = Vector(12)

	// GeneralProtectionFault occurs when a general protection fault occurs.
	GeneralProtectionFault = Vector(13)

	// PageFault occurs when a page directory table (PDT) or one of its
	// entries is not present or when a privilege and/or RW protection
	// check fails.
	PageFault = Vector(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = Vector(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = Vector(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = Vector(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = Vector(19)

	// VirtualizationException is raised by EPT violations.
	VirtualizationException = Vector(20)

	// ControlProtection is raised by CET shadow stack and indirect
	// branch tracking violations.
	ControlProtection = Vector(21)

	// ExceptionCount is the number of vectors reserved for CPU exceptions.
	ExceptionCount = 32

	// FirstHardwareVector is the first vector available for hardware
	// interrupt lines once the PIC has been remapped.
	FirstHardwareVector = Vector(ExceptionCount)

	// gateCount is the number of vectors backed by a trampoline: the CPU
	// exceptions plus the 16 lines of the chained PICs.
	gateCount = ExceptionCount + 16
)

var exceptionNames = [ExceptionCount]string{
	"divide error",
	"debug",
	"non-maskable interrupt",
	"breakpoint",
	"overflow",
	"bound range exceeded",
	"invalid opcode",
	"device not available",
	"double fault",
	"coprocessor segment overrun",
	"invalid TSS",
	"segment not present",
	"stack-segment fault",
	"general protection fault",
	"page fault",
	"reserved",
	"x87 floating-point exception",
	"alignment check",
	"machine check",
	"SIMD floating-point exception",
	"virtualization exception",
	"control protection exception",
	"reserved",
	"reserved",
	"reserved",
	"reserved",
	"reserved",
	"reserved",
	"hypervisor injection exception",
	"VMM communication exception",
	"security exception",
	"reserved",
}

// String returns a human readable name for the vector.
func (v Vector) String() string {
	if v < ExceptionCount {
		return exceptionNames[v]
	}
	return "hardware interrupt"
}

// IsException returns true if the vector is reserved for CPU exceptions.
func (v Vector) IsException() bool {
	return v < ExceptionCount
}

// HasErrorCode returns true if the CPU pushes an error code when raising
// this exception.
func (v Vector) HasErrorCode() bool {
	switch v {
	case DoubleFault, InvalidTSS, SegmentNotPresent, StackSegmentFault,
		GeneralProtectionFault, PageFault, AlignmentCheck, ControlProtection, 29, 30:
		return true
	}
	return false
}
