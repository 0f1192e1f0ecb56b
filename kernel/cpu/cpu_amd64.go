// Package cpu exposes the privileged x86-64 instructions used by the kernel.
// The functions without a body are implemented in cpu_amd64.s.
package cpu

// FlagInterruptEnable is the RFLAGS.IF bit.
const FlagInterruptEnable = uintptr(1 << 9)

var (
	// enableInterruptsFn is mocked by tests and is automatically inlined
	// by the compiler.
	enableInterruptsFn = EnableInterrupts
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// SaveFlagsAndDisableInterrupts returns the current RFLAGS value and then
// disables interrupt handling. The returned value should be passed to
// RestoreInterrupts once the caller leaves its critical section.
func SaveFlagsAndDisableInterrupts() uintptr

// RestoreInterrupts re-enables interrupt handling if it was enabled when
// flags were captured by SaveFlagsAndDisableInterrupts.
func RestoreInterrupts(flags uintptr) {
	if flags&FlagInterruptEnable != 0 {
		enableInterruptsFn()
	}
}

// Halt disables interrupts and stops instruction execution. Halt never
// returns.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// LoadIDT loads the interrupt descriptor table register from the 10-byte
// pseudo-descriptor (16-bit limit followed by the 64-bit base) at descAddr.
func LoadIDT(descAddr uintptr)

// LoadGDT loads the global descriptor table register from the 10-byte
// pseudo-descriptor at descAddr.
func LoadGDT(descAddr uintptr)

// LoadTaskRegister loads the task register with the supplied TSS selector.
func LoadTaskRegister(selector uint16)

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8
