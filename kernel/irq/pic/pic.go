// Package pic drives the two cascaded 8259 programmable interrupt
// controllers found on PC compatible machines.
package pic

import (
	"nucleus/kernel"
	"nucleus/kernel/cpu"
	"nucleus/kernel/irq"
	"nucleus/kernel/sync"
)

const (
	masterCommand = 0x20
	masterData    = 0x21
	slaveCommand  = 0xa0
	slaveData     = 0xa1

	// waitPort is an unused port; writing to it gives the controllers
	// time to settle between initialization words.
	waitPort = 0x80

	icw1Init     = 0x10
	icw1NeedICW4 = 0x01
	icw4Mode8086 = 0x01

	cmdEndOfInterrupt = 0x20
	cmdReadIRR        = 0x0a
	cmdReadISR        = 0x0b

	// cascadeLine is the master line wired to the slave controller.
	cascadeLine = 2

	// LineCount is the number of interrupt lines served by the chained
	// controllers.
	LineCount = 16

	// Default offsets used by the kernel; they place the hardware lines
	// right after the CPU exception vectors.
	MasterOffset = uint8(irq.FirstHardwareVector)
	SlaveOffset  = MasterOffset + 8
)

var (
	// Chained is the pair of 8259 controllers present on the machine.
	Chained Controller

	// ErrBadOffset is returned by Remap for vector offsets that are not
	// a multiple of 8, collide with the CPU exception range, have no
	// interrupt gates or overlap.
	ErrBadOffset = &kernel.Error{Module: "pic", Message: "invalid vector offset"}

	// ErrBadLine is returned when an interrupt line number is out of range.
	ErrBadLine = &kernel.Error{Module: "pic", Message: "invalid interrupt line"}

	// ErrNotRemapped is returned when vectors are requested before Remap.
	ErrNotRemapped = &kernel.Error{Module: "pic", Message: "controllers have not been remapped"}

	// ErrIDTNotLoaded is returned by Attach when the interrupt table has
	// not been loaded into the CPU yet.
	ErrIDTNotLoaded = &kernel.Error{Module: "pic", Message: "interrupt descriptor table is not loaded"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
)

// Controller programs the master and slave 8259 chips. All methods are safe
// for concurrent use, including from interrupt handlers.
type Controller struct {
	lock         sync.IRQSpinlock
	masterOffset uint8
	slaveOffset  uint8
	remapped     bool
}

func ioWait() {
	portWriteByteFn(waitPort, 0)
}

// Remap reprograms both controllers so that master lines raise vectors
// masterOffset..masterOffset+7 and slave lines raise slaveOffset..slaveOffset+7.
// Both offsets must be multiples of 8 between the CPU exception range and
// the last vector with a trampoline.
//
// After Remap every line except the cascade line is masked; drivers unmask
// the lines they serve explicitly.
func (c *Controller) Remap(masterOffset, slaveOffset uint8) *kernel.Error {
	if !validOffset(masterOffset) || !validOffset(slaveOffset) || masterOffset == slaveOffset {
		return ErrBadOffset
	}

	c.lock.Acquire()
	defer c.lock.Release()

	// ICW1: start the initialization sequence in cascade mode
	portWriteByteFn(masterCommand, icw1Init|icw1NeedICW4)
	ioWait()
	portWriteByteFn(slaveCommand, icw1Init|icw1NeedICW4)
	ioWait()

	// ICW2: vector offsets
	portWriteByteFn(masterData, masterOffset)
	ioWait()
	portWriteByteFn(slaveData, slaveOffset)
	ioWait()

	// ICW3: tell the master there is a slave on the cascade line and
	// tell the slave its cascade identity
	portWriteByteFn(masterData, 1<<cascadeLine)
	ioWait()
	portWriteByteFn(slaveData, cascadeLine)
	ioWait()

	// ICW4: 8086 mode
	portWriteByteFn(masterData, icw4Mode8086)
	ioWait()
	portWriteByteFn(slaveData, icw4Mode8086)
	ioWait()

	portWriteByteFn(masterData, ^uint8(1<<cascadeLine))
	portWriteByteFn(slaveData, 0xff)

	c.masterOffset, c.slaveOffset, c.remapped = masterOffset, slaveOffset, true
	return nil
}

// validOffset accepts 8-aligned offsets whose vectors lie in the range of
// gates backed by a trampoline, right after the CPU exceptions.
func validOffset(offset uint8) bool {
	return offset%8 == 0 && offset >= irq.ExceptionCount && int(offset)+8 <= irq.ExceptionCount+LineCount
}

// linePort returns the data port and bit of the controller serving line.
func linePort(line uint8) (uint16, uint8) {
	if line < 8 {
		return masterData, 1 << line
	}
	return slaveData, 1 << (line - 8)
}

// Mask stops the controller from forwarding interrupts raised on line.
func (c *Controller) Mask(line uint8) *kernel.Error {
	if line >= LineCount {
		return ErrBadLine
	}

	c.lock.Acquire()
	port, bit := linePort(line)
	portWriteByteFn(port, portReadByteFn(port)|bit)
	c.lock.Release()
	return nil
}

// Unmask allows interrupts raised on line to reach the CPU. Unmasking a slave
// line also unmasks the cascade line on the master.
func (c *Controller) Unmask(line uint8) *kernel.Error {
	if line >= LineCount {
		return ErrBadLine
	}

	c.lock.Acquire()
	port, bit := linePort(line)
	portWriteByteFn(port, portReadByteFn(port)&^bit)

	if line >= 8 {
		if mask := portReadByteFn(masterData); mask&(1<<cascadeLine) != 0 {
			portWriteByteFn(masterData, mask&^(1<<cascadeLine))
		}
	}
	c.lock.Release()
	return nil
}

// Masked reports whether line is currently masked.
func (c *Controller) Masked(line uint8) (bool, *kernel.Error) {
	if line >= LineCount {
		return false, ErrBadLine
	}

	c.lock.Acquire()
	defer c.lock.Release()

	port, bit := linePort(line)
	return portReadByteFn(port)&bit != 0, nil
}

// Disable masks every line on both controllers.
func (c *Controller) Disable() {
	c.lock.Acquire()
	portWriteByteFn(masterData, 0xff)
	portWriteByteFn(slaveData, 0xff)
	c.lock.Release()
}

// EndOfInterrupt acknowledges the interrupt raised on line. Handlers must call
// it exactly once per interrupt, on every path, or the line (and every line
// with a lower priority) stays blocked.
func (c *Controller) EndOfInterrupt(line uint8) *kernel.Error {
	if line >= LineCount {
		return ErrBadLine
	}

	c.lock.Acquire()
	if line >= 8 {
		portWriteByteFn(slaveCommand, cmdEndOfInterrupt)
	}
	portWriteByteFn(masterCommand, cmdEndOfInterrupt)
	c.lock.Release()
	return nil
}

// IsSpurious checks whether an interrupt on line was spurious. Only the
// lowest priority line of each chip (7 and 15) can be spurious. A spurious
// interrupt must not be acknowledged; for line 15 the master still expects
// an EOI for the cascade line so IsSpurious sends it.
func (c *Controller) IsSpurious(line uint8) bool {
	if line != 7 && line != 15 {
		return false
	}

	c.lock.Acquire()
	defer c.lock.Release()

	cmdPort := uint16(masterCommand)
	if line == 15 {
		cmdPort = slaveCommand
	}

	portWriteByteFn(cmdPort, cmdReadISR)
	isr := portReadByteFn(cmdPort)
	portWriteByteFn(cmdPort, cmdReadIRR)

	if isr&0x80 != 0 {
		return false
	}

	if line == 15 {
		portWriteByteFn(masterCommand, cmdEndOfInterrupt)
	}
	return true
}

// Vector returns the interrupt vector raised by line.
func (c *Controller) Vector(line uint8) (irq.Vector, *kernel.Error) {
	if line >= LineCount {
		return 0, ErrBadLine
	}

	c.lock.Acquire()
	defer c.lock.Release()

	if !c.remapped {
		return 0, ErrNotRemapped
	}

	if line < 8 {
		return irq.Vector(c.masterOffset + line), nil
	}
	return irq.Vector(c.slaveOffset + line - 8), nil
}

// Line returns the interrupt line that raises vector. The second result is
// false if vector does not belong to either controller.
func (c *Controller) Line(vector irq.Vector) (uint8, bool) {
	c.lock.Acquire()
	defer c.lock.Release()

	if !c.remapped {
		return 0, false
	}

	v := uint8(vector)
	switch {
	case v >= c.masterOffset && v < c.masterOffset+8:
		return v - c.masterOffset, true
	case v >= c.slaveOffset && v < c.slaveOffset+8:
		return v - c.slaveOffset + 8, true
	}
	return 0, false
}

// InterruptRouter is implemented by interrupt tables that device drivers can
// register handlers with. irq.DescriptorTable satisfies it.
type InterruptRouter interface {
	State() irq.TableState
	HandleInterrupt(irq.Vector, irq.Handler) *kernel.Error
}

// Attach registers handler for the vector of line and then unmasks the line.
// The router must already be loaded into the CPU so that the interrupt
// cannot arrive at an unpopulated gate. handler must call EndOfInterrupt.
func (c *Controller) Attach(router InterruptRouter, line uint8, handler irq.Handler) *kernel.Error {
	if router.State() < irq.Loaded {
		return ErrIDTNotLoaded
	}

	vector, err := c.Vector(line)
	if err != nil {
		return err
	}

	if err = router.HandleInterrupt(vector, handler); err != nil {
		return err
	}

	return c.Unmask(line)
}
