package pic

import "testing"

// chip8259 models the registers of a single 8259A: the interrupt request
// register (IRR), the in-service register (ISR) and the interrupt mask
// register (IMR), plus the initialization word sequence.
type chip8259 struct {
	irr, isr, imr uint8

	offset  uint8
	cascade uint8
	mode    uint8

	// nextICW is the initialization word expected on the data port;
	// 0 means the chip is in operational mode.
	nextICW  int
	needICW4 bool
	readISR  bool
}

func (c *chip8259) writeCommand(val uint8) {
	switch {
	case val&icw1Init != 0:
		c.nextICW = 2
		c.needICW4 = val&icw1NeedICW4 != 0
		c.imr, c.isr, c.irr = 0, 0, 0
		c.readISR = false
	case val == cmdEndOfInterrupt:
		// non-specific EOI clears the highest priority in-service bit
		c.isr &= c.isr - 1
	case val&0x18 == 0x08:
		c.readISR = val&0x3 == 0x3
	}
}

func (c *chip8259) writeData(val uint8) {
	switch c.nextICW {
	case 2:
		c.offset = val
		c.nextICW = 3
	case 3:
		c.cascade = val
		c.nextICW = 0
		if c.needICW4 {
			c.nextICW = 4
		}
	case 4:
		c.mode = val
		c.nextICW = 0
	default:
		c.imr = val
	}
}

func (c *chip8259) readCommand() uint8 {
	if c.readISR {
		return c.isr
	}
	return c.irr
}

// request latches line into the IRR and, unless it is masked or already in
// service, moves it to the ISR. It reports whether the chip signals the CPU.
func (c *chip8259) request(line uint8) bool {
	bit := uint8(1) << line
	c.irr |= bit
	if c.imr&bit != 0 || c.isr&bit != 0 {
		return false
	}
	c.irr &^= bit
	c.isr |= bit
	return true
}

type portWrite struct {
	port uint16
	val  uint8
}

// emulatedPIC wires a master and a slave chip to the port I/O seams.
type emulatedPIC struct {
	master, slave chip8259
	writes        []portWrite
	ioWaits       int
}

func (e *emulatedPIC) write(port uint16, val uint8) {
	switch port {
	case masterCommand:
		e.master.writeCommand(val)
	case masterData:
		e.master.writeData(val)
	case slaveCommand:
		e.slave.writeCommand(val)
	case slaveData:
		e.slave.writeData(val)
	case waitPort:
		e.ioWaits++
		return
	}
	e.writes = append(e.writes, portWrite{port, val})
}

func (e *emulatedPIC) read(port uint16) uint8 {
	switch port {
	case masterCommand:
		return e.master.readCommand()
	case masterData:
		return e.master.imr
	case slaveCommand:
		return e.slave.readCommand()
	case slaveData:
		return e.slave.imr
	}
	return 0xff
}

// raise asserts line and returns the vector delivered to the CPU, if any.
func (e *emulatedPIC) raise(line uint8) (uint8, bool) {
	if line < 8 {
		if !e.master.request(line) {
			return 0, false
		}
		return e.master.offset + line, true
	}

	if !e.slave.request(line - 8) {
		return 0, false
	}
	if !e.master.request(cascadeLine) {
		return 0, false
	}
	return e.slave.offset + line - 8, true
}

func mockPorts(t *testing.T) *emulatedPIC {
	t.Helper()

	origWrite, origRead := portWriteByteFn, portReadByteFn
	t.Cleanup(func() {
		portWriteByteFn, portReadByteFn = origWrite, origRead
	})

	e := &emulatedPIC{}
	// Firmware leaves every line masked.
	e.master.imr, e.slave.imr = 0xff, 0xff
	portWriteByteFn = e.write
	portReadByteFn = e.read
	return e
}
