// Package regs is the register map of the byte-wide FIFO USB device
// controller and of the interrupt block that carries its line.
//
// Several values written during bring-up have no documented meaning. They
// are kept under names starting with Unknown; removing any of them stops
// the controller from enumerating.
package regs

// Slot selects one FIFO's register set. Each slot owns a status, control
// and flush byte plus a 16-bit data register.
type Slot uint8

// FIFO slots in register order.
const (
	SlotEP0W Slot = iota // ep0 IN
	SlotEP2R             // ep2 OUT (bulk)
	SlotEP1W             // ep1 IN (bulk)
	SlotEP0R             // ep0 OUT, carries setup packets and OUT data stages
	NumSlots
)

// Block offsets of the USB controller.
const (
	Stat          = 0x00 // status byte, one per slot
	Cntl          = 0x04 // control byte, one per slot
	Flush         = 0x08 // flush byte, one per slot
	UnknownWakeup = 0x0C // written once during wakeup
	IRQEnable     = 0x10 // interrupt source enable mask
	IRQAck        = 0x11 // read: latched sources; write: clear sources
	Data          = 0x20 // data half-word, one per slot, stride 2

	USBOldCtl1 = 0x30 // PHY interface control, legacy block
	USBOldCtl2 = 0x32
	USBNewCtl1 = 0x34 // PHY interface control, revised block
	SysRev     = 0x36 // silicon revision
)

// StatOf returns the status register offset of s.
func (s Slot) StatOf() uint16 { return Stat + uint16(s) }

// CntlOf returns the control register offset of s.
func (s Slot) CntlOf() uint16 { return Cntl + uint16(s) }

// FlushOf returns the flush register offset of s.
func (s Slot) FlushOf() uint16 { return Flush + uint16(s) }

// DataOf returns the data register offset of s.
func (s Slot) DataOf() uint16 { return Data + 2*uint16(s) }

// IsIn reports whether s is a device-to-host FIFO.
func (s Slot) IsIn() bool { return s == SlotEP0W || s == SlotEP1W }

// String returns the slot's register-bank name.
func (s Slot) String() string {
	switch s {
	case SlotEP0W:
		return "EP0W"
	case SlotEP2R:
		return "EP2R"
	case SlotEP1W:
		return "EP1W"
	case SlotEP0R:
		return "EP0R"
	default:
		return "invalid"
	}
}

// Status bits.
//
// OUT slots report StatEmpty while no packet is waiting. IN slots report
// StatBusy while a committed packet has not been taken by the host, except
// SlotEP0W which reports the inverse: bit 0 set means idle. StatFull is set
// while a staged IN packet cannot take another byte. On SlotEP0W, outside of
// a FIFO load, StatFull means the host stalled the control pipe.
//
// The StatBusy polarity on the bulk IN slots is taken from the halt logic,
// which treats bit 0 set as a packet still in flight. The vendor's FIFO
// writer instead reads bit 0 clear as not-ready on every IN slot, SlotEP0W
// included. Only the simulator models these slots; confirm the polarity on
// silicon before driving them through the mmio backend.
const (
	StatEmpty = 0x01
	StatBusy  = 0x01
	StatFull  = 0x02

	StatEP0Inverted = 0x01 // bits of SlotEP0W status with inverted polarity
)

// Control codes.
const (
	CtlLoad          = 0x01 // open an IN FIFO for loading
	CtlArm           = 0x03 // arm the FIFO for the next packet
	CtlUnknownEP0    = 0x08 // written to EP0W after every setup; meaning unknown
	CtlReset         = 0x0B // release/reset the FIFO; alone, stalls the endpoint
	FlushCommit      = 0x00 // flush register value that commits a loaded packet
	UnknownWakeupVal = 0x01
)

// DataNone is set in a data half-word when the FIFO has no byte to give.
const DataNone = 0x8000

// Interrupt source bits of IRQEnable and IRQAck.
const (
	SrcEP0       = 0x01 // ep0 activity
	SrcJumpStart = 0x02 // fires once after the controller is first armed
	SrcData      = 0x04 // data endpoint activity
	SrcUnknown   = 0x08
	SrcL1        = 0x10 // link power state change; ignored

	SrcAll         = 0x1F
	SrcInteresting = SrcEP0 | SrcData
	SrcIgnore      = SrcL1
)

// Interrupt enable masks.
const (
	MaskArm    = 0xFF                   // written at bind
	MaskSteady = SrcAll &^ SrcJumpStart // restored after jump start
	MaskNone   = 0x00
)

// SysRevNewPHY is set in SysRev on silicon with the revised PHY interface.
const SysRevNewPHY = 0x0100

// HasNewPHY reports whether the silicon revision rev carries the revised
// PHY interface block.
func HasNewPHY(rev uint16) bool { return rev&SysRevNewPHY != 0 }

// Interrupt block layout. The block has one global byte and one byte per
// line starting at IRQCLine0.
const (
	IRQCGlobal = 0x00
	IRQCLine0  = 0x02

	IRQCGlobalDisable = 0x01
	IRQCPriorityMask  = 0x07
	IRQCPending       = 0x80

	// IRQCPriority is the priority the controller's line runs at. Writing it
	// back to the line register acknowledges the line.
	IRQCPriority = 0x02
)

// IRQCLineOf returns the interrupt block offset of line.
func IRQCLineOf(line int) uint16 { return IRQCLine0 + uint16(line) }

// DefaultIRQLine is the controller's line on the interrupt block.
const DefaultIRQLine = 5

// MaxPacket is the hardware FIFO depth of every slot.
const MaxPacket = 64
