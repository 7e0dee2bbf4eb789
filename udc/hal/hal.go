package hal

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// Bus gives byte and half-word access to a block of memory-mapped registers.
//
// Offsets are relative to the start of the block. Every access must reach
// the device in program order; implementations may not cache, merge, or
// reorder reads and writes. Reads can have side effects (a FIFO data read
// consumes a byte), so callers never read a register speculatively.
type Bus interface {
	Read8(off uint16) uint8
	Write8(off uint16, v uint8)
	Read16(off uint16) uint16
	Write16(off uint16, v uint16)
}

// InterruptController is the platform interrupt block that routes the
// controller's interrupt line to the CPU.
type InterruptController interface {
	// Enable unmasks the line at the controller's priority.
	Enable(line int) error

	// Disable masks the line.
	Disable(line int)

	// Ack clears the line's pending state.
	Ack(line int)
}
