// Package irqc implements [hal.InterruptController] for the platform's
// priority-encoded interrupt block.
//
// The block has a global byte (bit 0 disables every line) and one byte per
// line. A line byte holds the line's priority in its low three bits, zero
// meaning masked, and reports a pending request in bit 7. Writing the
// priority back clears the pending bit.
package irqc
