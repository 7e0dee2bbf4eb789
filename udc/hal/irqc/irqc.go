package irqc

import (
	"fmt"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/hal"
	"github.com/ardnew/softudc/udc/regs"
)

// MaxLines is the number of lines on the block.
const MaxLines = 32

// Controller drives the priority-encoded interrupt block.
//
// Every line update runs with the block globally disabled so the CPU never
// observes a half-written priority.
type Controller struct {
	bus      hal.Bus
	priority uint8
}

// New returns a Controller for the block behind bus. Lines are enabled at
// regs.IRQCPriority.
func New(bus hal.Bus) *Controller {
	return &Controller{bus: bus, priority: regs.IRQCPriority}
}

// SetPriority changes the priority used by later Enable and Ack calls.
func (c *Controller) SetPriority(p uint8) error {
	if p == 0 || p > regs.IRQCPriorityMask {
		return fmt.Errorf("priority %d: %w", p, pkg.ErrInvalidParameter)
	}
	c.priority = p
	return nil
}

// Enable unmasks line at the configured priority.
func (c *Controller) Enable(line int) error {
	if line < 0 || line >= MaxLines {
		return fmt.Errorf("line %d: %w", line, pkg.ErrInvalidParameter)
	}
	c.writeLine(line, c.priority)
	pkg.LogDebug(pkg.ComponentHAL, "irq line enabled", "line", line, "priority", c.priority)
	return nil
}

// Disable masks line. Out-of-range lines are ignored.
func (c *Controller) Disable(line int) {
	if line < 0 || line >= MaxLines {
		return
	}
	c.writeLine(line, 0)
	pkg.LogDebug(pkg.ComponentHAL, "irq line disabled", "line", line)
}

// Ack clears the pending bit of line by rewriting its priority.
func (c *Controller) Ack(line int) {
	if line < 0 || line >= MaxLines {
		return
	}
	c.writeLine(line, c.priority)
}

// Pending reports whether line has an unacknowledged request.
func (c *Controller) Pending(line int) bool {
	if line < 0 || line >= MaxLines {
		return false
	}
	return c.bus.Read8(regs.IRQCLineOf(line))&regs.IRQCPending != 0
}

// Priority returns the priority line is currently enabled at, 0 if masked.
func (c *Controller) Priority(line int) uint8 {
	if line < 0 || line >= MaxLines {
		return 0
	}
	return c.bus.Read8(regs.IRQCLineOf(line)) & regs.IRQCPriorityMask
}

func (c *Controller) writeLine(line int, v uint8) {
	c.bus.Write8(regs.IRQCGlobal, regs.IRQCGlobalDisable)
	c.bus.Write8(regs.IRQCLineOf(line), v&regs.IRQCPriorityMask)
	c.bus.Write8(regs.IRQCGlobal, 0)
}

var _ hal.InterruptController = (*Controller)(nil)
