package udc

import (
	"fmt"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/regs"
)

// HandleInterrupt services one interrupt on the controller's line. It must
// be called from the interrupt context, or from the single goroutine that
// stands in for it, and never concurrently with other controller calls.
//
// A second jump-start interrupt means the hardware is not behaving as the
// driver expects. HandleInterrupt then leaves every source masked and panics
// with an error wrapping pkg.ErrHardwareFault.
func (c *Controller) HandleInterrupt() {
	g := c.maskAll()
	defer g.release()

	c.ic.Ack(c.cfg.Line)
	src := c.bus.Read8(regs.IRQAck)
	c.bus.Write8(regs.IRQAck, regs.SrcAll)

	c.stats.interrupts.Inc()
	c.stats.rate.Incr(1)

	if src&regs.SrcJumpStart != 0 {
		if !c.jumpStarted.CAS(false, true) {
			g.restoreTo(regs.MaskNone)
			pkg.LogError(pkg.ComponentIRQ, "jump-start fired twice", "src", src)
			panic(fmt.Errorf("irq source 0x%02X: jump-start repeated: %w", src, pkg.ErrHardwareFault))
		}
		pkg.LogDebug(pkg.ComponentIRQ, "jump-start", "mask", regs.MaskSteady)
		g.restoreTo(regs.MaskSteady)
	}

	if src&regs.SrcIgnore != 0 || src&regs.SrcInteresting == 0 {
		c.stats.skipped.Inc()
		return
	}

	for range c.cfg.Rescans {
		c.handleEP0()
		for i := 1; i < len(c.eps); i++ {
			c.pump(&c.eps[i])
		}
	}
}
