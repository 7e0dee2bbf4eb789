package udc

import "github.com/ardnew/softudc/udc/regs"

// maskGuard holds the interrupt enable mask that was in effect before the
// controller's sources were masked. Releasing it restores that mask.
type maskGuard struct {
	c        *Controller
	saved    uint8
	released bool
}

// maskAll masks every interrupt source of the controller and returns a guard
// that restores the previous mask. Guards nest: an inner guard saves the
// zero mask and restores it, leaving the outer guard in charge.
func (c *Controller) maskAll() maskGuard {
	prev := uint8(c.mask.Swap(regs.MaskNone))
	c.bus.Write8(regs.IRQEnable, regs.MaskNone)
	return maskGuard{c: c, saved: prev}
}

// restoreTo changes the mask the guard restores.
func (g *maskGuard) restoreTo(m uint8) {
	g.saved = m
}

// release restores the saved mask. Only the first call has effect.
func (g *maskGuard) release() {
	if g.released {
		return
	}
	g.released = true
	g.c.mask.Store(uint32(g.saved))
	g.c.bus.Write8(regs.IRQEnable, g.saved)
}

// setMask replaces the interrupt enable mask outside of any guard.
func (c *Controller) setMask(m uint8) {
	c.mask.Store(uint32(m))
	c.bus.Write8(regs.IRQEnable, m)
}

// Mask returns the interrupt enable mask the controller last wrote.
func (c *Controller) Mask() uint8 {
	return uint8(c.mask.Load())
}
