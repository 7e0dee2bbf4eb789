package udc

import (
	"log/slog"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/regs"
	"github.com/ardnew/softudc/usb"
)

// inOutStage reports whether the control endpoint is in the OUT data stage
// of a transfer. The control OUT FIFO then carries data, not setups.
func (c *Controller) inOutStage() bool {
	return c.setupPending && c.dataOut
}

// endControl ends the current control transfer.
func (c *Controller) endControl() {
	c.setupPending = false
	c.dataOut = false
}

// stall fails the current control transfer.
func (c *Controller) stall() {
	c.nuke(&c.eps[EP0], pkg.StatusProtocol)
	c.endControl()
	c.stats.stalls.Inc()
}

// handleEP0 services the control endpoint once.
func (c *Controller) handleEP0() {
	ep := &c.eps[EP0]
	st := c.stat(regs.SlotEP0W)

	if st&regs.StatFull != 0 {
		pkg.LogWarn(pkg.ComponentEP0, "ep0 stalled by host")
		c.stall()
		return
	}
	if st&regs.StatEP0Inverted == 0 && c.rxReady(regs.SlotEP0R) && !c.inOutStage() {
		// A new setup arrived before the previous IN data was taken.
		c.nuke(ep, pkg.StatusSuccess)
		c.endControl()
		c.handleSetup()
		return
	}

	if id, ok := ep.head(); ok {
		if r := c.reqs.get(id); r != nil {
			switch {
			case ep.isIn:
				if c.writeFIFO(ep, id, r) {
					c.endControl()
				}
			case c.inOutStage():
				if c.readFIFO(ep, id, r) {
					c.endControl()
				}
			}
		}
	}

	if !c.inOutStage() && c.rxReady(regs.SlotEP0R) {
		c.handleSetup()
	}
}

// handleSetup reads and dispatches setup packets until the control OUT
// FIFO is empty or a transfer needs a data stage.
func (c *Controller) handleSetup() {
	ep := &c.eps[EP0]
	for {
		if !c.rxReady(regs.SlotEP0R) {
			return
		}

		var raw [usb.SetupPacketSize]byte
		got := c.drain(regs.SlotEP0R, raw[:])

		var pkt usb.SetupPacket
		if err := usb.ParseSetupPacket(raw[:got], &pkt); err != nil {
			c.control(regs.SlotEP0W, regs.CtlUnknownEP0)
			c.release(regs.SlotEP0R)
			pkg.LogWarn(pkg.ComponentEP0, "malformed setup", "bytes", got)
			ep.stopped = false
			c.stall()
			return
		}

		c.release(regs.SlotEP0R)
		if pkt.IsDeviceToHost() {
			c.control(regs.SlotEP0W, regs.CtlUnknownEP0)
			c.control(regs.SlotEP0W, regs.CtlLoad)
			ep.isIn = true
		} else {
			c.control(regs.SlotEP0W, regs.CtlUnknownEP0)
			ep.isIn = false
		}
		ep.stopped = false
		c.stats.setups.Inc()

		if pkg.Enabled(slog.LevelDebug) {
			pkg.LogDebug(pkg.ComponentEP0, "setup", "pkt", pkt.String())
		}

		c.setupPending = true
		c.dataOut = !ep.isIn && pkt.Length > 0

		if pkt.IsSetAddress() {
			c.address = uint8(pkt.Value)
			c.endControl()
			pkg.LogInfo(pkg.ComponentEP0, "address assigned", "address", c.address)
			continue
		}

		var err error
		if c.driver != nil {
			err = c.driver.Setup(c, &pkt)
		} else {
			err = pkg.ErrNoDevice
		}
		if err != nil {
			pkg.LogDebug(pkg.ComponentEP0, "setup rejected",
				"request", pkt.Request, "type", pkt.RequestType, "err", err)
			c.stall()
		}

		if pkt.IsDeviceToHost() || c.inOutStage() {
			return
		}
	}
}
