package udc

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/hal"
	"github.com/ardnew/softudc/udc/regs"
	"github.com/ardnew/softudc/usb"
)

// Gadget is the USB function driver bound to the controller.
//
// Setup receives every control request except SET_ADDRESS. Returning an
// error stalls the control endpoint. A request with an OUT data stage or an
// IN data stage is answered by enqueueing a request on EP0; a request with
// no data stage is acknowledged by enqueueing a zero-length request.
//
// Disconnect is called when the bus session ends while the gadget is
// bound. Every queued request has already completed with StatusShutdown.
type Gadget interface {
	Bind(c *Controller) error
	Unbind(c *Controller)
	Setup(c *Controller, pkt *usb.SetupPacket) error
	Disconnect(c *Controller)
}

// Controller drives one FIFO USB device controller.
//
// A Controller is not safe for concurrent use. Every method except Stats
// must be called from the same context as HandleInterrupt, with the
// controller's interrupt line serviced by that context alone.
type Controller struct {
	bus hal.Bus
	ic  hal.InterruptController
	cfg Config

	eps  []endpoint
	reqs arena

	driver  Gadget
	speed   hal.Speed
	address uint8

	enabled      bool
	clocked      bool
	suspended    bool
	setupPending bool
	dataOut      bool // setupPending covers an OUT data stage

	mask        atomic.Uint32
	jumpStarted atomic.Bool

	stats *counters
}

// New returns a controller for the register block at bus whose line is
// serviced by ic. The controller is idle until a gadget is bound.
func New(bus hal.Bus, ic hal.InterruptController, cfg Config) (*Controller, error) {
	if bus == nil || ic == nil {
		return nil, fmt.Errorf("nil bus or interrupt controller: %w", pkg.ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eps := make([]EndpointConfig, len(cfg.Endpoints))
	copy(eps, cfg.Endpoints)
	cfg.Endpoints = eps

	c := &Controller{
		bus:   bus,
		ic:    ic,
		cfg:   cfg,
		reqs:  newArena(cfg.MaxRequests),
		stats: newCounters(),
	}
	c.eps = make([]endpoint, len(cfg.Endpoints))
	for i, ec := range cfg.Endpoints {
		c.eps[i] = newEndpoint(EndpointID(i), ec, cfg.MaxRequests)
	}
	pkg.LogDebug(pkg.ComponentUDC, "controller created", "endpoints", len(c.eps), "line", cfg.Line)
	return c, nil
}

// Address returns the USB address assigned by the host.
func (c *Controller) Address() uint8 { return c.address }

// Speed returns the bus speed, or SpeedUnknown while no session is active.
func (c *Controller) Speed() hal.Speed { return c.speed }

// SetupPending reports whether a control transfer awaits its data or status
// stage.
func (c *Controller) SetupPending() bool { return c.setupPending }

// Enabled reports whether a gadget is bound and the controller is running.
func (c *Controller) Enabled() bool { return c.enabled }

// Clocked reports whether the controller is clocked.
func (c *Controller) Clocked() bool { return c.clocked }

// Suspended reports whether the bus is suspended.
func (c *Controller) Suspended() bool { return c.suspended }

// NumEndpoints returns the size of the endpoint table.
func (c *Controller) NumEndpoints() int { return len(c.eps) }

// Bind attaches g and brings the controller up. g's Bind method runs after
// the endpoints are reset and before interrupts are enabled.
func (c *Controller) Bind(g Gadget) error {
	if g == nil {
		return fmt.Errorf("nil gadget: %w", pkg.ErrInvalidParameter)
	}
	if c.driver != nil {
		return fmt.Errorf("bind: %w", pkg.ErrAlreadyRunning)
	}

	c.driver = g
	c.enabled = true
	c.reinit()

	// The wakeup sequence doubles as PHY bring-up.
	c.wakeup()

	c.speed = c.cfg.Speed
	if err := g.Bind(c); err != nil {
		pkg.LogWarn(pkg.ComponentUDC, "gadget bind failed", "err", err)
		c.driver = nil
		c.enabled = false
		c.speed = hal.SpeedUnknown
		return fmt.Errorf("gadget bind: %w", err)
	}

	c.clocked = true
	c.jumpStarted.Store(false)
	c.setMask(regs.MaskArm)
	c.bus.Write8(regs.IRQAck, regs.MaskArm)
	if err := c.ic.Enable(c.cfg.Line); err != nil {
		c.setMask(regs.MaskNone)
		c.clocked = false
		g.Unbind(c)
		c.driver = nil
		c.enabled = false
		c.speed = hal.SpeedUnknown
		return fmt.Errorf("enable line %d: %w", c.cfg.Line, err)
	}
	pkg.LogInfo(pkg.ComponentUDC, "gadget bound", "speed", c.speed.String())
	return nil
}

// Unbind ends the session, detaches the bound gadget and shuts the
// controller down.
func (c *Controller) Unbind() error {
	if c.driver == nil {
		return fmt.Errorf("unbind: %w", pkg.ErrNoDevice)
	}
	g := c.driver

	c.enabled = false
	c.ic.Disable(c.cfg.Line)
	c.stopActivity()

	g.Unbind(c)
	c.driver = nil
	c.setMask(regs.MaskNone)
	c.clocked = false
	pkg.LogInfo(pkg.ComponentUDC, "gadget unbound")
	return nil
}

// Reset handles a bus reset: the session ends, queued requests complete
// with StatusShutdown, the gadget sees Disconnect, and a new session starts
// at the configured speed.
func (c *Controller) Reset() error {
	if c.driver == nil {
		return fmt.Errorf("reset: %w", pkg.ErrNoDevice)
	}
	g := c.maskAll()
	defer g.release()

	c.stopActivity()
	c.speed = c.cfg.Speed
	return nil
}

// Suspend marks the bus suspended so that Wakeup may signal resume.
func (c *Controller) Suspend() error {
	if !c.clocked {
		return fmt.Errorf("suspend: %w", pkg.ErrNotReady)
	}
	c.suspended = true
	return nil
}

// Wakeup signals remote wakeup and re-arms every FIFO. The controller must
// be clocked and suspended.
func (c *Controller) Wakeup() error {
	if !c.clocked || !c.suspended {
		return fmt.Errorf("wakeup: %w", pkg.ErrNotReady)
	}
	c.wakeup()
	c.suspended = false
	return nil
}

// wakeup runs the PHY and FIFO re-arm sequence.
func (c *Controller) wakeup() {
	c.bus.Write8(regs.UnknownWakeup, regs.UnknownWakeupVal)
	c.bus.Write16(regs.USBOldCtl2, 1)
	c.bus.Write16(regs.USBOldCtl1, 1)
	if regs.HasNewPHY(c.bus.Read16(regs.SysRev)) {
		c.bus.Write16(regs.USBOldCtl2, 0)
		c.bus.Write16(regs.USBNewCtl1, c.bus.Read16(regs.USBNewCtl1)|1)
	}

	c.control(regs.SlotEP2R, regs.CtlReset)
	c.control(regs.SlotEP1W, regs.CtlReset)
	c.control(regs.SlotEP2R, regs.CtlArm)
	c.control(regs.SlotEP1W, regs.CtlArm)
	c.control(regs.SlotEP0R, regs.CtlReset)
	c.control(regs.SlotEP0R, regs.CtlArm)
	c.control(regs.SlotEP0W, regs.CtlUnknownEP0)
	c.control(regs.SlotEP0W, regs.CtlLoad)

	c.bus.Write8(regs.IRQAck, regs.SrcAll)
	pkg.LogDebug(pkg.ComponentUDC, "wakeup")
}

// GetFrame returns the current frame number. The hardware has no frame
// counter.
func (c *Controller) GetFrame() (uint16, error) {
	if !c.clocked {
		return 0, fmt.Errorf("get frame: %w", pkg.ErrNotReady)
	}
	return 0, fmt.Errorf("get frame: %w", pkg.ErrNotSupported)
}

// stopActivity ends the bus session. The gadget is told about the
// disconnect only if a session was active.
func (c *Controller) stopActivity() {
	notify := c.driver != nil && c.speed != hal.SpeedUnknown
	c.speed = hal.SpeedUnknown
	c.suspended = false

	for i := range c.eps {
		c.nuke(&c.eps[i], pkg.StatusShutdown)
	}
	if notify {
		c.driver.Disconnect(c)
	}
	c.reinit()
}

// reinit returns every endpoint and the control state to power-on values.
func (c *Controller) reinit() {
	for i := range c.eps {
		c.nuke(&c.eps[i], pkg.StatusShutdown)
		c.eps[i].reset()
	}
	c.address = 0
	c.endControl()
}
