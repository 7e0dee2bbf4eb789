package udc

import (
	"fmt"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/hal"
	"github.com/ardnew/softudc/udc/regs"
	"github.com/ardnew/softudc/usb"
)

var (
	errInvalidEndpoint = fmt.Errorf("%w: %w", pkg.ErrInvalidParameter, pkg.ErrInvalidEndpoint)
	errInvalidRequest  = fmt.Errorf("%w: %w", pkg.ErrInvalidParameter, pkg.ErrInvalidRequest)
)

// bulkPacketSizes are the full-speed bulk packet sizes the FIFOs accept.
var bulkPacketSizes = [...]uint16{8, 16, 32, 64}

// maxInterruptPacket is the largest full-speed interrupt packet.
const maxInterruptPacket = 64

// AllocRequest returns a fresh request from the arena.
func (c *Controller) AllocRequest() (RequestID, *Request, error) {
	id, err := c.reqs.alloc()
	if err != nil {
		return 0, nil, err
	}
	return id, c.reqs.get(id), nil
}

// FreeRequest returns a request to the arena. A queued request cannot be
// freed; dequeue it first.
func (c *Controller) FreeRequest(id RequestID) error {
	return c.reqs.release(id)
}

// Request returns the request behind id, or nil if id is stale.
func (c *Controller) Request(id RequestID) *Request {
	return c.reqs.get(id)
}

// RequestsInUse returns the number of allocated requests.
func (c *Controller) RequestsInUse() int {
	return c.reqs.inUse()
}

// Enqueue submits request id on endpoint epID. If the endpoint is idle the
// request is pumped at once and may complete before Enqueue returns; its
// callback has then already run.
//
// On EP0 a request answers the pending control transfer. A zero-length
// request is the status stage and completes without touching the FIFOs.
func (c *Controller) Enqueue(epID EndpointID, id RequestID) error {
	r := c.reqs.get(id)
	if r == nil || r.OnComplete == nil || r.queued {
		return fmt.Errorf("enqueue %#x: %w", uint32(id), errInvalidRequest)
	}
	ep, err := c.endpoint(epID)
	if err != nil {
		return err
	}
	if !ep.bound() {
		return fmt.Errorf("enqueue on %s: unbound: %w", ep.name, errInvalidEndpoint)
	}
	if c.driver == nil || c.speed == hal.SpeedUnknown {
		return fmt.Errorf("enqueue on %s: %w", ep.name, pkg.ErrNotReady)
	}
	if ep.nuking {
		return fmt.Errorf("enqueue on %s: %w", ep.name, pkg.ErrShutdown)
	}
	if ep.id == EP0 && !c.setupPending {
		return fmt.Errorf("enqueue on %s: no control transfer: %w", ep.name, errInvalidRequest)
	}

	r.Status = pkg.StatusInProgress
	r.Actual = 0

	g := c.maskAll()
	defer g.release()

	if len(ep.queue) == 0 && !ep.stopped {
		if ep.id == EP0 {
			if len(r.Buf) == 0 {
				pkg.LogDebug(pkg.ComponentEP0, "status stage")
				c.endControl()
				c.done(ep, id, r, pkg.StatusSuccess)
				return nil
			}
			if !ep.isIn && !c.dataOut {
				return fmt.Errorf("enqueue on %s: no data stage: %w", ep.name, errInvalidRequest)
			}
		}

		r.queued = true
		r.ep = epID
		ep.queue = append(ep.queue, id)

		var done bool
		if ep.isIn {
			done = c.writeFIFO(ep, id, r)
		} else {
			done = c.readFIFO(ep, id, r)
		}
		if done && ep.id == EP0 {
			c.endControl()
		}
		return nil
	}

	r.queued = true
	r.ep = epID
	ep.queue = append(ep.queue, id)
	return nil
}

// Dequeue cancels a queued request. It completes with StatusConnReset. The
// control endpoint does not support dequeue.
func (c *Controller) Dequeue(epID EndpointID, id RequestID) error {
	ep, err := c.endpoint(epID)
	if err != nil {
		return err
	}
	if ep.id == EP0 {
		return fmt.Errorf("dequeue on %s: %w", ep.name, errInvalidEndpoint)
	}
	r := c.reqs.get(id)
	if r == nil || !r.queued || r.ep != epID {
		return fmt.Errorf("dequeue %#x on %s: not queued: %w", uint32(id), ep.name, errInvalidRequest)
	}

	g := c.maskAll()
	defer g.release()

	c.done(ep, id, r, pkg.StatusConnReset)
	return nil
}

// SetHalt stalls (value true) or clears the stall of endpoint epID. An IN
// endpoint with queued requests or a packet the host has not yet taken
// cannot be halted; SetHalt then returns pkg.ErrBusy without touching the
// hardware.
func (c *Controller) SetHalt(epID EndpointID, value bool) error {
	ep, err := c.endpoint(epID)
	if err != nil {
		return err
	}
	if ep.isIso {
		return fmt.Errorf("halt %s: isochronous: %w", ep.name, pkg.ErrInvalidParameter)
	}
	if !c.clocked {
		return fmt.Errorf("halt %s: %w", ep.name, pkg.ErrNotReady)
	}

	g := c.maskAll()
	defer g.release()

	if ep.isIn && (len(ep.queue) > 0 || c.inBusy(ep.slot)) {
		return fmt.Errorf("halt %s: %w", ep.name, pkg.ErrBusy)
	}

	c.control(ep.slot, regs.CtlReset)
	if !value {
		c.control(ep.slot, regs.CtlArm)
	}
	if ep.id == EP0 {
		c.endControl()
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "halt", "ep", ep.name, "set", value)
	return nil
}

// EnableEndpoint configures epID from desc and binds it. The descriptor is
// copied. The control endpoint is always enabled.
func (c *Controller) EnableEndpoint(epID EndpointID, desc *usb.EndpointDescriptor) error {
	ep, err := c.endpoint(epID)
	if err != nil {
		return err
	}
	if ep.id == EP0 || desc == nil || ep.desc != nil {
		return fmt.Errorf("enable %s: %w", ep.name, errInvalidEndpoint)
	}
	if desc.DescriptorType != usb.DescriptorTypeEndpoint {
		return fmt.Errorf("enable %s: descriptor type 0x%02X: %w",
			ep.name, desc.DescriptorType, pkg.ErrInvalidParameter)
	}
	mp := desc.MaxPacketSize
	if mp == 0 || mp > ep.hwMaxPacket {
		return fmt.Errorf("enable %s: max packet %d: %w", ep.name, mp, pkg.ErrInvalidParameter)
	}
	if c.driver == nil || c.speed == hal.SpeedUnknown {
		return fmt.Errorf("enable %s: %w", ep.name, pkg.ErrNotReady)
	}

	xfer := desc.TransferType()
	switch xfer {
	case usb.EndpointTypeControl:
		return fmt.Errorf("enable %s: control type: %w", ep.name, pkg.ErrInvalidParameter)
	case usb.EndpointTypeInterrupt:
		if mp > maxInterruptPacket {
			return fmt.Errorf("enable %s: interrupt max packet %d: %w", ep.name, mp, pkg.ErrInvalidParameter)
		}
	case usb.EndpointTypeBulk:
		ok := false
		for _, n := range bulkPacketSizes {
			ok = ok || n == mp
		}
		if !ok {
			return fmt.Errorf("enable %s: bulk max packet %d: %w", ep.name, mp, pkg.ErrInvalidParameter)
		}
	case usb.EndpointTypeIsochronous:
		if !ep.pingpong {
			return fmt.Errorf("enable %s: isochronous needs double buffering: %w", ep.name, pkg.ErrInvalidParameter)
		}
	}
	if desc.EndpointAddress != ep.addr {
		return fmt.Errorf("enable %s: address 0x%02X: %w", ep.name, desc.EndpointAddress, pkg.ErrInvalidParameter)
	}

	g := c.maskAll()
	defer g.release()

	d := *desc
	ep.desc = &d
	ep.isIso = xfer == usb.EndpointTypeIsochronous
	ep.stopped = false
	ep.maxPacket = mp
	ep.queue = ep.queue[:0]
	c.release(ep.slot)

	pkg.LogDebug(pkg.ComponentEndpoint, "enabled", "ep", ep.name,
		"type", usb.TransferTypeName(xfer), "maxpacket", mp)
	return nil
}

// DisableEndpoint unbinds epID. Queued requests complete with
// StatusShutdown.
func (c *Controller) DisableEndpoint(epID EndpointID) error {
	ep, err := c.endpoint(epID)
	if err != nil {
		return err
	}
	if ep.id == EP0 {
		return fmt.Errorf("disable %s: %w", ep.name, errInvalidEndpoint)
	}

	g := c.maskAll()
	defer g.release()

	c.nuke(ep, pkg.StatusShutdown)
	ep.desc = nil
	ep.isIso = false
	ep.maxPacket = ep.hwMaxPacket
	if c.clocked {
		c.flush(ep.slot)
		c.control(ep.slot, regs.CtlReset)
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "disabled", "ep", ep.name)
	return nil
}
