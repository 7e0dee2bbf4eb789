package udc

import (
	"fmt"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/regs"
	"github.com/ardnew/softudc/usb"
)

// EndpointID indexes the controller's endpoint table in Config.Endpoints
// order.
type EndpointID int

// EP0 is the control endpoint. Its OUT direction is not advertised; the
// controller drives it internally.
const EP0 EndpointID = 0

// endpoint is one hardware FIFO and its request queue.
type endpoint struct {
	id          EndpointID
	name        string
	addr        uint8
	slot        regs.Slot
	hwMaxPacket uint16
	maxPacket   uint16
	pingpong    bool

	isIn    bool
	isIso   bool
	stopped bool
	nuking  bool
	desc    *usb.EndpointDescriptor

	queue []RequestID
}

func newEndpoint(id EndpointID, cfg EndpointConfig, depth int) endpoint {
	return endpoint{
		id:          id,
		name:        cfg.Name,
		addr:        cfg.Address,
		slot:        cfg.Slot,
		hwMaxPacket: cfg.MaxPacket,
		maxPacket:   cfg.MaxPacket,
		pingpong:    cfg.DoubleBuffered,
		isIn:        id == EP0 || cfg.Address&usb.EndpointDirectionIn != 0,
		queue:       make([]RequestID, 0, depth),
	}
}

// bound reports whether requests may be queued.
func (ep *endpoint) bound() bool {
	return ep.id == EP0 || ep.desc != nil
}

// rxSlot is the slot OUT data is read from.
func (ep *endpoint) rxSlot() regs.Slot {
	if ep.id == EP0 {
		return regs.SlotEP0R
	}
	return ep.slot
}

func (ep *endpoint) head() (RequestID, bool) {
	if len(ep.queue) == 0 {
		return 0, false
	}
	return ep.queue[0], true
}

func (ep *endpoint) remove(id RequestID) bool {
	for i, q := range ep.queue {
		if q == id {
			copy(ep.queue[i:], ep.queue[i+1:])
			ep.queue = ep.queue[:len(ep.queue)-1]
			return true
		}
	}
	return false
}

// reset returns the endpoint to its unbound state. Queued requests must
// already have been completed.
func (ep *endpoint) reset() {
	ep.desc = nil
	ep.stopped = false
	ep.maxPacket = ep.hwMaxPacket
	ep.isIso = false
	ep.queue = ep.queue[:0]
	if ep.id == EP0 {
		ep.isIn = true
	}
}

// endpoint returns the table entry for id.
func (c *Controller) endpoint(id EndpointID) (*endpoint, error) {
	if id < 0 || int(id) >= len(c.eps) {
		return nil, fmt.Errorf("endpoint %d: %w", id, errInvalidEndpoint)
	}
	return &c.eps[id], nil
}

// Endpoint returns the ID of the endpoint with the given name.
func (c *Controller) Endpoint(name string) (EndpointID, bool) {
	for i := range c.eps {
		if c.eps[i].name == name {
			return c.eps[i].id, true
		}
	}
	return 0, false
}

// EndpointName returns the name of id, or "" if there is no such endpoint.
func (c *Controller) EndpointName(id EndpointID) string {
	ep, err := c.endpoint(id)
	if err != nil {
		return ""
	}
	return ep.name
}

// EndpointAddress returns the USB address of id, including the direction
// bit.
func (c *Controller) EndpointAddress(id EndpointID) uint8 {
	ep, err := c.endpoint(id)
	if err != nil {
		return 0
	}
	return ep.addr
}

// MaxPacket returns the packet size currently in effect on id.
func (c *Controller) MaxPacket(id EndpointID) uint16 {
	ep, err := c.endpoint(id)
	if err != nil {
		return 0
	}
	return ep.maxPacket
}

// QueueLen returns the number of requests waiting on id.
func (c *Controller) QueueLen(id EndpointID) int {
	ep, err := c.endpoint(id)
	if err != nil {
		return 0
	}
	return len(ep.queue)
}

// Bound reports whether id has an endpoint descriptor assigned. The control
// endpoint is always bound.
func (c *Controller) Bound(id EndpointID) bool {
	ep, err := c.endpoint(id)
	return err == nil && ep.bound()
}

// done completes r with status and calls its callback with ep stopped. A
// status already recorded on r, such as an overflow, takes precedence.
func (c *Controller) done(ep *endpoint, id RequestID, r *Request, status pkg.RequestStatus) {
	ep.remove(id)
	r.queued = false
	if r.Status == pkg.StatusInProgress {
		r.Status = status
	}
	if r.Status != pkg.StatusSuccess && r.Status != pkg.StatusShutdown {
		pkg.LogDebug(pkg.ComponentEndpoint, "request done",
			"ep", ep.name, "status", r.Status.String(), "actual", r.Actual)
	}
	c.stats.completed.Inc()

	stopped := ep.stopped
	ep.stopped = true
	r.OnComplete(ep.id, id, r)
	ep.stopped = stopped
}

// nuke completes every queued request on ep with status and stops it.
func (c *Controller) nuke(ep *endpoint, status pkg.RequestStatus) {
	ep.stopped = true
	if len(ep.queue) == 0 {
		return
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "nuke", "ep", ep.name, "status", status.String(), "queued", len(ep.queue))
	ep.nuking = true
	defer func() { ep.nuking = false }()
	for len(ep.queue) > 0 {
		id := ep.queue[0]
		r := c.reqs.get(id)
		if r == nil {
			ep.queue = ep.queue[1:]
			continue
		}
		c.done(ep, id, r, status)
	}
}
