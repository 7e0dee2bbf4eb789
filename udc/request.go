package udc

import (
	"fmt"

	"github.com/ardnew/softudc/pkg"
)

// RequestID is a handle to a request in the controller's arena. The zero
// value is never a valid handle. Handles go stale when the request is freed.
type RequestID uint32

func makeRequestID(index int, gen uint16) RequestID {
	return RequestID(uint32(gen)<<16 | uint32(index+1))
}

func (id RequestID) index() int { return int(id&0xFFFF) - 1 }
func (id RequestID) gen() uint16 { return uint16(id >> 16) }

// CompletionFunc is called exactly once when a queued request finishes.
// The request's endpoint is stopped for the duration of the call, so a
// request enqueued on it from inside the callback is only queued. While the
// endpoint is being flushed (disable, stall, bus reset) such an Enqueue
// fails with ErrShutdown.
type CompletionFunc func(ep EndpointID, id RequestID, r *Request)

// Request is one transfer submitted by a gadget driver.
type Request struct {
	// Buf holds data to send, or receives OUT data. Its length is the
	// transfer length.
	Buf []byte

	// Zero requests a zero-length packet after a transfer that ends on a
	// packet boundary. On OUT endpoints such a transfer completes only
	// after the host sends one.
	Zero bool

	// ShortNotOK reports a short OUT transfer as StatusShortPacket.
	ShortNotOK bool

	// OnComplete is required.
	OnComplete CompletionFunc

	// Status and Actual are written by the controller.
	Status pkg.RequestStatus
	Actual int

	gen    uint16
	inUse  bool
	queued bool
	ep     EndpointID
}

// Queued reports whether the request is waiting on an endpoint.
func (r *Request) Queued() bool {
	return r.queued
}

// Err returns the error form of the request's status.
func (r *Request) Err() error {
	return r.Status.Error()
}

// arena owns every request the controller can hand out.
type arena struct {
	slots []Request
	free  []int
}

func newArena(n int) arena {
	a := arena{
		slots: make([]Request, n),
		free:  make([]int, 0, n),
	}
	for i := n - 1; i >= 0; i-- {
		a.free = append(a.free, i)
	}
	return a
}

func (a *arena) alloc() (RequestID, error) {
	if len(a.free) == 0 {
		return 0, pkg.ErrNoResources
	}
	i := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	r := &a.slots[i]
	gen := r.gen
	*r = Request{gen: gen, inUse: true}
	return makeRequestID(i, gen), nil
}

func (a *arena) get(id RequestID) *Request {
	i := id.index()
	if i < 0 || i >= len(a.slots) {
		return nil
	}
	r := &a.slots[i]
	if !r.inUse || r.gen != id.gen() {
		return nil
	}
	return r
}

func (a *arena) release(id RequestID) error {
	r := a.get(id)
	if r == nil {
		return fmt.Errorf("request %#x: %w", uint32(id), pkg.ErrInvalidRequest)
	}
	if r.queued {
		return fmt.Errorf("request %#x: %w", uint32(id), pkg.ErrBusy)
	}
	*r = Request{gen: r.gen + 1}
	a.free = append(a.free, id.index())
	return nil
}

// inUse returns the number of allocated requests.
func (a *arena) inUse() int {
	return len(a.slots) - len(a.free)
}
