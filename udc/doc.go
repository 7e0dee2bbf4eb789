// Package udc is the device-side engine of a byte-wide FIFO USB device
// controller.
//
// The controller has one shared control endpoint and a fixed set of bulk or
// interrupt endpoints, each backed by a hardware FIFO with status, control,
// flush and data registers. There is no DMA: every byte moves through the
// data register under interrupt control. The engine reaches the hardware
// through [hal.Bus] and its interrupt line through
// [hal.InterruptController].
//
// # Architecture
//
//   - [Controller] owns the endpoint table, the request arena, and the
//     session state (address, speed, clocked, suspended).
//   - Endpoints are addressed by [EndpointID]; EP0 is the control endpoint.
//   - Requests live in an arena and are addressed by [RequestID] handles
//     that go stale when the request is freed.
//   - [Controller.HandleInterrupt] dispatches one interrupt: it masks the
//     controller's sources, acknowledges the line and the sources, and
//     re-scans every endpoint up to Config.Rescans times.
//   - A [Gadget] implements the USB function. It receives control requests
//     through Setup and moves data with Enqueue.
//
// # Lifecycle
//
//	c, err := udc.New(bus, irqc.New(irqBus), udc.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	if err := c.Bind(gadget); err != nil {
//	    return err
//	}
//	defer c.Unbind()
//
//	for range interrupts {
//	    c.HandleInterrupt()
//	}
//
// # Requests
//
//	id, r, err := c.AllocRequest()
//	r.Buf = buf
//	r.OnComplete = func(ep udc.EndpointID, id udc.RequestID, r *udc.Request) {
//	    if err := r.Err(); err != nil {
//	        // StatusShutdown on disconnect, StatusConnReset on dequeue, ...
//	    }
//	}
//	err = c.Enqueue(ep, id)
//
// A request enqueued on an idle endpoint is pumped at once. A request that
// fits in one short packet completes before Enqueue returns.
//
// # Concurrency
//
// The controller assumes a single hardware context. Gadget calls and
// HandleInterrupt must not run concurrently. Critical sections in the
// gadget-facing methods mask the controller's interrupt sources and restore
// the previous mask on return.
package udc
