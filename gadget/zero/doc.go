// Package zero implements a loopback gadget for [udc.Controller].
//
// The gadget answers the standard enumeration requests with a single
// vendor-class configuration holding one bulk OUT and one bulk IN endpoint.
// Once configured, every packet the host writes to the OUT endpoint is
// queued back on the IN endpoint unchanged. Class and vendor requests are
// stalled.
//
// Basic usage:
//
//	g := zero.New(zero.WithIDs(0x1209, 0x0001))
//	if err := c.Bind(g); err != nil {
//		return err
//	}
//
// All callbacks run in the controller's interrupt context and must not
// block.
package zero
