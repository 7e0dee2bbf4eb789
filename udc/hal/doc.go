// Package hal defines the hardware boundary of the USB device controller.
//
// The controller engine never touches memory directly. All register traffic
// goes through a [Bus], a byte/half-word view of the controller's register
// block, and the interrupt line is managed through an [InterruptController].
//
// # Backends
//
//   - [github.com/ardnew/softudc/udc/hal/sim]: a software model of the
//     controller used by tests and the simulator command.
//   - [github.com/ardnew/softudc/udc/hal/mmio]: volatile memory-mapped access
//     for TinyGo targets.
//   - [github.com/ardnew/softudc/udc/hal/irqc]: the priority-encoded interrupt
//     block, implemented over a [Bus].
//
// # Implementing a Bus
//
//	type myBus struct{ base uintptr }
//
//	func (b myBus) Read8(off uint16) uint8 {
//	    return (*volatile.Register8)(unsafe.Pointer(b.base + uintptr(off))).Get()
//	}
//
//	// ... Write8, Read16, Write16
package hal
