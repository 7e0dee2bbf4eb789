// Package mmio implements [hal.Bus] over memory-mapped registers using
// TinyGo's runtime/volatile accessors.
//
// The package only builds under TinyGo. A board package wires it up with
// the physical bases of the controller and its interrupt block:
//
//	usb := mmio.New(0x40100000)
//	ic := irqc.New(mmio.New(0x40000000))
//	ctrl, err := udc.New(usb, ic, udc.DefaultConfig())
//
// See [github.com/ardnew/softudc/udc/regs.StatBusy] for the IN status
// polarity, which is unverified on hardware.
package mmio
