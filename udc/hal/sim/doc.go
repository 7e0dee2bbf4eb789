// Package sim is a software model of the byte-wide FIFO USB controller.
//
// A [Device] implements [hal.Bus] for the controller's register block and
// exposes a second bus, [Device.IRQBlock], for the interrupt block its line
// is wired to. The host side of the wire is driven directly:
//
//	dev := sim.New()
//	dev.HostSetup([]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00})
//	ctrl.HandleInterrupt()
//	pkt, ok, err := dev.HostIn(regs.SlotEP0W)
//
// # FIFO Model
//
// OUT slots hold a queue of packets. Reading the data register yields the
// head packet's bytes and then a word with bit 15 set. Writing the reset
// control code releases the head packet if it was read from.
//
// IN slots are opened with the load control code, filled one byte at a time
// through the data register and committed by writing the flush register.
// A committed packet keeps the slot busy until the host takes it.
//
// Interrupt sources latch until acknowledged. The first acknowledge after
// the jump-start source is enabled raises that source once, as the silicon
// does at bring-up. Writing an enable mask without that source re-arms it.
//
// Every register access is recorded so tests can assert on exact hardware
// sequences; see [Device.Writes] and [Device.WritesTo].
package sim
