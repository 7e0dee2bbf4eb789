// Package usb holds the USB 2.0 chapter 9 wire contract shared by the
// controller and gadget drivers: the 8-byte SETUP packet and the standard
// descriptors a gadget hands to the host.
//
// Serialization follows a caller-provided-buffer pattern:
//
//	var pkt usb.SetupPacket
//	if err := usb.ParseSetupPacket(raw[:], &pkt); err != nil {
//	    return err
//	}
//	n := desc.MarshalTo(buf[:])
package usb
