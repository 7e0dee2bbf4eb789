package zero

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc"
	"github.com/ardnew/softudc/usb"
)

// Default identity. These are the IDs conventionally used by loopback test
// gadgets.
const (
	DefaultVendorID  = 0x0525
	DefaultProductID = 0xA4A0

	// ConfigValue is the only configuration the gadget offers.
	ConfigValue = 1
)

// String descriptor indexes.
const (
	stringLang = iota
	stringManufacturer
	stringProduct
	stringSerial
	numStrings
)

// configTotalLength is the size of the configuration bundle: configuration,
// one interface and two endpoint descriptors.
const configTotalLength = usb.ConfigurationDescriptorSize + usb.InterfaceDescriptorSize +
	2*usb.EndpointDescriptorSize

// maxControlData is the largest control IN reply.
const maxControlData = 255

// Option configures a Gadget.
type Option func(*Gadget)

// WithIDs sets the vendor and product IDs.
func WithIDs(vendor, product uint16) Option {
	return func(g *Gadget) {
		g.device.VendorID = vendor
		g.device.ProductID = product
	}
}

// WithEndpoints selects the controller endpoints used for the loopback by
// name.
func WithEndpoints(out, in string) Option {
	return func(g *Gadget) {
		g.outName = out
		g.inName = in
	}
}

// WithStrings sets the manufacturer, product and serial number strings.
func WithStrings(manufacturer, product, serial string) Option {
	return func(g *Gadget) {
		g.text = [numStrings]string{"", manufacturer, product, serial}
	}
}

// Gadget is a loopback USB function: every packet the host writes to the
// bulk OUT endpoint is sent back on the bulk IN endpoint.
type Gadget struct {
	device  usb.DeviceDescriptor
	text    [numStrings]string
	outName string
	inName  string

	c       *udc.Controller
	out, in udc.EndpointID
	outAddr uint8
	inAddr  uint8

	ep0Req udc.RequestID
	outReq udc.RequestID
	inReq  udc.RequestID

	config   uint8
	haltOut  bool
	haltIn   bool
	ctrlBuf  [maxControlData]byte
	strBuf   [maxControlData]byte
	outBuf   [64]byte
	inBuf    [64]byte
	echoed   atomic.Int64
	packets  atomic.Int64
	rejected atomic.Int64
}

// New returns a loopback gadget on the default bulk endpoints.
func New(opts ...Option) *Gadget {
	g := &Gadget{
		device: usb.DeviceDescriptor{
			USBVersion:        0x0200,
			DeviceClass:       usb.ClassVendor,
			MaxPacketSize0:    64,
			VendorID:          DefaultVendorID,
			ProductID:         DefaultProductID,
			DeviceVersion:     0x0100,
			ManufacturerIndex: stringManufacturer,
			ProductIndex:      stringProduct,
			SerialNumberIndex: stringSerial,
			NumConfigurations: 1,
		},
		text:    [numStrings]string{"", "softudc", "Gadget Zero", "0123456789"},
		outName: "ep2out-bulk",
		inName:  "ep1in-bulk",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Configuration returns the active configuration value, 0 if unconfigured.
func (g *Gadget) Configuration() uint8 { return g.config }

// Echoed returns the number of bytes looped back to the host.
func (g *Gadget) Echoed() int64 { return g.echoed.Load() }

// Packets returns the number of OUT packets looped back.
func (g *Gadget) Packets() int64 { return g.packets.Load() }

// Rejected returns the number of control requests the gadget stalled.
func (g *Gadget) Rejected() int64 { return g.rejected.Load() }

// Bind implements udc.Gadget.
func (g *Gadget) Bind(c *udc.Controller) error {
	var ok bool
	if g.out, ok = c.Endpoint(g.outName); !ok {
		return fmt.Errorf("endpoint %q: %w", g.outName, pkg.ErrInvalidEndpoint)
	}
	if g.in, ok = c.Endpoint(g.inName); !ok {
		return fmt.Errorf("endpoint %q: %w", g.inName, pkg.ErrInvalidEndpoint)
	}
	g.outAddr = c.EndpointAddress(g.out)
	g.inAddr = c.EndpointAddress(g.in)

	var err error
	if g.ep0Req, err = g.allocRequest(c, nil, g.ep0Complete); err != nil {
		return err
	}
	if g.outReq, err = g.allocRequest(c, g.outBuf[:], g.outComplete); err != nil {
		_ = c.FreeRequest(g.ep0Req)
		return err
	}
	if g.inReq, err = g.allocRequest(c, nil, g.inComplete); err != nil {
		_ = c.FreeRequest(g.ep0Req)
		_ = c.FreeRequest(g.outReq)
		return err
	}
	g.c = c
	pkg.LogInfo(pkg.ComponentGadget, "zero bound",
		"out", g.outName, "in", g.inName,
		"vid", fmt.Sprintf("%04x", g.device.VendorID),
		"pid", fmt.Sprintf("%04x", g.device.ProductID))
	return nil
}

func (g *Gadget) allocRequest(c *udc.Controller, buf []byte, fn udc.CompletionFunc) (udc.RequestID, error) {
	id, r, err := c.AllocRequest()
	if err != nil {
		return 0, fmt.Errorf("alloc request: %w", err)
	}
	r.Buf = buf
	r.OnComplete = fn
	return id, nil
}

// Unbind implements udc.Gadget.
func (g *Gadget) Unbind(c *udc.Controller) {
	for _, id := range []udc.RequestID{g.ep0Req, g.outReq, g.inReq} {
		if err := c.FreeRequest(id); err != nil {
			pkg.LogWarn(pkg.ComponentGadget, "free request", "err", err)
		}
	}
	g.config = 0
	g.c = nil
}

// Disconnect implements udc.Gadget.
func (g *Gadget) Disconnect(c *udc.Controller) {
	pkg.LogInfo(pkg.ComponentGadget, "disconnect", "config", g.config)
	g.config = 0
	g.haltOut = false
	g.haltIn = false
}

// Setup implements udc.Gadget. Only standard requests are supported.
func (g *Gadget) Setup(c *udc.Controller, pkt *usb.SetupPacket) error {
	err := g.setup(c, pkt)
	if err != nil {
		g.rejected.Inc()
	}
	return err
}

func (g *Gadget) setup(c *udc.Controller, pkt *usb.SetupPacket) error {
	if !pkt.IsStandard() {
		return pkg.ErrNotSupported
	}

	switch pkt.Recipient() {
	case usb.RequestRecipientDevice:
		return g.deviceRequest(c, pkt)
	case usb.RequestRecipientInterface:
		return g.interfaceRequest(c, pkt)
	case usb.RequestRecipientEndpoint:
		return g.endpointRequest(c, pkt)
	default:
		return pkg.ErrInvalidRequest
	}
}

func (g *Gadget) deviceRequest(c *udc.Controller, pkt *usb.SetupPacket) error {
	switch pkt.Request {
	case usb.RequestGetDescriptor:
		return g.getDescriptor(c, pkt)
	case usb.RequestGetConfiguration:
		return g.reply(c, pkt, []byte{g.config})
	case usb.RequestSetConfiguration:
		if err := g.setConfiguration(c, uint8(pkt.Value)); err != nil {
			return err
		}
		return g.ack(c)
	case usb.RequestGetStatus:
		return g.reply(c, pkt, []byte{0, 0})
	default:
		return pkg.ErrInvalidRequest
	}
}

func (g *Gadget) interfaceRequest(c *udc.Controller, pkt *usb.SetupPacket) error {
	if g.config == 0 || pkt.Index != 0 {
		return pkg.ErrInvalidRequest
	}
	switch pkt.Request {
	case usb.RequestGetStatus:
		return g.reply(c, pkt, []byte{0, 0})
	case usb.RequestGetInterface:
		return g.reply(c, pkt, []byte{0})
	case usb.RequestSetInterface:
		if pkt.Value != 0 {
			return pkg.ErrInvalidRequest
		}
		return g.ack(c)
	default:
		return pkg.ErrInvalidRequest
	}
}

func (g *Gadget) endpointRequest(c *udc.Controller, pkt *usb.SetupPacket) error {
	addr := uint8(pkt.Index)
	var ep udc.EndpointID
	var halted *bool
	switch {
	case addr&usb.EndpointNumberMask == 0:
		if pkt.Request == usb.RequestGetStatus {
			return g.reply(c, pkt, []byte{0, 0})
		}
		return pkg.ErrInvalidRequest
	case g.config != 0 && addr == g.outAddr:
		ep, halted = g.out, &g.haltOut
	case g.config != 0 && addr == g.inAddr:
		ep, halted = g.in, &g.haltIn
	default:
		return pkg.ErrInvalidRequest
	}

	switch pkt.Request {
	case usb.RequestGetStatus:
		var status [2]byte
		if *halted {
			status[0] = 1
		}
		return g.reply(c, pkt, status[:])
	case usb.RequestClearFeature, usb.RequestSetFeature:
		if pkt.Value != usb.FeatureEndpointHalt {
			return pkg.ErrInvalidRequest
		}
		set := pkt.Request == usb.RequestSetFeature
		if err := c.SetHalt(ep, set); err != nil {
			return err
		}
		*halted = set
		if !set && ep == g.out && !c.Request(g.outReq).Queued() {
			g.queueOut(c)
		}
		return g.ack(c)
	default:
		return pkg.ErrInvalidRequest
	}
}

func (g *Gadget) getDescriptor(c *udc.Controller, pkt *usb.SetupPacket) error {
	var buf [configTotalLength]byte
	switch pkt.DescriptorType() {
	case usb.DescriptorTypeDevice:
		n := g.device.MarshalTo(buf[:])
		return g.reply(c, pkt, buf[:n])
	case usb.DescriptorTypeConfiguration:
		if pkt.DescriptorIndex() != 0 {
			return pkg.ErrInvalidRequest
		}
		n := g.configBundle(c, buf[:])
		return g.reply(c, pkt, buf[:n])
	case usb.DescriptorTypeString:
		n := g.stringDescriptor(pkt.DescriptorIndex())
		if n == 0 {
			return pkg.ErrInvalidRequest
		}
		return g.reply(c, pkt, g.strBuf[:n])
	default:
		return pkg.ErrInvalidRequest
	}
}

// configBundle writes the configuration descriptor followed by the
// interface and endpoint descriptors.
func (g *Gadget) configBundle(c *udc.Controller, buf []byte) int {
	cfg := usb.ConfigurationDescriptor{
		TotalLength:        configTotalLength,
		NumInterfaces:      1,
		ConfigurationValue: ConfigValue,
		Attributes:         usb.ConfigAttrBusPowered,
		MaxPower:           50,
	}
	iface := usb.InterfaceDescriptor{
		NumEndpoints:   2,
		InterfaceClass: usb.ClassVendor,
	}
	n := cfg.MarshalTo(buf)
	n += iface.MarshalTo(buf[n:])
	for _, d := range g.endpointDescriptors(c) {
		n += d.MarshalTo(buf[n:])
	}
	return n
}

func (g *Gadget) endpointDescriptors(c *udc.Controller) [2]*usb.EndpointDescriptor {
	return [2]*usb.EndpointDescriptor{
		usb.NewEndpointDescriptor(g.outAddr, usb.EndpointTypeBulk, bulkPacket(c, g.out), 0),
		usb.NewEndpointDescriptor(g.inAddr, usb.EndpointTypeBulk, bulkPacket(c, g.in), 0),
	}
}

// bulkPacket returns the largest bulk packet size the endpoint's FIFO holds.
func bulkPacket(c *udc.Controller, ep udc.EndpointID) uint16 {
	mp := c.MaxPacket(ep)
	for _, n := range []uint16{64, 32, 16} {
		if mp >= n {
			return n
		}
	}
	return 8
}

func (g *Gadget) stringDescriptor(index uint8) int {
	if int(index) >= len(g.text) {
		return 0
	}
	if index == stringLang {
		return usb.LanguageDescriptorTo(g.strBuf[:], usb.LangIDUSEnglish)
	}
	return usb.StringDescriptorTo(g.strBuf[:], g.text[index])
}

func (g *Gadget) setConfiguration(c *udc.Controller, value uint8) error {
	switch value {
	case 0:
		g.unconfigure(c)
		return nil
	case ConfigValue:
		if g.config == ConfigValue {
			return nil
		}
		for _, d := range g.endpointDescriptors(c) {
			ep := g.out
			if d.IsIn() {
				ep = g.in
			}
			if err := c.EnableEndpoint(ep, d); err != nil {
				g.unconfigure(c)
				return err
			}
		}
		g.config = ConfigValue
		g.haltOut = false
		g.haltIn = false
		pkg.LogInfo(pkg.ComponentGadget, "configured", "config", value)
		g.queueOut(c)
		return nil
	default:
		return pkg.ErrInvalidRequest
	}
}

func (g *Gadget) unconfigure(c *udc.Controller) {
	for _, ep := range []udc.EndpointID{g.out, g.in} {
		if c.Bound(ep) {
			if err := c.DisableEndpoint(ep); err != nil {
				pkg.LogWarn(pkg.ComponentGadget, "disable endpoint", "ep", c.EndpointName(ep), "err", err)
			}
		}
	}
	g.config = 0
}

// reply answers a control IN request with data, truncated to the host's
// wLength.
func (g *Gadget) reply(c *udc.Controller, pkt *usb.SetupPacket, data []byte) error {
	r := c.Request(g.ep0Req)
	if r == nil || r.Queued() {
		return pkg.ErrBusy
	}
	n := copy(g.ctrlBuf[:], data)
	if n > int(pkt.Length) {
		n = int(pkt.Length)
	}
	r.Buf = g.ctrlBuf[:n]
	r.Zero = n < int(pkt.Length)
	return c.Enqueue(udc.EP0, g.ep0Req)
}

// ack completes a control request that has no data stage.
func (g *Gadget) ack(c *udc.Controller) error {
	r := c.Request(g.ep0Req)
	if r == nil || r.Queued() {
		return pkg.ErrBusy
	}
	r.Buf = nil
	r.Zero = false
	return c.Enqueue(udc.EP0, g.ep0Req)
}

func (g *Gadget) ep0Complete(ep udc.EndpointID, id udc.RequestID, r *udc.Request) {
	if r.Status != pkg.StatusSuccess {
		pkg.LogDebug(pkg.ComponentGadget, "control request", "status", r.Status.String())
	}
}

func (g *Gadget) queueOut(c *udc.Controller) {
	r := c.Request(g.outReq)
	r.Buf = g.outBuf[:c.MaxPacket(g.out)]
	if err := c.Enqueue(g.out, g.outReq); err != nil {
		pkg.LogWarn(pkg.ComponentGadget, "queue out", "err", err)
	}
}

// outComplete echoes a received packet back on the IN endpoint.
func (g *Gadget) outComplete(ep udc.EndpointID, id udc.RequestID, r *udc.Request) {
	c := g.c
	if r.Status != pkg.StatusSuccess {
		pkg.LogDebug(pkg.ComponentGadget, "out request ended", "status", r.Status.String())
		return
	}
	n := copy(g.inBuf[:], r.Buf[:r.Actual])
	in := c.Request(g.inReq)
	in.Buf = g.inBuf[:n]
	in.Zero = false
	if err := c.Enqueue(g.in, g.inReq); err != nil {
		pkg.LogWarn(pkg.ComponentGadget, "queue in", "err", err)
		g.queueOut(c)
	}
}

// inComplete re-arms the OUT endpoint once the echo went out.
func (g *Gadget) inComplete(ep udc.EndpointID, id udc.RequestID, r *udc.Request) {
	if r.Status != pkg.StatusSuccess {
		pkg.LogDebug(pkg.ComponentGadget, "in request ended", "status", r.Status.String())
		return
	}
	g.echoed.Add(int64(r.Actual))
	g.packets.Inc()
	if g.config == ConfigValue {
		g.queueOut(g.c)
	}
}
