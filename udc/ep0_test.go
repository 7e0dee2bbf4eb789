package udc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/regs"
	"github.com/ardnew/softudc/usb"
)

func TestSetAddressBypassesGadget(t *testing.T) {
	f := boundFixture(t)
	f.dev.HostSetup([]byte{0x00, 0x05, 0x07, 0x00, 0x00, 0x00, 0x00, 0x00})
	f.c.HandleInterrupt()

	if got := f.c.Address(); got != 7 {
		t.Errorf("Address() = %d, want 7", got)
	}
	if f.c.SetupPending() {
		t.Error("SetupPending() = true after SET_ADDRESS")
	}
	if len(f.g.setups) != 0 {
		t.Errorf("gadget saw %d setups, want 0", len(f.g.setups))
	}
	if got := f.dev.Queued(regs.SlotEP0R); got != 0 {
		t.Errorf("EP0R queued = %d, want 0", got)
	}
	if got := f.c.Stats().Setups; got != 1 {
		t.Errorf("Stats().Setups = %d, want 1", got)
	}
}

func TestSetupFailureStallsAndNukes(t *testing.T) {
	f := boundFixture(t)
	errUnsupported := errors.New("unsupported")

	var cp completion
	f.g.onSetup = func(c *Controller, pkt *usb.SetupPacket) error {
		id, _ := f.alloc(t, bytes.Repeat([]byte{0x5A}, 200), &cp)
		if err := c.Enqueue(EP0, id); err != nil {
			t.Errorf("Enqueue(EP0) error = %v", err)
		}
		if got := c.QueueLen(EP0); got != 1 {
			t.Errorf("QueueLen(EP0) = %d, want 1", got)
		}
		return errUnsupported
	}

	var pkt usb.SetupPacket
	usb.GetDescriptorSetup(&pkt, usb.DescriptorTypeDevice, 0, 255)
	f.dev.HostSetup(setupBytes(pkt))
	f.c.HandleInterrupt()

	if cp.calls != 1 || cp.status != pkg.StatusProtocol {
		t.Errorf("completion = %d calls, status %v, want 1 call with protocol", cp.calls, cp.status)
	}
	if f.c.SetupPending() {
		t.Error("SetupPending() = true after stall")
	}
	if got := f.c.QueueLen(EP0); got != 0 {
		t.Errorf("QueueLen(EP0) = %d, want 0", got)
	}
	if got := f.c.Stats().Stalls; got != 1 {
		t.Errorf("Stats().Stalls = %d, want 1", got)
	}
}

func TestSetupWithoutGadgetStalls(t *testing.T) {
	f := boundFixture(t)
	f.c.driver = nil

	var pkt usb.SetupPacket
	usb.SetConfigurationSetup(&pkt, 1)
	f.dev.HostSetup(setupBytes(pkt))
	f.c.HandleInterrupt()

	if got := f.c.Stats().Stalls; got != 1 {
		t.Errorf("Stats().Stalls = %d, want 1", got)
	}
	if f.c.SetupPending() {
		t.Error("SetupPending() = true after stall")
	}
}

func TestMalformedSetup(t *testing.T) {
	f := boundFixture(t)
	f.dev.HostSetup([]byte{0x80, 0x06, 0x00})
	f.c.HandleInterrupt()

	if len(f.g.setups) != 0 {
		t.Errorf("gadget saw %d setups, want 0", len(f.g.setups))
	}
	st := f.c.Stats()
	if st.Stalls != 1 || st.Setups != 0 {
		t.Errorf("Stats() stalls = %d, setups = %d, want 1 and 0", st.Stalls, st.Setups)
	}
	if got := f.dev.Queued(regs.SlotEP0R); got != 0 {
		t.Errorf("EP0R queued = %d, want 0", got)
	}
	if got := f.dev.WritesTo(regs.SlotEP0W.CntlOf()); len(got) == 0 || got[0] != regs.CtlUnknownEP0 {
		t.Errorf("EP0W control writes = %v, want leading 0x%02X", got, regs.CtlUnknownEP0)
	}
}

func TestControlInDataStage(t *testing.T) {
	f := boundFixture(t)
	desc := []byte{18, usb.DescriptorTypeDevice, 0x00, 0x02, 0, 0, 0, 64, 0x34, 0x12, 0x78, 0x56, 0, 1, 0, 0, 0, 1}

	var cp completion
	f.g.onSetup = func(c *Controller, pkt *usb.SetupPacket) error {
		if !c.SetupPending() {
			t.Error("SetupPending() = false inside Setup")
		}
		id, _ := f.alloc(t, desc, &cp)
		return c.Enqueue(EP0, id)
	}

	var pkt usb.SetupPacket
	usb.GetDescriptorSetup(&pkt, usb.DescriptorTypeDevice, 0, 18)
	f.dev.HostSetup(setupBytes(pkt))
	f.c.HandleInterrupt()

	if cp.calls != 1 || cp.status != pkg.StatusSuccess || cp.actual != len(desc) {
		t.Fatalf("completion = %+v, want success with %d bytes", cp, len(desc))
	}
	if f.c.SetupPending() {
		t.Error("SetupPending() = true after IN data stage")
	}
	got, ok, err := f.dev.HostIn(regs.SlotEP0W)
	if err != nil || !ok {
		t.Fatalf("HostIn(EP0W) = %v, %v", ok, err)
	}
	if !bytes.Equal(got, desc) {
		t.Errorf("HostIn(EP0W) = % X, want % X", got, desc)
	}
}

func TestControlInMultiPacket(t *testing.T) {
	f := boundFixture(t)
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	var cp completion
	f.g.onSetup = func(c *Controller, pkt *usb.SetupPacket) error {
		id, _ := f.alloc(t, data, &cp)
		return c.Enqueue(EP0, id)
	}

	var pkt usb.SetupPacket
	usb.GetDescriptorSetup(&pkt, usb.DescriptorTypeConfiguration, 0, 100)
	f.dev.HostSetup(setupBytes(pkt))
	f.c.HandleInterrupt()
	if cp.calls != 0 {
		t.Fatalf("completion after first packet, want pending")
	}
	if !f.c.SetupPending() {
		t.Error("SetupPending() = false during IN data stage")
	}

	var got []byte
	for i := 0; i < 2; i++ {
		in, ok, err := f.dev.HostIn(regs.SlotEP0W)
		if err != nil || !ok {
			t.Fatalf("HostIn(EP0W) #%d = %v, %v", i, ok, err)
		}
		got = append(got, in...)
		f.c.HandleInterrupt()
	}

	if !bytes.Equal(got, data) {
		t.Errorf("host received % X, want % X", got, data)
	}
	if cp.calls != 1 || cp.status != pkg.StatusSuccess || cp.actual != len(data) {
		t.Errorf("completion = %d calls, status %v, actual %d", cp.calls, cp.status, cp.actual)
	}
}

func TestControlOutDataStage(t *testing.T) {
	f := boundFixture(t)

	var cp completion
	f.g.onSetup = func(c *Controller, pkt *usb.SetupPacket) error {
		id, _ := f.alloc(t, make([]byte, pkt.Length), &cp)
		return c.Enqueue(EP0, id)
	}

	pkt := usb.SetupPacket{
		RequestType: usb.RequestDirectionHostToDevice | usb.RequestTypeVendor | usb.RequestRecipientDevice,
		Request:     0x42,
		Length:      4,
	}
	f.dev.HostSetup(setupBytes(pkt))
	f.c.HandleInterrupt()
	if !f.c.SetupPending() {
		t.Fatal("SetupPending() = false before OUT data arrived")
	}
	if got := f.c.QueueLen(EP0); got != 1 {
		t.Fatalf("QueueLen(EP0) = %d, want 1", got)
	}

	payload := []byte{1, 2, 3, 4}
	if err := f.dev.HostOut(regs.SlotEP0R, payload); err != nil {
		t.Fatalf("HostOut(EP0R) error = %v", err)
	}
	f.c.HandleInterrupt()

	if cp.calls != 1 || cp.status != pkg.StatusSuccess || !bytes.Equal(cp.data, payload) {
		t.Errorf("completion = %+v, want success with % X", cp, payload)
	}
	if f.c.SetupPending() {
		t.Error("SetupPending() = true after OUT data stage")
	}
	if len(f.g.setups) != 1 {
		t.Errorf("gadget saw %d setups, want 1", len(f.g.setups))
	}
}

func TestStatusStageCompletesImmediately(t *testing.T) {
	f := boundFixture(t)
	f.dev.ResetLog()

	var cp completion
	f.g.onSetup = func(c *Controller, pkt *usb.SetupPacket) error {
		id, _ := f.alloc(t, nil, &cp)
		return c.Enqueue(EP0, id)
	}

	var pkt usb.SetupPacket
	usb.SetConfigurationSetup(&pkt, 1)
	f.dev.HostSetup(setupBytes(pkt))
	f.c.HandleInterrupt()

	if cp.calls != 1 || cp.status != pkg.StatusSuccess || cp.actual != 0 {
		t.Errorf("completion = %+v, want one zero-length success", cp)
	}
	if f.c.SetupPending() {
		t.Error("SetupPending() = true after status stage")
	}
	if got := f.dev.WritesTo(regs.SlotEP0W.FlushOf()); len(got) != 0 {
		t.Errorf("EP0W flush writes = %v, want none", got)
	}
}

func TestBackToBackSetups(t *testing.T) {
	f := boundFixture(t)

	var cfg, status usb.SetupPacket
	usb.SetConfigurationSetup(&cfg, 1)
	usb.ClearFeatureSetup(&status, usb.RequestRecipientEndpoint, usb.FeatureEndpointHalt, 0x81)
	f.dev.HostSetup(setupBytes(cfg))
	f.dev.HostSetup(setupBytes(status))
	f.c.HandleInterrupt()

	if len(f.g.setups) != 2 {
		t.Fatalf("gadget saw %d setups, want 2", len(f.g.setups))
	}
	if f.g.setups[0].Request != usb.RequestSetConfiguration || f.g.setups[1].Request != usb.RequestClearFeature {
		t.Errorf("setups = %v, %v", f.g.setups[0].String(), f.g.setups[1].String())
	}
}

func TestNewSetupPreemptsInData(t *testing.T) {
	f := boundFixture(t)

	var first completion
	f.g.onSetup = func(c *Controller, pkt *usb.SetupPacket) error {
		if !pkt.IsDeviceToHost() {
			return nil
		}
		id, _ := f.alloc(t, make([]byte, 200), &first)
		return c.Enqueue(EP0, id)
	}

	var get, set usb.SetupPacket
	usb.GetDescriptorSetup(&get, usb.DescriptorTypeConfiguration, 0, 255)
	f.dev.HostSetup(setupBytes(get))
	f.c.HandleInterrupt()
	if first.calls != 0 {
		t.Fatal("first request completed before host read")
	}

	usb.SetConfigurationSetup(&set, 1)
	f.dev.HostSetup(setupBytes(set))
	f.c.HandleInterrupt()

	if first.calls != 1 || first.status != pkg.StatusSuccess || first.actual != 64 {
		t.Errorf("preempted completion = %d calls, status %v, actual %d; want 1, success, 64",
			first.calls, first.status, first.actual)
	}
	if len(f.g.setups) != 2 {
		t.Errorf("gadget saw %d setups, want 2", len(f.g.setups))
	}
}

func TestHostStallNukesEP0(t *testing.T) {
	f := boundFixture(t)

	var cp completion
	f.g.onSetup = func(c *Controller, pkt *usb.SetupPacket) error {
		id, _ := f.alloc(t, make([]byte, 200), &cp)
		return c.Enqueue(EP0, id)
	}

	var pkt usb.SetupPacket
	usb.GetDescriptorSetup(&pkt, usb.DescriptorTypeConfiguration, 0, 255)
	f.dev.HostSetup(setupBytes(pkt))
	f.c.HandleInterrupt()

	f.dev.HostStallControl()
	f.c.HandleInterrupt()

	if cp.calls != 1 || cp.status != pkg.StatusProtocol {
		t.Errorf("completion = %d calls, status %v, want 1 call with protocol", cp.calls, cp.status)
	}
	if f.c.SetupPending() {
		t.Error("SetupPending() = true after host stall")
	}
}

func TestEnqueueEP0WithoutSetup(t *testing.T) {
	f := boundFixture(t)
	var cp completion
	id, _ := f.alloc(t, make([]byte, 8), &cp)

	if err := f.c.Enqueue(EP0, id); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Enqueue(EP0) error = %v, want ErrInvalidParameter", err)
	}
	if cp.calls != 0 {
		t.Errorf("completion calls = %d, want 0", cp.calls)
	}
	if r := f.c.Request(id); r.Queued() {
		t.Error("request queued after rejected enqueue")
	}
}

func TestEnqueueEP0AfterStall(t *testing.T) {
	f := boundFixture(t)
	f.g.onSetup = func(c *Controller, pkt *usb.SetupPacket) error {
		return pkg.ErrNotSupported
	}
	pkt := usb.SetupPacket{
		RequestType: usb.RequestDirectionDeviceToHost | usb.RequestTypeVendor | usb.RequestRecipientDevice,
		Request:     0x42,
		Length:      4,
	}
	f.dev.HostSetup(setupBytes(pkt))
	f.c.HandleInterrupt()
	if got := f.c.Stats().Stalls; got != 1 {
		t.Fatalf("Stats().Stalls = %d, want 1", got)
	}

	var cp completion
	id, _ := f.alloc(t, make([]byte, 4), &cp)
	if err := f.c.Enqueue(EP0, id); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("Enqueue(EP0) after stall error = %v, want ErrInvalidRequest", err)
	}
	if got := f.c.QueueLen(EP0); got != 0 {
		t.Errorf("QueueLen(EP0) = %d, want 0", got)
	}
	if f.c.Request(id).Queued() {
		t.Error("request queued after rejected enqueue")
	}
}
