package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc"
	"github.com/ardnew/softudc/udc/hal/sim"
	"github.com/ardnew/softudc/udc/regs"
	"github.com/ardnew/softudc/usb"
)

const component = pkg.ComponentSim

// maxService bounds the dispatches of one sync.
const maxService = 16

var (
	errStalled  = errors.New("request stalled")
	errNoData   = errors.New("no data from device")
	errMismatch = errors.New("data mismatch")
)

// call is controller work run in the interrupt goroutine.
type call struct {
	fn   func(*udc.Controller) error
	done chan error
}

// runner plays a host script against the simulated controller. The
// interrupt goroutine (serve) is the only one that touches the controller
// once started; the host goroutine (play) drives the sim and hands
// controller operations over through calls.
type runner struct {
	dev     *sim.Device
	c       *udc.Controller
	w       io.Writer
	outSlot regs.Slot
	inSlot  regs.Slot
	calls   chan call
}

func newRunner(dev *sim.Device, c *udc.Controller, w io.Writer, outSlot, inSlot regs.Slot) *runner {
	return &runner{
		dev:     dev,
		c:       c,
		w:       w,
		outSlot: outSlot,
		inSlot:  inSlot,
		calls:   make(chan call),
	}
}

// serve dispatches device interrupts and queued calls until ctx is done.
func (r *runner) serve(ctx context.Context) (err error) {
	defer func() {
		if v := recover(); v != nil {
			if e, ok := v.(error); ok {
				err = fmt.Errorf("interrupt handler: %w", e)
				return
			}
			panic(v)
		}
	}()

	irq := r.dev.Interrupts()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-irq:
			r.c.HandleInterrupt()
		case cl := <-r.calls:
			cl.done <- cl.fn(r.c)
		}
	}
}

// do runs fn in the interrupt goroutine and waits for it.
func (r *runner) do(ctx context.Context, fn func(*udc.Controller) error) error {
	cl := call{fn: fn, done: make(chan error, 1)}
	select {
	case r.calls <- cl:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cl.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sync services every interrupt source the device has latched.
func (r *runner) sync(ctx context.Context) error {
	return r.do(ctx, func(c *udc.Controller) error {
		for range maxService {
			if !r.dev.Pending() {
				return nil
			}
			c.HandleInterrupt()
		}
		return nil
	})
}

// play runs steps in order. It stops at the first failing step.
func (r *runner) play(ctx context.Context, steps []step) error {
	if err := r.sync(ctx); err != nil {
		return err
	}
	for _, s := range steps {
		pkg.LogDebug(component, "step", "line", s.line, "cmd", s.name)
		if err := r.exec(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	return nil
}

func (r *runner) exec(ctx context.Context, s step) error {
	switch s.op {
	case opEnumerate:
		return r.enumerate(ctx, s.addr)
	case opGetDescriptor, opSetAddress, opSetConfig:
		return r.report(ctx, s.name, s.setup, nil)
	case opControl:
		return r.report(ctx, s.name, s.setup, s.data)
	case opSend:
		return r.send(ctx, s.data)
	case opExpect:
		return r.expect(ctx, s.data)
	case opHalt, opClear:
		pkt := usb.SetupPacket{
			RequestType: usb.RequestDirectionHostToDevice | usb.RequestTypeStandard | usb.RequestRecipientEndpoint,
			Request:     usb.RequestSetFeature,
			Value:       usb.FeatureEndpointHalt,
			Index:       uint16(s.addr),
		}
		if s.op == opClear {
			pkt.Request = usb.RequestClearFeature
		}
		return r.report(ctx, s.name, pkt, nil)
	case opReset:
		return r.do(ctx, (*udc.Controller).Reset)
	case opSuspend:
		return r.do(ctx, (*udc.Controller).Suspend)
	case opWakeup:
		return r.do(ctx, (*udc.Controller).Wakeup)
	case opSleep:
		select {
		case <-time.After(s.delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case opStats:
		fmt.Fprintf(r.w, "stats: %s\n", r.c.Stats())
		return nil
	default:
		return fmt.Errorf("opcode %d: %w", s.op, pkg.ErrNotSupported)
	}
}

// report runs a control transfer and prints its outcome. A stall is printed
// rather than returned.
func (r *runner) report(ctx context.Context, name string, pkt usb.SetupPacket, data []byte) error {
	got, err := r.control(ctx, pkt, data)
	switch {
	case errors.Is(err, errStalled):
		fmt.Fprintf(r.w, "%s: STALL\n", name)
		return nil
	case err != nil:
		return err
	case pkt.IsDeviceToHost():
		fmt.Fprintf(r.w, "%s: % x\n", name, got)
	default:
		fmt.Fprintf(r.w, "%s: ok\n", name)
	}
	return nil
}

func (r *runner) enumerate(ctx context.Context, addr uint8) error {
	var pkt usb.SetupPacket
	usb.GetDescriptorSetup(&pkt, usb.DescriptorTypeDevice, 0, 64)
	dev, err := r.control(ctx, pkt, nil)
	if err != nil {
		return fmt.Errorf("device descriptor: %w", err)
	}
	if len(dev) < usb.DeviceDescriptorSize {
		return fmt.Errorf("device descriptor of %d bytes: %w", len(dev), pkg.ErrDescriptorTooShort)
	}

	usb.SetAddressSetup(&pkt, addr)
	if _, err := r.control(ctx, pkt, nil); err != nil {
		return fmt.Errorf("set address: %w", err)
	}

	usb.GetDescriptorSetup(&pkt, usb.DescriptorTypeConfiguration, 0, usb.ConfigurationDescriptorSize)
	head, err := r.control(ctx, pkt, nil)
	if err != nil {
		return fmt.Errorf("configuration header: %w", err)
	}
	if len(head) < usb.ConfigurationDescriptorSize {
		return fmt.Errorf("configuration header of %d bytes: %w", len(head), pkg.ErrDescriptorTooShort)
	}
	total := uint16(head[2]) | uint16(head[3])<<8
	usb.GetDescriptorSetup(&pkt, usb.DescriptorTypeConfiguration, 0, total)
	bundle, err := r.control(ctx, pkt, nil)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	value := head[5]
	usb.SetConfigurationSetup(&pkt, value)
	if _, err := r.control(ctx, pkt, nil); err != nil {
		return fmt.Errorf("set configuration: %w", err)
	}

	fmt.Fprintf(r.w, "enumerate: address %d vid %02x%02x pid %02x%02x config %d (%d bytes)\n",
		addr, dev[9], dev[8], dev[11], dev[10], value, len(bundle))
	return nil
}

// control runs one control transfer and returns the IN data stage.
func (r *runner) control(ctx context.Context, pkt usb.SetupPacket, data []byte) ([]byte, error) {
	stalls := r.c.Stats().Stalls
	stalled := func() bool { return r.c.Stats().Stalls > stalls }

	raw := make([]byte, usb.SetupPacketSize)
	pkt.MarshalTo(raw)
	r.dev.HostSetup(raw)
	if err := r.sync(ctx); err != nil {
		return nil, err
	}

	if !pkt.IsDeviceToHost() {
		for len(data) > 0 {
			n := min(len(data), regs.MaxPacket)
			if err := r.dev.HostOut(regs.SlotEP0R, data[:n]); err != nil {
				return nil, err
			}
			data = data[n:]
			if err := r.sync(ctx); err != nil {
				return nil, err
			}
		}
		if stalled() {
			return nil, errStalled
		}
		return nil, nil
	}

	var in []byte
	for {
		p, ok, err := r.dev.HostIn(regs.SlotEP0W)
		if err != nil {
			return in, err
		}
		if !ok {
			break
		}
		in = append(in, p...)
		if err := r.sync(ctx); err != nil {
			return in, err
		}
		if len(p) < regs.MaxPacket {
			break
		}
	}
	if stalled() {
		return in, errStalled
	}
	if len(in) == 0 && pkt.Length > 0 {
		return nil, errNoData
	}
	return in, nil
}

// send writes data to the bulk OUT endpoint in max-packet chunks.
func (r *runner) send(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), regs.MaxPacket)
		if err := r.dev.HostOut(r.outSlot, data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if err := r.sync(ctx); err != nil {
			return err
		}
	}
	return nil
}

// expect reads the bulk IN endpoint until len(want) bytes arrived and
// compares them.
func (r *runner) expect(ctx context.Context, want []byte) error {
	var got []byte
	for len(got) < len(want) {
		p, ok, err := r.dev.HostIn(r.inSlot)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("after %d of %d bytes: %w", len(got), len(want), errNoData)
		}
		got = append(got, p...)
		if err := r.sync(ctx); err != nil {
			return err
		}
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("got %q, want %q: %w", got, want, errMismatch)
	}
	fmt.Fprintf(r.w, "expect: %d bytes ok\n", len(want))
	return nil
}
