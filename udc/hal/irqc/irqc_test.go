package irqc

import (
	"errors"
	"testing"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/hal/sim"
	"github.com/ardnew/softudc/udc/regs"
)

// recordBus is a plain byte array that logs writes.
type recordBus struct {
	mem    [64]uint8
	writes []uint16
}

func (b *recordBus) Read8(off uint16) uint8 { return b.mem[off] }

func (b *recordBus) Write8(off uint16, v uint8) {
	b.mem[off] = v
	b.writes = append(b.writes, off<<8|uint16(v))
}

func (b *recordBus) Read16(off uint16) uint16 { return uint16(b.Read8(off)) }

func (b *recordBus) Write16(off uint16, v uint16) { b.Write8(off, uint8(v)) }

func TestEnableSequence(t *testing.T) {
	bus := &recordBus{}
	c := New(bus)
	if err := c.Enable(5); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	want := []uint16{
		regs.IRQCGlobal<<8 | regs.IRQCGlobalDisable,
		regs.IRQCLineOf(5)<<8 | regs.IRQCPriority,
		regs.IRQCGlobal<<8 | 0,
	}
	if len(bus.writes) != len(want) {
		t.Fatalf("writes = %04X, want %04X", bus.writes, want)
	}
	for i := range want {
		if bus.writes[i] != want[i] {
			t.Errorf("write[%d] = %04X, want %04X", i, bus.writes[i], want[i])
		}
	}
	if got := c.Priority(5); got != regs.IRQCPriority {
		t.Errorf("Priority() = %d", got)
	}
}

func TestLineRange(t *testing.T) {
	c := New(&recordBus{})
	tests := []struct {
		line    int
		wantErr bool
	}{
		{0, false},
		{MaxLines - 1, false},
		{-1, true},
		{MaxLines, true},
	}
	for _, tt := range tests {
		err := c.Enable(tt.line)
		if tt.wantErr != (err != nil) {
			t.Errorf("Enable(%d) error = %v", tt.line, err)
		}
		if tt.wantErr && !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("Enable(%d) error = %v, want %v", tt.line, err, pkg.ErrInvalidParameter)
		}
	}
}

func TestDisableAndAck(t *testing.T) {
	bus := &recordBus{}
	c := New(bus)
	if err := c.SetPriority(4); err != nil {
		t.Fatalf("SetPriority() error = %v", err)
	}
	_ = c.Enable(2)
	bus.mem[regs.IRQCLineOf(2)] |= regs.IRQCPending
	if !c.Pending(2) {
		t.Fatal("Pending() = false")
	}
	c.Ack(2)
	if c.Pending(2) {
		t.Error("Pending() = true after Ack")
	}
	if got := c.Priority(2); got != 4 {
		t.Errorf("Priority() after Ack = %d, want 4", got)
	}
	c.Disable(2)
	if got := c.Priority(2); got != 0 {
		t.Errorf("Priority() after Disable = %d, want 0", got)
	}
	if err := c.SetPriority(8); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("SetPriority(8) error = %v", err)
	}
}

func TestSimulatedLine(t *testing.T) {
	dev := sim.New()
	c := New(dev.IRQBlock())
	dev.Write8(regs.IRQEnable, regs.SrcEP0)
	dev.HostSetup(make([]byte, 8))

	if c.Pending(regs.DefaultIRQLine) {
		t.Fatal("Pending() on a masked line")
	}
	if err := c.Enable(regs.DefaultIRQLine); err != nil {
		t.Fatal(err)
	}
	if !c.Pending(regs.DefaultIRQLine) {
		t.Error("Pending() = false with the device asserting")
	}
}
