package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/hal"
	"github.com/ardnew/softudc/udc/regs"
)

// ErrStalled is returned by host operations on a halted endpoint.
var ErrStalled = errors.New("endpoint stalled")

// Op distinguishes register reads from writes in the access log.
type Op uint8

// Access kinds.
const (
	OpRead Op = iota
	OpWrite
)

// Access is one logged register access on the USB block.
type Access struct {
	Op    Op
	Wide  bool // 16-bit access
	Off   uint16
	Value uint16
}

// String formats the access for test failure messages.
func (a Access) String() string {
	op := "R"
	if a.Op == OpWrite {
		op = "W"
	}
	if a.Wide {
		return fmt.Sprintf("%s16[0x%02X]=0x%04X", op, a.Off, a.Value)
	}
	return fmt.Sprintf("%s8[0x%02X]=0x%02X", op, a.Off, a.Value)
}

// channel is the state behind one FIFO slot.
type channel struct {
	slot regs.Slot

	cntl   uint8
	flush  uint8
	halted bool

	// OUT
	packets [][]byte
	pos     int
	touched bool

	// IN
	depth     int
	loading   bool
	staged    []byte
	committed [][]byte
	stalled   bool // SlotEP0W only: host stalled the control pipe
}

// Device is a software model of the controller's register block.
//
// The controller side reaches it through the [hal.Bus] methods; tests and
// the simulator drive the bus side through the Host* methods. All methods
// are safe for concurrent use.
type Device struct {
	mu sync.Mutex

	ch      [regs.NumSlots]channel
	enable  uint8
	latched uint8
	armed   bool // jump-start raised since the enable last dropped it

	unknownWakeup uint8
	oldCtl1       uint16
	oldCtl2       uint16
	newCtl1       uint16
	sysRev        uint16

	line      int
	irqGlobal uint8
	irqLines  [32]uint8

	log   []Access
	irq   chan struct{}
	noLog bool
}

// Option configures a Device.
type Option func(*Device)

// WithLine sets the interrupt block line the device raises.
func WithLine(line int) Option {
	return func(d *Device) { d.line = line }
}

// WithSysRev sets the silicon revision reported by regs.SysRev.
func WithSysRev(rev uint16) Option {
	return func(d *Device) { d.sysRev = rev }
}

// WithoutLog disables the access log.
func WithoutLog() Option {
	return func(d *Device) { d.noLog = true }
}

// New returns a powered-up Device with empty FIFOs.
func New(opts ...Option) *Device {
	d := &Device{
		line: regs.DefaultIRQLine,
		irq:  make(chan struct{}, 1),
	}
	for i := range d.ch {
		d.ch[i].slot = regs.Slot(i)
		d.ch[i].depth = regs.MaxPacket
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Read8 implements hal.Bus.
func (d *Device) Read8(off uint16) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.read8(off)
	d.record(OpRead, false, off, uint16(v))
	return v
}

// Write8 implements hal.Bus.
func (d *Device) Write8(off uint16, v uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(OpWrite, false, off, uint16(v))
	d.write8(off, v)
	d.signal()
}

// Read16 implements hal.Bus.
func (d *Device) Read16(off uint16) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.read16(off)
	d.record(OpRead, true, off, v)
	return v
}

// Write16 implements hal.Bus.
func (d *Device) Write16(off uint16, v uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(OpWrite, true, off, v)
	d.write16(off, v)
	d.signal()
}

func (d *Device) slotAt(off, base uint16, stride uint16) (*channel, bool) {
	if off < base {
		return nil, false
	}
	i := (off - base) / stride
	if (off-base)%stride != 0 || i >= uint16(regs.NumSlots) {
		return nil, false
	}
	return &d.ch[i], true
}

func (d *Device) read8(off uint16) uint8 {
	switch {
	case off >= regs.Stat && off < regs.Stat+uint16(regs.NumSlots):
		return d.status(&d.ch[off-regs.Stat])
	case off >= regs.Cntl && off < regs.Cntl+uint16(regs.NumSlots):
		return d.ch[off-regs.Cntl].cntl
	case off >= regs.Flush && off < regs.Flush+uint16(regs.NumSlots):
		return d.ch[off-regs.Flush].flush
	case off == regs.UnknownWakeup:
		return d.unknownWakeup
	case off == regs.IRQEnable:
		return d.enable
	case off == regs.IRQAck:
		return d.latched
	}
	if c, ok := d.slotAt(off, regs.Data, 2); ok {
		return uint8(d.readData(c))
	}
	return 0
}

func (d *Device) read16(off uint16) uint16 {
	if c, ok := d.slotAt(off, regs.Data, 2); ok {
		return d.readData(c)
	}
	switch off {
	case regs.USBOldCtl1:
		return d.oldCtl1
	case regs.USBOldCtl2:
		return d.oldCtl2
	case regs.USBNewCtl1:
		return d.newCtl1
	case regs.SysRev:
		return d.sysRev
	}
	return uint16(d.read8(off))
}

func (d *Device) write8(off uint16, v uint8) {
	switch {
	case off >= regs.Cntl && off < regs.Cntl+uint16(regs.NumSlots):
		d.control(&d.ch[off-regs.Cntl], v)
		return
	case off >= regs.Flush && off < regs.Flush+uint16(regs.NumSlots):
		d.commit(&d.ch[off-regs.Flush], v)
		return
	case off == regs.UnknownWakeup:
		d.unknownWakeup = v
		return
	case off == regs.IRQEnable:
		d.enable = v
		if v&regs.SrcJumpStart == 0 {
			d.armed = false
		}
		return
	case off == regs.IRQAck:
		d.latched &^= v
		if !d.armed && d.enable&regs.SrcJumpStart != 0 {
			d.armed = true
			d.latched |= regs.SrcJumpStart
		}
		return
	}
	if c, ok := d.slotAt(off, regs.Data, 2); ok {
		d.writeData(c, v)
	}
}

func (d *Device) write16(off uint16, v uint16) {
	if c, ok := d.slotAt(off, regs.Data, 2); ok {
		d.writeData(c, uint8(v))
		return
	}
	switch off {
	case regs.USBOldCtl1:
		d.oldCtl1 = v
	case regs.USBOldCtl2:
		d.oldCtl2 = v
	case regs.USBNewCtl1:
		d.newCtl1 = v
	default:
		d.write8(off, uint8(v))
	}
}

func (d *Device) status(c *channel) uint8 {
	var s uint8
	if !c.slot.IsIn() {
		if len(c.packets) == 0 {
			s |= regs.StatEmpty
		}
		return s
	}
	if len(c.committed) > 0 {
		s |= regs.StatBusy
	}
	if c.loading && len(c.staged) >= c.depth {
		s |= regs.StatFull
	}
	if c.slot == regs.SlotEP0W {
		s ^= regs.StatEP0Inverted
		if c.stalled {
			s |= regs.StatFull
		}
	}
	return s
}

func (d *Device) readData(c *channel) uint16 {
	if c.slot.IsIn() || len(c.packets) == 0 {
		return 0xFFFF
	}
	c.touched = true
	head := c.packets[0]
	if c.pos >= len(head) {
		return 0xFFFF
	}
	b := head[c.pos]
	c.pos++
	return uint16(b)
}

func (d *Device) writeData(c *channel, v uint8) {
	if !c.slot.IsIn() || !c.loading || len(c.staged) >= c.depth {
		return
	}
	c.staged = append(c.staged, v)
}

func (d *Device) control(c *channel, v uint8) {
	c.cntl = v
	if !c.slot.IsIn() {
		switch v {
		case regs.CtlReset:
			if c.touched && len(c.packets) > 0 {
				c.packets = c.packets[1:]
			}
			c.touched = false
			c.pos = 0
			c.halted = true
		case regs.CtlArm:
			c.halted = false
		}
		return
	}
	switch v {
	case regs.CtlLoad:
		c.loading = true
		c.staged = c.staged[:0]
	case regs.CtlArm:
		c.halted = false
	case regs.CtlReset:
		c.loading = false
		c.staged = c.staged[:0]
		c.committed = nil
		c.stalled = false
		c.halted = true
	case regs.CtlUnknownEP0:
		c.loading = false
		c.staged = c.staged[:0]
		c.committed = nil
		c.stalled = false
		c.halted = false
	}
}

func (d *Device) commit(c *channel, v uint8) {
	c.flush = v
	if !c.slot.IsIn() || !c.loading || v != regs.FlushCommit {
		return
	}
	pkt := make([]byte, len(c.staged))
	copy(pkt, c.staged)
	c.committed = append(c.committed, pkt)
	c.loading = false
	c.staged = c.staged[:0]
	pkg.LogDebug(pkg.ComponentSim, "packet committed", "slot", c.slot.String(), "bytes", len(pkt))
}

func sourceOf(slot regs.Slot) uint8 {
	if slot == regs.SlotEP0W || slot == regs.SlotEP0R {
		return regs.SrcEP0
	}
	return regs.SrcData
}

func (d *Device) record(op Op, wide bool, off, v uint16) {
	if d.noLog {
		return
	}
	d.log = append(d.log, Access{Op: op, Wide: wide, Off: off, Value: v})
}

// pending reports whether the device is asserting its line.
func (d *Device) pending() bool {
	return d.latched&d.enable != 0
}

// signal notifies Interrupts listeners if the line is asserted and routed.
func (d *Device) signal() {
	if !d.pending() || d.irqGlobal&regs.IRQCGlobalDisable != 0 ||
		d.irqLines[d.line]&regs.IRQCPriorityMask == 0 {
		return
	}
	select {
	case d.irq <- struct{}{}:
	default:
	}
}

// Interrupts returns a channel that receives a value whenever the device
// asserts its line while the line is enabled on the interrupt block.
func (d *Device) Interrupts() <-chan struct{} {
	return d.irq
}

// Pending reports whether the device is asserting its line.
func (d *Device) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending()
}

// Latched returns the latched interrupt sources.
func (d *Device) Latched() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latched
}

// Enabled returns the interrupt source enable mask.
func (d *Device) Enabled() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enable
}

// RaiseSource latches interrupt source bits.
func (d *Device) RaiseSource(bits uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latched |= bits
	d.signal()
}

// HostSetup delivers a setup packet to the control OUT FIFO. Raw packets
// shorter than 8 bytes model a corrupted transaction.
func (d *Device) HostSetup(raw []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &d.ch[regs.SlotEP0R]
	pkt := make([]byte, len(raw))
	copy(pkt, raw)
	c.packets = append(c.packets, pkt)
	c.halted = false
	d.ch[regs.SlotEP0W].stalled = false
	d.latched |= regs.SrcEP0
	d.signal()
}

// HostOut delivers one OUT packet to an OUT slot.
func (d *Device) HostOut(slot regs.Slot, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slot >= regs.NumSlots || slot.IsIn() {
		return fmt.Errorf("out to %s: %w", slot, pkg.ErrInvalidEndpoint)
	}
	if len(data) > regs.MaxPacket {
		return fmt.Errorf("packet of %d bytes: %w", len(data), pkg.ErrInvalidParameter)
	}
	c := &d.ch[slot]
	if c.halted && slot != regs.SlotEP0R {
		return ErrStalled
	}
	pkt := make([]byte, len(data))
	copy(pkt, data)
	c.packets = append(c.packets, pkt)
	d.latched |= sourceOf(slot)
	d.signal()
	return nil
}

// HostIn takes the oldest committed packet from an IN slot. It returns
// false if the device has nothing to send.
func (d *Device) HostIn(slot regs.Slot) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slot >= regs.NumSlots || !slot.IsIn() {
		return nil, false, fmt.Errorf("in from %s: %w", slot, pkg.ErrInvalidEndpoint)
	}
	c := &d.ch[slot]
	if c.halted && len(c.committed) == 0 {
		return nil, false, ErrStalled
	}
	if len(c.committed) == 0 {
		return nil, false, nil
	}
	pkt := c.committed[0]
	c.committed = c.committed[1:]
	d.latched |= sourceOf(slot)
	d.signal()
	return pkt, true, nil
}

// HostStallControl makes the control IN FIFO report a host-side stall until
// the next setup.
func (d *Device) HostStallControl() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch[regs.SlotEP0W].stalled = true
	d.latched |= regs.SrcEP0
	d.signal()
}

// SetDepth limits how many bytes an IN slot accepts per packet before it
// reports full.
func (d *Device) SetDepth(slot regs.Slot, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch[slot].depth = n
}

// Halted reports whether slot was last reset without being re-armed.
func (d *Device) Halted(slot regs.Slot) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch[slot].halted
}

// Queued returns the number of packets waiting in slot: OUT packets not yet
// released by the controller, or IN packets not yet taken by the host.
func (d *Device) Queued(slot regs.Slot) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &d.ch[slot]
	if slot.IsIn() {
		return len(c.committed)
	}
	return len(c.packets)
}

// PHY returns the PHY interface control words.
func (d *Device) PHY() (oldCtl1, oldCtl2, newCtl1 uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.oldCtl1, d.oldCtl2, d.newCtl1
}

// Accesses returns a copy of the access log.
func (d *Device) Accesses() []Access {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Access, len(d.log))
	copy(out, d.log)
	return out
}

// Writes returns the logged writes, in order.
func (d *Device) Writes() []Access {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Access
	for _, a := range d.log {
		if a.Op == OpWrite {
			out = append(out, a)
		}
	}
	return out
}

// WritesTo returns the values written to off, in order.
func (d *Device) WritesTo(off uint16) []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uint16
	for _, a := range d.log {
		if a.Op == OpWrite && a.Off == off {
			out = append(out, a.Value)
		}
	}
	return out
}

// ReadsOf returns the number of logged reads of off.
func (d *Device) ReadsOf(off uint16) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, a := range d.log {
		if a.Op == OpRead && a.Off == off {
			n++
		}
	}
	return n
}

// ResetLog clears the access log.
func (d *Device) ResetLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = d.log[:0]
}

// IRQBlock returns the interrupt block the device's line is wired to.
func (d *Device) IRQBlock() hal.Bus {
	return irqBlock{d}
}

// irqBlock is the interrupt block view of a Device.
type irqBlock struct{ d *Device }

func (b irqBlock) Read8(off uint16) uint8 {
	d := b.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if off == regs.IRQCGlobal {
		return d.irqGlobal
	}
	line := int(off) - regs.IRQCLine0
	if line < 0 || line >= len(d.irqLines) {
		return 0
	}
	v := d.irqLines[line]
	if line == d.line && d.pending() && v&regs.IRQCPriorityMask != 0 {
		v |= regs.IRQCPending
	}
	return v
}

func (b irqBlock) Write8(off uint16, v uint8) {
	d := b.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if off == regs.IRQCGlobal {
		d.irqGlobal = v
		d.signal()
		return
	}
	line := int(off) - regs.IRQCLine0
	if line < 0 || line >= len(d.irqLines) {
		return
	}
	d.irqLines[line] = v & regs.IRQCPriorityMask
	d.signal()
}

func (b irqBlock) Read16(off uint16) uint16 { return uint16(b.Read8(off)) }

func (b irqBlock) Write16(off uint16, v uint16) { b.Write8(off, uint8(v)) }

var (
	_ hal.Bus = (*Device)(nil)
	_ hal.Bus = irqBlock{}
)
