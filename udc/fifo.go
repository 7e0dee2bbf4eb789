package udc

import (
	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/regs"
)

func (c *Controller) stat(s regs.Slot) uint8 {
	return c.bus.Read8(s.StatOf())
}

func (c *Controller) control(s regs.Slot, code uint8) {
	c.bus.Write8(s.CntlOf(), code)
}

func (c *Controller) flush(s regs.Slot) {
	c.bus.Write8(s.FlushOf(), regs.FlushCommit)
}

// release hands an OUT FIFO back to the hardware for the next packet.
func (c *Controller) release(s regs.Slot) {
	c.control(s, regs.CtlReset)
	c.control(s, regs.CtlArm)
}

// inBusy reports whether an IN slot still holds a packet the host has not
// taken. The control IN slot reports this bit inverted.
func (c *Controller) inBusy(s regs.Slot) bool {
	st := c.stat(s)
	if s == regs.SlotEP0W {
		st ^= regs.StatEP0Inverted
	}
	return st&regs.StatBusy != 0
}

// rxReady reports whether an OUT slot holds a packet.
func (c *Controller) rxReady(s regs.Slot) bool {
	return c.stat(s)&regs.StatEmpty == 0
}

// drain reads up to len(buf) bytes of the current packet from s. It stops
// early at the first word flagged as no data.
func (c *Controller) drain(s regs.Slot, buf []byte) int {
	off := s.DataOf()
	for got := range buf {
		w := c.bus.Read16(off)
		if w&regs.DataNone != 0 {
			return got
		}
		buf[got] = byte(w)
	}
	return len(buf)
}

// pump runs one FIFO pass for the head request of ep.
func (c *Controller) pump(ep *endpoint) bool {
	id, ok := ep.head()
	if !ok {
		return false
	}
	r := c.reqs.get(id)
	if r == nil {
		ep.remove(id)
		return false
	}
	if ep.isIn {
		return c.writeFIFO(ep, id, r)
	}
	return c.readFIFO(ep, id, r)
}

// readFIFO pulls one OUT packet into r. It reports whether r completed.
func (c *Controller) readFIFO(ep *endpoint, id RequestID, r *Request) bool {
	slot := ep.rxSlot()
	if !c.rxReady(slot) {
		return false
	}

	mp := int(ep.maxPacket)
	space := len(r.Buf) - r.Actual
	count := mp
	if count > space {
		count = space
	}

	got := c.drain(slot, r.Buf[r.Actual:r.Actual+count])
	overflow := false
	if got == count && count < mp {
		// The buffer is full; any byte still in the packet is lost.
		overflow = c.bus.Read16(slot.DataOf())&regs.DataNone == 0
	}
	c.release(slot)

	r.Actual += got
	c.stats.bytesOut.Add(int64(got))

	isDone := got < mp || got == space
	if got == space && got == mp && r.Zero {
		isDone = false
	}
	if overflow {
		pkg.LogWarn(pkg.ComponentEndpoint, "buffer overflow", "ep", ep.name, "actual", r.Actual)
		r.Status = pkg.StatusOverflow
		isDone = true
	} else if isDone && r.ShortNotOK && r.Actual < len(r.Buf) {
		r.Status = pkg.StatusShortPacket
	}

	pkg.LogPacket(ep.name, "out", got, isDone)
	if isDone {
		c.done(ep, id, r, pkg.StatusSuccess)
	}
	return isDone
}

// writeFIFO loads one IN packet from r. It reports whether r completed,
// either because its last packet went out or because the FIFO filled early
// and the request was aborted.
func (c *Controller) writeFIFO(ep *endpoint, id RequestID, r *Request) bool {
	slot := ep.slot
	if c.stat(slot)&regs.StatFull != 0 {
		c.flush(slot)
		c.control(slot, regs.CtlArm)
		return false
	}
	if c.inBusy(slot) {
		return false
	}

	mp := int(ep.maxPacket)
	total := len(r.Buf) - r.Actual
	var count int
	var isLast bool
	if mp < total {
		count = mp
	} else {
		count = total
		isLast = count < mp || !r.Zero
	}

	c.control(slot, regs.CtlLoad)
	data := slot.DataOf()
	n := 0
	for ; n < count; n++ {
		if c.stat(slot)&regs.StatFull != 0 {
			break
		}
		c.bus.Write8(data, r.Buf[r.Actual+n])
	}
	if ep.id == EP0 {
		// The control OUT FIFO stays blocked until it is recycled after
		// every IN load.
		c.release(regs.SlotEP0R)
	}
	c.flush(slot)
	c.control(slot, regs.CtlArm)

	r.Actual += n
	c.stats.bytesIn.Add(int64(n))
	if n < count {
		pkg.LogWarn(pkg.ComponentEndpoint, "fifo full mid-packet", "ep", ep.name, "written", n, "want", count)
		c.done(ep, id, r, pkg.StatusConnReset)
		return true
	}

	pkg.LogPacket(ep.name, "in", n, isLast)
	if isLast {
		c.done(ep, id, r, pkg.StatusSuccess)
	}
	return isLast
}
