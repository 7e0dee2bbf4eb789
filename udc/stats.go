package udc

import (
	"fmt"
	"time"

	"github.com/paulbellamy/ratecounter"
	"go.uber.org/atomic"
)

// counters is the controller's running tally.
type counters struct {
	interrupts atomic.Int64
	skipped    atomic.Int64
	setups     atomic.Int64
	stalls     atomic.Int64
	completed  atomic.Int64
	bytesIn    atomic.Int64
	bytesOut   atomic.Int64
	rate       *ratecounter.RateCounter
}

func newCounters() *counters {
	return &counters{rate: ratecounter.NewRateCounter(time.Second)}
}

// Stats is a snapshot of controller activity since New.
type Stats struct {
	Interrupts    int64 // interrupts dispatched
	Skipped       int64 // interrupts that caused no rescan
	Setups        int64 // well-formed setup packets decoded
	Stalls        int64 // control transfers failed with a stall
	Completed     int64 // requests completed, any status
	BytesIn       int64 // bytes loaded into IN FIFOs
	BytesOut      int64 // bytes drained from OUT FIFOs
	InterruptRate int64 // interrupts over the last second
}

// String formats the snapshot on one line.
func (s Stats) String() string {
	return fmt.Sprintf("irq=%d (%d/s) skipped=%d setups=%d stalls=%d completed=%d in=%dB out=%dB",
		s.Interrupts, s.InterruptRate, s.Skipped, s.Setups, s.Stalls, s.Completed, s.BytesIn, s.BytesOut)
}

// Stats returns a snapshot of the controller's counters. It is safe to call
// from any goroutine.
func (c *Controller) Stats() Stats {
	st := c.stats
	return Stats{
		Interrupts:    st.interrupts.Load(),
		Skipped:       st.skipped.Load(),
		Setups:        st.setups.Load(),
		Stalls:        st.stalls.Load(),
		Completed:     st.completed.Load(),
		BytesIn:       st.bytesIn.Load(),
		BytesOut:      st.bytesOut.Load(),
		InterruptRate: st.rate.Rate(),
	}
}
