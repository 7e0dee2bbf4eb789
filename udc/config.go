package udc

import (
	"fmt"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc/hal"
	"github.com/ardnew/softudc/udc/regs"
	"github.com/ardnew/softudc/usb"
)

// Defaults used by DefaultConfig.
const (
	// DefaultRescans bounds how many times one interrupt re-scans every
	// endpoint. Pumping can make more work visible, so a single pass is not
	// enough; an unbounded loop can livelock the interrupt context.
	DefaultRescans = 4

	// DefaultMaxRequests is the size of the request arena.
	DefaultMaxRequests = 32
)

// EndpointConfig describes one hardware endpoint.
type EndpointConfig struct {
	Name           string    // gadget-visible name, e.g. "ep1in-bulk"
	Address        uint8     // USB address including the direction bit; 0 for ep0
	Slot           regs.Slot // register slot; ep0 uses its IN slot
	MaxPacket      uint16    // FIFO depth, the ceiling for negotiated sizes
	DoubleBuffered bool      // required for isochronous use
}

// Config holds controller construction parameters.
type Config struct {
	Line        int              // interrupt block line
	Rescans     int              // re-scan passes per interrupt
	Endpoints   []EndpointConfig // Endpoints[0] must be ep0
	MaxRequests int              // request arena size
	Speed       hal.Speed        // speed reported once a gadget is bound
}

// DefaultConfig returns the board's endpoint layout: ep0, one bulk OUT and
// one bulk IN endpoint, each 64 bytes deep.
func DefaultConfig() Config {
	return Config{
		Line:    regs.DefaultIRQLine,
		Rescans: DefaultRescans,
		Endpoints: []EndpointConfig{
			{Name: "ep0", Address: 0x00, Slot: regs.SlotEP0W, MaxPacket: regs.MaxPacket},
			{Name: "ep2out-bulk", Address: 0x02, Slot: regs.SlotEP2R, MaxPacket: regs.MaxPacket},
			{Name: "ep1in-bulk", Address: 0x81, Slot: regs.SlotEP1W, MaxPacket: regs.MaxPacket},
		},
		MaxRequests: DefaultMaxRequests,
		Speed:       hal.SpeedFull,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Rescans < 1 {
		return fmt.Errorf("rescans %d: %w", c.Rescans, pkg.ErrInvalidParameter)
	}
	if c.MaxRequests < 1 {
		return fmt.Errorf("max requests %d: %w", c.MaxRequests, pkg.ErrInvalidParameter)
	}
	if c.Speed == hal.SpeedUnknown {
		return fmt.Errorf("speed %s: %w", c.Speed, pkg.ErrInvalidParameter)
	}
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("no endpoints: %w", pkg.ErrInvalidParameter)
	}

	ep0 := c.Endpoints[0]
	if ep0.Address != 0 || ep0.Slot != regs.SlotEP0W {
		return fmt.Errorf("endpoint 0 must be ep0 on %s: %w", regs.SlotEP0W, pkg.ErrInvalidParameter)
	}

	names := make(map[string]bool, len(c.Endpoints))
	slots := make(map[regs.Slot]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" || names[ep.Name] {
			return fmt.Errorf("endpoint %d name %q: %w", i, ep.Name, pkg.ErrInvalidParameter)
		}
		names[ep.Name] = true
		if ep.Slot >= regs.NumSlots || slots[ep.Slot] {
			return fmt.Errorf("endpoint %s slot %d: %w", ep.Name, ep.Slot, pkg.ErrInvalidParameter)
		}
		slots[ep.Slot] = true
		if ep.MaxPacket == 0 || ep.MaxPacket > regs.MaxPacket {
			return fmt.Errorf("endpoint %s max packet %d: %w", ep.Name, ep.MaxPacket, pkg.ErrInvalidParameter)
		}
		if i == 0 {
			continue
		}
		if ep.Slot == regs.SlotEP0R {
			return fmt.Errorf("endpoint %s on the control OUT slot: %w", ep.Name, pkg.ErrInvalidParameter)
		}
		isIn := ep.Address&usb.EndpointDirectionIn != 0
		if isIn != ep.Slot.IsIn() || ep.Address&usb.EndpointNumberMask == 0 {
			return fmt.Errorf("endpoint %s address 0x%02X on %s: %w", ep.Name, ep.Address, ep.Slot, pkg.ErrInvalidParameter)
		}
	}
	return nil
}
