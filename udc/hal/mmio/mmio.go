//go:build tinygo

package mmio

import (
	"runtime/volatile"
	"unsafe"

	"github.com/ardnew/softudc/udc/hal"
)

// Bus is a register block at a fixed physical address.
type Bus struct {
	base uintptr
}

// New returns a Bus for the register block starting at base.
func New(base uintptr) *Bus {
	return &Bus{base: base}
}

func (b *Bus) reg8(off uint16) *volatile.Register8 {
	return (*volatile.Register8)(unsafe.Pointer(b.base + uintptr(off)))
}

func (b *Bus) reg16(off uint16) *volatile.Register16 {
	return (*volatile.Register16)(unsafe.Pointer(b.base + uintptr(off)))
}

// Read8 implements hal.Bus.
func (b *Bus) Read8(off uint16) uint8 { return b.reg8(off).Get() }

// Write8 implements hal.Bus.
func (b *Bus) Write8(off uint16, v uint8) { b.reg8(off).Set(v) }

// Read16 implements hal.Bus.
func (b *Bus) Read16(off uint16) uint16 { return b.reg16(off).Get() }

// Write16 implements hal.Bus.
func (b *Bus) Write16(off uint16, v uint16) { b.reg16(off).Set(v) }

var _ hal.Bus = (*Bus)(nil)
