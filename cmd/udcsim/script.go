package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/shlex"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/usb"
)

// opcode names one host action.
type opcode int

const (
	opEnumerate opcode = iota
	opGetDescriptor
	opSetAddress
	opSetConfig
	opControl
	opSend
	opExpect
	opHalt
	opClear
	opReset
	opSuspend
	opWakeup
	opSleep
	opStats
)

var opcodes = map[string]struct {
	op      opcode
	minArgs int
	maxArgs int
}{
	"enumerate":      {opEnumerate, 0, 1},
	"get-descriptor": {opGetDescriptor, 3, 3},
	"set-address":    {opSetAddress, 1, 1},
	"set-config":     {opSetConfig, 1, 1},
	"control":        {opControl, 5, 6},
	"send":           {opSend, 1, 1},
	"expect":         {opExpect, 1, 1},
	"halt":           {opHalt, 1, 1},
	"clear":          {opClear, 1, 1},
	"reset":          {opReset, 0, 0},
	"suspend":        {opSuspend, 0, 0},
	"wakeup":         {opWakeup, 0, 0},
	"sleep":          {opSleep, 1, 1},
	"stats":          {opStats, 0, 0},
}

// step is one parsed script line.
type step struct {
	line  int
	name  string
	op    opcode
	setup usb.SetupPacket
	data  []byte
	addr  uint8
	delay time.Duration
}

func (s step) String() string {
	return fmt.Sprintf("%d: %s", s.line, s.name)
}

// parseScript reads one command per line. Words are split with shell
// quoting rules and '#' starts a comment.
func parseScript(r io.Reader) ([]step, error) {
	var steps []step
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		words, err := shlex.Split(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if len(words) == 0 {
			continue
		}
		s, err := parseStep(words[0], words[1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		s.line = n
		steps = append(steps, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseStep(name string, args []string) (step, error) {
	def, ok := opcodes[name]
	if !ok {
		return step{}, fmt.Errorf("unknown command %q: %w", name, pkg.ErrInvalidParameter)
	}
	if len(args) < def.minArgs || len(args) > def.maxArgs {
		return step{}, fmt.Errorf("%s: %d arguments: %w", name, len(args), pkg.ErrInvalidParameter)
	}
	s := step{name: name, op: def.op}

	var err error
	switch def.op {
	case opEnumerate:
		s.addr = 1
		if len(args) == 1 {
			s.addr, err = parseUint8(args[0])
		}
	case opGetDescriptor:
		var typ, idx uint8
		var length uint16
		if typ, err = parseUint8(args[0]); err != nil {
			break
		}
		if idx, err = parseUint8(args[1]); err != nil {
			break
		}
		if length, err = parseUint16(args[2]); err != nil {
			break
		}
		usb.GetDescriptorSetup(&s.setup, typ, idx, length)
	case opSetAddress:
		if s.addr, err = parseUint8(args[0]); err == nil && s.addr > 127 {
			err = fmt.Errorf("address %d: %w", s.addr, pkg.ErrInvalidParameter)
		}
		usb.SetAddressSetup(&s.setup, s.addr)
	case opSetConfig:
		var cfg uint8
		cfg, err = parseUint8(args[0])
		usb.SetConfigurationSetup(&s.setup, cfg)
	case opControl:
		s.setup, s.data, err = parseControl(args)
	case opSend, opExpect:
		s.data = []byte(args[0])
	case opHalt, opClear:
		s.addr, err = parseUint8(args[0])
	case opSleep:
		s.delay, err = time.ParseDuration(args[0])
	}
	if err != nil {
		return step{}, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// parseControl parses "bmRequestType bRequest wValue wIndex wLength [data]".
// The optional data is the OUT data stage.
func parseControl(args []string) (usb.SetupPacket, []byte, error) {
	var pkt usb.SetupPacket
	var err error
	if pkt.RequestType, err = parseUint8(args[0]); err != nil {
		return pkt, nil, err
	}
	if pkt.Request, err = parseUint8(args[1]); err != nil {
		return pkt, nil, err
	}
	if pkt.Value, err = parseUint16(args[2]); err != nil {
		return pkt, nil, err
	}
	if pkt.Index, err = parseUint16(args[3]); err != nil {
		return pkt, nil, err
	}
	if pkt.Length, err = parseUint16(args[4]); err != nil {
		return pkt, nil, err
	}
	if len(args) < 6 {
		return pkt, nil, nil
	}
	if pkt.IsDeviceToHost() {
		return pkt, nil, fmt.Errorf("data stage on IN request: %w", pkg.ErrInvalidParameter)
	}
	data := []byte(args[5])
	if len(data) != int(pkt.Length) {
		return pkt, nil, fmt.Errorf("data length %d, wLength %d: %w",
			len(data), pkt.Length, pkg.ErrInvalidParameter)
	}
	return pkt, data, nil
}

func parseUint8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	return uint8(v), err
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}
