package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/udc"
	"github.com/ardnew/softudc/usb"
)

func TestParseScript(t *testing.T) {
	src := `
# enumerate at a fixed address
enumerate 5
get-descriptor 0x01 0 18   # device
control 0x40 0x01 0 0 3 "a b"
send 'hello world'
sleep 1ms
stats
`
	steps, err := parseScript(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parseScript() error = %v", err)
	}

	want := []struct {
		line int
		op   opcode
	}{
		{3, opEnumerate},
		{4, opGetDescriptor},
		{5, opControl},
		{6, opSend},
		{7, opSleep},
		{8, opStats},
	}
	if len(steps) != len(want) {
		t.Fatalf("parseScript() = %d steps, want %d", len(steps), len(want))
	}
	for i, w := range want {
		if steps[i].line != w.line || steps[i].op != w.op {
			t.Errorf("step %d = line %d op %d, want line %d op %d",
				i, steps[i].line, steps[i].op, w.line, w.op)
		}
	}

	if steps[0].addr != 5 {
		t.Errorf("enumerate address = %d, want 5", steps[0].addr)
	}
	gd := steps[1].setup
	if gd.Request != usb.RequestGetDescriptor || gd.Value != 0x0100 || gd.Length != 18 {
		t.Errorf("get-descriptor setup = %s", gd.String())
	}
	ctl := steps[2]
	if ctl.setup.RequestType != 0x40 || ctl.setup.Length != 3 || string(ctl.data) != "a b" {
		t.Errorf("control = %s data %q", ctl.setup.String(), ctl.data)
	}
	if got := string(steps[3].data); got != "hello world" {
		t.Errorf("send data = %q, want %q", got, "hello world")
	}
	if steps[4].delay != time.Millisecond {
		t.Errorf("sleep delay = %v, want 1ms", steps[4].delay)
	}
}

func TestParseScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown command", "bogus"},
		{"missing argument", "send"},
		{"extra argument", "reset now"},
		{"bad number", "set-config one"},
		{"number overflow", "halt 0x100"},
		{"address out of range", "set-address 200"},
		{"bad duration", "sleep soon"},
		{"unterminated quote", `send "abc`},
		{"data on IN request", "control 0x80 6 0x100 0 2 ab"},
		{"data length mismatch", "control 0x40 1 0 0 4 ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseScript(strings.NewReader(tt.src)); err == nil {
				t.Errorf("parseScript(%q) succeeded", tt.src)
			}
		})
	}
}

func testOptions() options {
	return options{
		rescans: udc.DefaultRescans,
		timeout: 5 * time.Second,
		vid:     0x1209,
		pid:     0x0001,
		outName: "ep2out-bulk",
		inName:  "ep1in-bulk",
	}
}

func runScript(t *testing.T, src string) (string, error) {
	t.Helper()
	steps, err := parseScript(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parseScript() error = %v", err)
	}
	var out bytes.Buffer
	err = run(context.Background(), testOptions(), steps, &out)
	return out.String(), err
}

func TestRunLoopback(t *testing.T) {
	out, err := runScript(t, `
enumerate 5
control 0xC0 0x42 0 0 4
send hello
expect hello
halt 0x81
clear 0x81
suspend
wakeup
send "two words"
expect "two words"
`)
	if err != nil {
		t.Fatalf("run() error = %v\n%s", err, out)
	}

	for _, want := range []string{
		"enumerate: address 5 vid 1209 pid 0001 config 1 (32 bytes)",
		"control: STALL",
		"expect: 5 bytes ok",
		"halt: ok",
		"clear: ok",
		"expect: 9 bytes ok",
		"gadget: echoed 14 bytes in 2 packets, 1 requests rejected",
		"controller: ",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunMismatch(t *testing.T) {
	out, err := runScript(t, `
enumerate
send abc
expect abd
`)
	if !errors.Is(err, errMismatch) {
		t.Errorf("run() error = %v, want errMismatch\n%s", err, out)
	}
}

func TestRunUnconfiguredEcho(t *testing.T) {
	_, err := runScript(t, `
send abc
expect abc
`)
	if !errors.Is(err, errNoData) {
		t.Errorf("run() error = %v, want errNoData", err)
	}
}

func TestRunUnknownEndpoint(t *testing.T) {
	opts := testOptions()
	opts.inName = "ep7in"
	err := run(context.Background(), opts, nil, &bytes.Buffer{})
	if !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("run() error = %v, want ErrInvalidEndpoint", err)
	}
}
