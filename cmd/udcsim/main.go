// Command udcsim drives the device controller against a simulated register
// block with a scripted host.
//
// The loopback gadget is bound to the controller, then the script is played
// by a host goroutine while a second goroutine stands in for the interrupt
// line and runs the controller's interrupt handler.
//
// Usage:
//
//	udcsim [options] [script]
//
// The script is read from standard input when no file is given. Each line
// holds one command:
//
//	enumerate [address]                    standard enumeration
//	get-descriptor <type> <index> <length> control read of a descriptor
//	set-address <address>
//	set-config <value>
//	control <type> <req> <value> <index> <length> [data]
//	send <text>                            bulk OUT
//	expect <text>                          bulk IN, compared with text
//	halt <ep> | clear <ep>                 endpoint halt feature
//	reset | suspend | wakeup               bus events
//	sleep <duration>
//	stats
//
// Options:
//
//	-v             Enable verbose (debug) logging
//	-json          Use JSON log format
//	-rescans n     Rescans per interrupt (default: 4)
//	-timeout d     Abort the script after d (default: 10s)
//	-vid, -pid     Gadget vendor and product IDs
//	-out, -in      Bulk endpoint names used by send and expect
//	-cpuprofile f  Write a CPU profile to f
//	-memprofile f  Write a heap profile to f
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/softudc/gadget/zero"
	"github.com/ardnew/softudc/pkg"
	"github.com/ardnew/softudc/pkg/prof"
	"github.com/ardnew/softudc/udc"
	"github.com/ardnew/softudc/udc/hal/irqc"
	"github.com/ardnew/softudc/udc/hal/sim"
	"github.com/ardnew/softudc/udc/regs"
)

// options holds the parsed command line.
type options struct {
	rescans int
	timeout time.Duration
	vid     uint
	pid     uint
	outName string
	inName  string
}

func main() {
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	cpuProfile := flag.String("cpuprofile", "", "write a CPU profile to `file`")
	memProfile := flag.String("memprofile", "", "write a heap profile to `file`")
	var opts options
	flag.IntVar(&opts.rescans, "rescans", udc.DefaultRescans, "rescans per interrupt")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "abort the script after this long")
	flag.UintVar(&opts.vid, "vid", zero.DefaultVendorID, "gadget vendor ID")
	flag.UintVar(&opts.pid, "pid", zero.DefaultProductID, "gadget product ID")
	flag.StringVar(&opts.outName, "out", "ep2out-bulk", "bulk OUT endpoint")
	flag.StringVar(&opts.inName, "in", "ep1in-bulk", "bulk IN endpoint")
	flag.Parse()

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	script := io.Reader(os.Stdin)
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			pkg.LogError(component, "failed to open script", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		script = f
	}
	steps, err := parseScript(script)
	if err != nil {
		pkg.LogError(component, "failed to parse script", "error", err)
		os.Exit(1)
	}

	session, err := prof.Start(*cpuProfile, *memProfile)
	if err != nil {
		pkg.LogError(component, "failed to start profiling", "error", err)
		os.Exit(1)
	}

	err = run(context.Background(), opts, steps, os.Stdout)
	if perr := session.Stop(); perr != nil {
		pkg.LogWarn(component, "failed to write profile", "error", perr)
	}
	if err != nil {
		pkg.LogError(component, "script failed", "error", err)
		os.Exit(1)
	}
}

// run builds the simulated controller, binds the loopback gadget and plays
// steps.
func run(ctx context.Context, opts options, steps []step, w io.Writer) error {
	cfg := udc.DefaultConfig()
	cfg.Rescans = opts.rescans

	outSlot, ok := slotOf(cfg, opts.outName)
	if !ok {
		return fmt.Errorf("endpoint %q: %w", opts.outName, pkg.ErrInvalidEndpoint)
	}
	inSlot, ok := slotOf(cfg, opts.inName)
	if !ok {
		return fmt.Errorf("endpoint %q: %w", opts.inName, pkg.ErrInvalidEndpoint)
	}

	dev := sim.New(sim.WithoutLog())
	c, err := udc.New(dev, irqc.New(dev.IRQBlock()), cfg)
	if err != nil {
		return err
	}
	g := zero.New(
		zero.WithIDs(uint16(opts.vid), uint16(opts.pid)),
		zero.WithEndpoints(opts.outName, opts.inName),
	)
	if err := c.Bind(g); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()

	r := newRunner(dev, c, w, outSlot, inSlot)
	eg.Go(func() error { return r.serve(serveCtx) })
	eg.Go(func() error {
		defer stop()
		return r.play(ctx, steps)
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	// The interrupt goroutine has exited; the controller is ours again.
	if err := c.Unbind(); err != nil {
		return err
	}
	fmt.Fprintf(w, "gadget: echoed %d bytes in %d packets, %d requests rejected\n",
		g.Echoed(), g.Packets(), g.Rejected())
	fmt.Fprintf(w, "controller: %s\n", c.Stats())
	return nil
}

// slotOf returns the FIFO slot of the named endpoint.
func slotOf(cfg udc.Config, name string) (regs.Slot, bool) {
	for _, ep := range cfg.Endpoints {
		if ep.Name == name {
			return ep.Slot, true
		}
	}
	return 0, false
}
