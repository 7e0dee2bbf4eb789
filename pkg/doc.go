// Package pkg provides shared utilities for the softudc controller engine.
//
// This package contains functionality used by the controller core, its
// register backends, and gadget drivers:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for controller and request failures
//   - [RequestStatus], the completion status carried by every request
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentUDC, "gadget bound", "driver", "zero")
//
// FIFO pumps are traced with [LogPacket] at debug level.
//
// # Errors
//
// Failures are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrBusy) {
//	    // IN endpoint still has data in flight
//	}
package pkg
