package pkg

import "errors"

// Controller and endpoint errors.
var (
	// ErrInvalidParameter indicates a bad endpoint, request, or descriptor.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidEndpoint indicates an endpoint handle that does not exist.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidRequest indicates a request handle that is stale or unknown.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotReady indicates the controller is not bound or not clocked.
	ErrNotReady = errors.New("controller not ready")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrProtocol indicates a malformed or rejected control transfer.
	ErrProtocol = errors.New("protocol error")

	// ErrOverflow indicates OUT data exceeded the request buffer.
	ErrOverflow = errors.New("data overflow")

	// ErrShortPacket indicates a short OUT packet on a request that forbids one.
	ErrShortPacket = errors.New("short packet")

	// ErrConnReset indicates a request was aborted by dequeue or a FIFO abort.
	ErrConnReset = errors.New("connection reset")

	// ErrShutdown indicates a request was flushed by endpoint disable or disconnect.
	ErrShutdown = errors.New("endpoint shutdown")

	// ErrNoDevice indicates no gadget driver is bound.
	ErrNoDevice = errors.New("no gadget driver")

	// ErrNoResources indicates the request arena is exhausted.
	ErrNoResources = errors.New("no resources available")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrAlreadyRunning indicates a gadget driver is already bound.
	ErrAlreadyRunning = errors.New("already running")

	// ErrHardwareFault indicates the controller behaved in a way the driver
	// cannot reconcile. It is never returned; it is the panic payload.
	ErrHardwareFault = errors.New("hardware inconsistency")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// RequestStatus represents the completion status of a transfer request.
type RequestStatus int

// Request status values.
const (
	StatusInProgress  RequestStatus = iota // Queued or being pumped
	StatusSuccess                          // Completed normally
	StatusProtocol                         // Control transfer stalled
	StatusOverflow                         // OUT packet larger than buffer space
	StatusShortPacket                      // Short OUT packet with ShortNotOK set
	StatusConnReset                        // Dequeued or aborted mid-packet
	StatusShutdown                         // Flushed by disable or disconnect
)

// String returns a string representation of the request status.
func (s RequestStatus) String() string {
	switch s {
	case StatusInProgress:
		return "in-progress"
	case StatusSuccess:
		return "success"
	case StatusProtocol:
		return "protocol"
	case StatusOverflow:
		return "overflow"
	case StatusShortPacket:
		return "short"
	case StatusConnReset:
		return "reset"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the request status.
func (s RequestStatus) Error() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusInProgress:
		return ErrBusy
	case StatusOverflow:
		return ErrOverflow
	case StatusShortPacket:
		return ErrShortPacket
	case StatusConnReset:
		return ErrConnReset
	case StatusShutdown:
		return ErrShutdown
	default:
		return ErrProtocol
	}
}

// Done reports whether the status is final.
func (s RequestStatus) Done() bool {
	return s != StatusInProgress
}
