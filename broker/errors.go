package broker

import "errors"

// Sentinel errors forming the taxonomy from spec.md §7. Broker methods
// wrap these with fmt.Errorf("%w: ...") so callers can errors.Is against
// the category while still getting a human-readable cause.
var (
	// ErrInvalidArg is returned for null or out-of-domain caller inputs.
	ErrInvalidArg = errors.New("gwbroker: invalid argument")

	// ErrNotFound is returned when a module or link is not present in
	// the registry.
	ErrNotFound = errors.New("gwbroker: not found")

	// ErrAllocFailed is returned when an allocation fails at an
	// add-module or add-link step.
	ErrAllocFailed = errors.New("gwbroker: allocation failed")

	// ErrPlatformError is returned when a lock, socket, goroutine
	// spawn, or I/O call fails underneath the broker.
	ErrPlatformError = errors.New("gwbroker: platform error")
)

// LinkError scopes one of the sentinels above with the link it was
// raised for, per spec.md §7's AddLinkError/RemoveLinkError.
type LinkError struct {
	Op     string // "add_link" or "remove_link"
	Source Handle
	Sink   Handle
	Err    error
}

func (e *LinkError) Error() string {
	return e.Op + ": " + e.Source.String() + " -> " + e.Sink.String() + ": " + e.Err.Error()
}

func (e *LinkError) Unwrap() error { return e.Err }

func addLinkError(source, sink Handle, err error) error {
	return &LinkError{Op: "add_link", Source: source, Sink: sink, Err: err}
}

func removeLinkError(source, sink Handle, err error) error {
	return &LinkError{Op: "remove_link", Source: source, Sink: sink, Err: err}
}
