package ai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed provider call.
type ErrorKind int

const (
	// CallTimeout: the deadline fired before the vendor answered.
	CallTimeout ErrorKind = iota + 1
	// CallVendor: the vendor answered with an API-level error.
	CallVendor
	// CallPayload: the task could not be turned into a request.
	CallPayload
	// CallTransport: the request never got a usable answer (DNS, proxy, TLS, reset).
	CallTransport
)

func (k ErrorKind) String() string {
	switch k {
	case CallTimeout:
		return "timeout"
	case CallVendor:
		return "vendor"
	case CallPayload:
		return "payload"
	case CallTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// CallError is returned by Provider.Generate and chat follow-ups.
type CallError struct {
	Kind   ErrorKind
	Vendor Vendor
	// Status is the vendor HTTP status when known.
	Status int
	Err    error
}

func (e *CallError) Error() string {
	prefix := e.Kind.String()
	if e.Vendor != "" {
		prefix = fmt.Sprintf("%s %s", e.Vendor, prefix)
	}
	if e.Status != 0 {
		prefix = fmt.Sprintf("%s (HTTP %d)", prefix, e.Status)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ErrDeadline is wrapped by the CallError the watchdog produces.
var ErrDeadline = errors.New("request deadline exceeded")

// NewTimeoutError is what the executor reports when its deadline fires.
func NewTimeoutError(vendor Vendor) *CallError {
	return &CallError{Kind: CallTimeout, Vendor: vendor, Err: ErrDeadline}
}

// KindOf returns the ErrorKind of err, or 0 when err is not a CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

func IsTimeout(err error) bool { return KindOf(err) == CallTimeout }

// InitError is fatal at startup: bad key, unreachable endpoint, unknown model.
type InitError struct {
	Vendor Vendor
	Model  string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("cannot initialize %s model %q: %v", e.Vendor, e.Model, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ErrEmptyResponse is reported as a vendor error when the reply trims to "".
var ErrEmptyResponse = errors.New("empty response")

// ErrNotInitialized means Generate or StartChat ran before Initialize.
var ErrNotInitialized = errors.New("provider not initialized")
