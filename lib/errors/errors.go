// Package errors provides structured error types for the meshlink overlay client.
//
// This package provides:
//   - Sentinel errors for conditions the control surface reports synchronously
//   - The closed fault taxonomy ([Kind]) used by the asynchronous error channel
//   - [Fault], the error value engines use to carry a wire fault code
//   - Total classification of arbitrary errors into a [Kind]
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates a resource is closed.
	ErrClosed = errors.New("closed")

	// ErrConnection indicates a connection error.
	ErrConnection = errors.New("connection error")

	// ErrConfiguration indicates a configuration failed validation.
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceExhausted indicates engine resources could not be acquired.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Session errors
var (
	// ErrPolicyRejected indicates the host declined a handshake or registration.
	// It is a normal protocol outcome, never delivered as an error notification.
	ErrPolicyRejected = errors.New("session: rejected by host policy")

	// ErrDeviceUnavailable indicates no usable tunnel device could be obtained.
	ErrDeviceUnavailable = errors.New("session: tunnel device unavailable")

	// ErrNoCandidates indicates no coordination server could be reached.
	ErrNoCandidates = fmt.Errorf("session: no reachable coordination server: %w", ErrConnection)

	// ErrSessionConfigRequired indicates a configuration is required.
	ErrSessionConfigRequired = fmt.Errorf("session: config %w", ErrInvalidInput)

	// ErrSessionHandlerRequired indicates an event handler is required.
	ErrSessionHandlerRequired = fmt.Errorf("session: handler %w", ErrInvalidInput)

	// ErrSessionEngineRequired indicates an engine factory is required.
	ErrSessionEngineRequired = fmt.Errorf("session: engine %w", ErrInvalidInput)
)

// Device errors
var (
	// ErrBadDescriptor indicates the host returned an unusable device descriptor.
	ErrBadDescriptor = errors.New("tunnel: invalid device descriptor")

	// ErrUnsupportedPlatform indicates the provider cannot serve this platform.
	ErrUnsupportedPlatform = errors.New("tunnel: operation not supported on this platform")
)

// Fault is an engine-side fault carrying a wire code and optional detail.
// Engines return or report it; the session classifies it with [FromCode].
type Fault struct {
	// Code is the engine fault code (see [Kind.Code]).
	Code int
	// Detail is free text from the engine, passed through unmodified.
	Detail string
	// Err is an optional underlying cause.
	Err error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	msg := fmt.Sprintf("fault %s", FromCode(f.Code))
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Kind returns the classified fault kind.
func (f *Fault) Kind() Kind {
	return FromCode(f.Code)
}

// NewFault creates a fault for the given kind and detail.
func NewFault(kind Kind, detail string) *Fault {
	return &Fault{Code: kind.Code(), Detail: detail}
}

// WrapFault wraps an existing error as a fault of the given kind.
func WrapFault(kind Kind, detail string, err error) *Fault {
	if err != nil {
		log.WithField("kind", kind.String()).WithError(err).Debug("wrapping fault")
	}
	return &Fault{Code: kind.Code(), Detail: detail, Err: err}
}

// KindOf classifies any error. A [*Fault] anywhere in the chain yields its
// kind, a connection error yields [Disconnected], anything else [Unknown].
// It never fails.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Kind()
	}
	if errors.Is(err, ErrConnection) {
		return Disconnected
	}
	return Unknown
}

// DetailOf returns the engine detail carried by err, or err's message when
// err carries no fault.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Detail
	}
	return err.Error()
}

// IsPolicyRejection returns true if the error is a host decision rejection.
func IsPolicyRejection(err error) bool {
	return errors.Is(err, ErrPolicyRejected)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
