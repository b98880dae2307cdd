// Package validation provides reusable input validation functions for meshlink.
// All validators follow a consistent pattern: they return nil on success and a
// descriptive error on failure. Validators that parse return the parsed value too.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// Common validation errors. These are sentinel errors that can be checked with errors.Is().
var (
	// ErrRequired indicates a required field is missing or empty.
	ErrRequired = errors.New("field is required")

	// ErrTooLong indicates a string exceeds the maximum length.
	ErrTooLong = errors.New("value exceeds maximum length")

	// ErrInvalidFormat indicates a value doesn't match the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrOutOfRange indicates a numeric value is outside the allowed range.
	ErrOutOfRange = errors.New("value out of range")

	// ErrUnsupported indicates a value is not one of the supported choices.
	ErrUnsupported = errors.New("unsupported value")
)

// Constraints for common field types.
const (
	// MaxIdentityLength is the maximum length for token, device name and device ID.
	MaxIdentityLength = 128
)

// Result represents a validation result with field context.
type Result struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (r *Result) Error() string {
	if r.Field != "" {
		return fmt.Sprintf("%s: %s", r.Field, r.Message)
	}
	return r.Message
}

// Unwrap returns the underlying error for errors.Is() support.
func (r *Result) Unwrap() error {
	return r.Err
}

// NewResult creates a validation result.
func NewResult(field, message string, err error) *Result {
	return &Result{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// Required validates that a string is non-empty.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewResult(field, "is required", ErrRequired)
	}
	return nil
}

// MaxLength validates that a string doesn't exceed the maximum length.
func MaxLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return NewResult(field, fmt.Sprintf("exceeds maximum length of %d characters", max), ErrTooLong)
	}
	return nil
}

// Identity validates a required identity string (token, name, device ID).
func Identity(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}
	return MaxLength(field, value, MaxIdentityLength)
}

// IntRange validates that an integer is within the given range (inclusive).
func IntRange(field string, value, min, max int) error {
	if value < min || value > max {
		return NewResult(field, fmt.Sprintf("must be between %d and %d", min, max), ErrOutOfRange)
	}
	return nil
}

// Probability validates that a value lies in [0,1].
func Probability(field string, value float64) error {
	// NaN fails both comparisons, so test the accepted range explicitly.
	if !(value >= 0 && value <= 1) {
		return NewResult(field, "must be between 0 and 1", ErrOutOfRange)
	}
	return nil
}

// OneOf validates that value (compared case-insensitively, trimmed) is one of choices.
// It returns the normalized value.
func OneOf(field, value string, choices ...string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, c := range choices {
		if v == c {
			return v, nil
		}
	}
	return "", NewResult(field,
		fmt.Sprintf("%q is not supported, expected one of %s", value, strings.Join(choices, "/")),
		ErrUnsupported)
}

// CIDR validates a CIDR notation string and returns the masked prefix.
func CIDR(field, value string) (netip.Prefix, error) {
	if err := Required(field, value); err != nil {
		return netip.Prefix{}, err
	}

	prefix, err := netip.ParsePrefix(strings.TrimSpace(value))
	if err != nil {
		return netip.Prefix{}, NewResult(field, "must be valid CIDR notation (e.g., 10.0.0.0/8)", ErrInvalidFormat)
	}

	return prefix.Masked(), nil
}

// IPv4 validates an IPv4 address literal.
func IPv4(field, value string) (netip.Addr, error) {
	if err := Required(field, value); err != nil {
		return netip.Addr{}, err
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil || !addr.Is4() {
		return netip.Addr{}, NewResult(field, "must be an IPv4 address", ErrInvalidFormat)
	}
	return addr, nil
}

// HostPort validates a host:port address.
func HostPort(field, value string) error {
	if err := Required(field, value); err != nil {
		return err
	}

	host, port, err := net.SplitHostPort(value)
	if err != nil || host == "" || port == "" {
		return NewResult(field, "must be in host:port format", ErrInvalidFormat)
	}

	return nil
}

// ListenPort validates a local port to bind. Zero asks the system for an
// ephemeral port.
func ListenPort(field string, value int) error {
	if value < 0 || value > 65535 {
		return NewResult(field, "must be between 0 (ephemeral) and 65535", ErrOutOfRange)
	}
	return nil
}

// Errors collects multiple validation errors.
type Errors []error

// Add appends an error to the collection (nil errors are ignored).
func (e *Errors) Add(err error) {
	if err != nil {
		*e = append(*e, err)
	}
}

// HasErrors returns true if any errors were collected.
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Error returns all errors as a single error message.
func (e Errors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("multiple validation errors: ")
	for i, err := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e Errors) Unwrap() []error {
	return e
}

// First returns the first error, or nil if none.
func (e Errors) First() error {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}

// Fields returns the names of the fields that failed, in order.
func (e Errors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		var r *Result
		if errors.As(err, &r) {
			fields = append(fields, r.Field)
		}
	}
	return fields
}

// Err returns the collection as an error, or nil when empty.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}
