package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedEncoding matches any *UnsupportedEncodingError via errors.Is.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	// ErrDecode matches any *DecodeError via errors.Is.
	ErrDecode = errors.New("decode failed")
	// ErrMissingField matches any *MissingFieldError via errors.Is.
	ErrMissingField = errors.New("required field missing")

	errEmptyPayload = errors.New("empty payload")
	errNilRecord    = errors.New("nil record")
)

// UnsupportedEncodingError is returned when an encoding identifier is not
// registered.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported encoding %q", e.Encoding)
}

func (e *UnsupportedEncodingError) Is(target error) bool {
	return target == ErrUnsupportedEncoding
}

// DecodeError is returned when a payload is not a valid record in the
// claimed encoding: bad framing, truncation, a missing required key, or a
// record that fails validation after decoding.
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// MissingFieldError reports a payload that parsed but lacks one of the
// required record keys. It always arrives wrapped in a *DecodeError.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}
