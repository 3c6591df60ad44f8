// Package fault tags errors with the wire-level code the control plane
// reports them under. Codes survive wrapping, so validation errors keep
// their code from the point of origin to the RPC boundary.
package fault

import (
	"github.com/cockroachdb/errors"
)

// Code is a stable machine-readable error class.
type Code string

const (
	BadRequest       Code = "BAD_REQUEST"
	NotFound         Code = "NOT_FOUND"
	InvalidState     Code = "INVALID_STATE"
	InvalidTime      Code = "INVALID_TIME"
	ForbiddenPath    Code = "FORBIDDEN_PATH"
	PayloadTooLarge  Code = "PAYLOAD_TOO_LARGE"
	UnsupportedMedia Code = "UNSUPPORTED_MEDIA"
	Internal         Code = "INTERNAL"
)

type coded struct {
	cause error
	code  Code
}

func (c *coded) Error() string { return c.cause.Error() }
func (c *coded) Unwrap() error { return c.cause }

// New returns a new error tagged with code.
func New(code Code, format string, args ...any) error {
	return &coded{cause: errors.Newf(format, args...), code: code}
}

// Wrap tags err with code, keeping the original chain. Nil in, nil out.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &coded{cause: errors.Wrap(err, msg), code: code}
}

// CodeOf extracts the nearest code tag in the chain, defaulting to
// Internal for untagged errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c *coded
	if errors.As(err, &c) {
		return c.code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool { return err != nil && CodeOf(err) == code }
