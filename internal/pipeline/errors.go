package pipeline

import (
	"errors"
	"fmt"

	"github.com/dunamismax/resizeflow/internal/domain"
)

var (
	ErrUnrecognizedFormat = errors.New("unrecognized image format")
	ErrInvalidConfig      = domain.ErrInvalidConfig
	// ErrFormatUnavailable marks a codec that is not compiled into this build.
	ErrFormatUnavailable = errors.New("format unavailable in this build")
)

// DecodeError reports bytes that matched a signature but could not be decoded.
type DecodeError struct {
	Format Format
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Format, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError reports a raster that could not be serialized to the target format.
type EncodeError struct {
	Format Format
	Reason string
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode %s: %s: %v", e.Format, e.Reason, e.Err)
	}
	return fmt.Sprintf("encode %s: %s", e.Format, e.Reason)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

func decodeErr(format Format, reason string, err error) error {
	return &DecodeError{Format: format, Reason: reason, Err: err}
}

func encodeErr(format Format, reason string, err error) error {
	return &EncodeError{Format: format, Reason: reason, Err: err}
}
